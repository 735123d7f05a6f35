package domain

import "encoding/binary"

// Purpose distinguishes the two signature shapes that share the
// HandshakeSignature tuple: the initial handshake and in-stream rekey.
// Two distinct purpose tags prevent a signature produced for one context
// from being replayed as the other.
type Purpose uint32

const (
	// PurposeHandshake tags the signature carried in the initial
	// Confirmation of a session.
	PurposeHandshake Purpose = 1

	// PurposeRekey tags the signature carried in a Rekey frame.
	PurposeRekey Purpose = 2
)

// HandshakeSignature is the tuple signed by a sender's long-term Ed25519
// private key, for both the initial handshake and rekey. Two peers verify
// against the same struct layout, only the Purpose and the ephemeral differ.
type HandshakeSignature struct {
	Purpose         Purpose
	Sender          PeerIdentity
	Receiver        PeerIdentity
	SenderEphemeral [32]byte
	MonotonicTime   uint64
}

// SigningBytes returns the exact byte sequence that is Ed25519-signed and
// verified for this tuple. The layout is fixed so both sides compute
// identical bytes: purpose(4) | sender(32) | receiver(32) | ephemeral(32) |
// monotonic_time(8), all big-endian.
func (s HandshakeSignature) SigningBytes() []byte {
	buf := make([]byte, 4+32+32+32+8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(s.Purpose))
	copy(buf[4:36], s.Sender[:])
	copy(buf[36:68], s.Receiver[:])
	copy(buf[68:100], s.SenderEphemeral[:])
	binary.BigEndian.PutUint64(buf[100:108], s.MonotonicTime)
	return buf
}

// Confirmation is the encrypted continuation of the initial handshake,
// carrying the sender's identity, its signature over the HandshakeSignature
// tuple, and a monotonic timestamp for replay checking (see ReplayStore).
type Confirmation struct {
	SenderPID     PeerIdentity
	SenderSig     [64]byte
	MonotonicTime uint64
}

// ConfirmationSize is the encoded size of a Confirmation on the wire:
// sender_pid(32) + sender_sig(64) + monotonic_time(8).
const ConfirmationSize = 32 + 64 + 8

// MarshalBinary encodes the Confirmation in the layout spec.md §6 fixes.
func (c Confirmation) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ConfirmationSize)
	copy(buf[0:32], c.SenderPID[:])
	copy(buf[32:96], c.SenderSig[:])
	binary.BigEndian.PutUint64(buf[96:104], c.MonotonicTime)
	return buf, nil
}

// UnmarshalBinary decodes a Confirmation from exactly ConfirmationSize bytes.
func (c *Confirmation) UnmarshalBinary(data []byte) error {
	if len(data) != ConfirmationSize {
		return ErrInvalidConfirmationSize
	}
	copy(c.SenderPID[:], data[0:32])
	copy(c.SenderSig[:], data[32:96])
	c.MonotonicTime = binary.BigEndian.Uint64(data[96:104])
	return nil
}
