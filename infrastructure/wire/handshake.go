package wire

import "meshline/domain"

// Handshake framing is sent once per direction, before any framed message:
// a plaintext 32-byte ephemeral public key, followed by an encrypted
// Confirmation. It has no type tag of its own — both sides know to expect
// it first, exactly once.
const (
	// EphemeralPrefixSize is the plaintext ephemeral public key length.
	EphemeralPrefixSize = 32

	// HandshakeFrameSize is EphemeralPrefixSize + domain.ConfirmationSize,
	// i.e. 32 + 104 = 136 bytes total, matching spec.md §6.
	HandshakeFrameSize = EphemeralPrefixSize + domain.ConfirmationSize
)

// SplitHandshake splits a received 136-byte handshake frame into its
// plaintext ephemeral-key prefix and its still-encrypted Confirmation
// ciphertext. It performs no decryption; that is component C's job.
func SplitHandshake(frame []byte) (ephemeral [32]byte, confirmationCiphertext []byte, err error) {
	if len(frame) != HandshakeFrameSize {
		return [32]byte{}, nil, ErrMalformedFrame
	}
	copy(ephemeral[:], frame[:EphemeralPrefixSize])
	confirmationCiphertext = append([]byte(nil), frame[EphemeralPrefixSize:]...)
	return ephemeral, confirmationCiphertext, nil
}

// EncodeHandshake concatenates the plaintext ephemeral prefix and an
// already-encrypted Confirmation into the 136-byte wire frame.
func EncodeHandshake(ephemeral [32]byte, confirmationCiphertext []byte) ([]byte, error) {
	if len(confirmationCiphertext) != domain.ConfirmationSize {
		return nil, ErrMalformedFrame
	}
	buf := make([]byte, HandshakeFrameSize)
	copy(buf[:EphemeralPrefixSize], ephemeral[:])
	copy(buf[EphemeralPrefixSize:], confirmationCiphertext)
	return buf, nil
}
