package session

import (
	"crypto/ed25519"
	"errors"
	"time"

	"meshline/domain"
	"meshline/infrastructure/cryptography/primitives"
	"meshline/infrastructure/wire"
)

// ErrHandshakeSignature is returned when a Confirmation's signature fails
// verification or its monotonic timestamp fails the replay check.
var ErrHandshakeSignature = errors.New("session: handshake signature or replay check failed")

// HandshakeOut bundles everything BuildHandshakeOut produces: the 136-byte
// wire frame to send, and the outbound cipher/rekey schedule it already
// installed (mirroring OutboundSetup, since the initial handshake's
// outbound half is Setup-out under a freshly generated ephemeral exactly
// like a later Rekey-out).
type HandshakeOut struct {
	Frame []byte
	OutboundSetup
}

// BuildHandshakeOut performs our side of the plaintext-prefixed initial
// handshake (spec.md §6): generate a fresh ephemeral, Setup-out against the
// peer's long-term identity, sign a Confirmation binding both identities,
// the ephemeral, and a monotonic timestamp, then encrypt the Confirmation
// under the freshly derived outbound cipher.
//
// Both the accept path (after Promote has learned the peer's identity from
// their half of the handshake) and the dial path (where the peer is known
// before connecting) call this the same way; only the caller differs.
func BuildHandshakeOut(ourIdentityPriv ed25519.PrivateKey, ourIdentityPub, peer domain.PeerIdentity, now time.Time, rekeyInterval time.Duration, rekeyMaxBytes uint64) (HandshakeOut, error) {
	ephPriv, ephPub, err := primitives.GenerateEphemeral()
	if err != nil {
		return HandshakeOut{}, err
	}
	defer func() {
		for i := range ephPriv {
			ephPriv[i] = 0
		}
	}()

	out, err := SetupOut(ephPriv, peer, now, rekeyInterval, rekeyMaxBytes)
	if err != nil {
		return HandshakeOut{}, err
	}

	monotonic := uint64(now.UnixNano())
	sigTuple := domain.HandshakeSignature{
		Purpose:         domain.PurposeHandshake,
		Sender:          ourIdentityPub,
		Receiver:        peer,
		SenderEphemeral: ephPub,
		MonotonicTime:   monotonic,
	}
	confirmation := domain.Confirmation{
		SenderPID:     ourIdentityPub,
		MonotonicTime: monotonic,
	}
	copy(confirmation.SenderSig[:], ed25519.Sign(ourIdentityPriv, sigTuple.SigningBytes()))

	confirmationPT, err := confirmation.MarshalBinary()
	if err != nil {
		return HandshakeOut{}, err
	}
	confirmationCT := make([]byte, len(confirmationPT))
	out.Cipher.Transform(confirmationCT, confirmationPT)

	frame, err := wire.EncodeHandshake(ephPub, confirmationCT)
	if err != nil {
		return HandshakeOut{}, err
	}

	return HandshakeOut{Frame: frame, OutboundSetup: out}, nil
}

// VerifyHandshakeIn performs the receiving side of the initial handshake:
// Setup-in against the sender's ephemeral, decrypt and unmarshal the
// Confirmation, verify its signature and (if replay is non-nil) its
// monotonic timestamp. It does not check the sender's identity against any
// expectation; callers that already know which peer they expect (the
// dialer) must compare the returned PeerIdentity themselves.
func VerifyHandshakeIn(ourIdentityPriv ed25519.PrivateKey, ourIdentityPub domain.PeerIdentity, ephemeral [32]byte, confirmationCiphertext []byte, replay *ReplayStore) (domain.PeerIdentity, *CipherState, error) {
	in, err := SetupIn(ourIdentityPriv, ourIdentityPub, ephemeral)
	if err != nil {
		return domain.PeerIdentity{}, nil, err
	}

	confirmationPT := make([]byte, domain.ConfirmationSize)
	in.Transform(confirmationPT, confirmationCiphertext)

	var confirmation domain.Confirmation
	if err := confirmation.UnmarshalBinary(confirmationPT); err != nil {
		return domain.PeerIdentity{}, nil, err
	}

	sigTuple := domain.HandshakeSignature{
		Purpose:         domain.PurposeHandshake,
		Sender:          confirmation.SenderPID,
		Receiver:        ourIdentityPub,
		SenderEphemeral: ephemeral,
		MonotonicTime:   confirmation.MonotonicTime,
	}
	if !ed25519.Verify(ed25519.PublicKey(confirmation.SenderPID[:]), sigTuple.SigningBytes(), confirmation.SenderSig[:]) {
		return domain.PeerIdentity{}, nil, ErrHandshakeSignature
	}
	if replay != nil && !replay.Check(confirmation.SenderPID, confirmation.MonotonicTime) {
		return domain.PeerIdentity{}, nil, ErrHandshakeSignature
	}

	return confirmation.SenderPID, in, nil
}
