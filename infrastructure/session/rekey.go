package session

import (
	"crypto/ed25519"
	"time"

	"meshline/domain"
	"meshline/infrastructure/cryptography/primitives"
	"meshline/infrastructure/wire"
)

// BuildRekeyFrame builds the plaintext bytes of a Rekey frame announcing a
// fresh ephemeral public key, signed under the rekey purpose tag so it
// cannot be confused with an initial-handshake signature. The MAC is
// computed (and the outbound HMAC key ratcheted) against the *current*
// outbound cipher — the caller then bulk-encrypts these plaintext bytes
// with that same current cipher before calling SetupOut on the new
// ephemeral, exactly as spec.md §4.3 describes.
func BuildRekeyFrame(ourIdentityPriv ed25519.PrivateKey, ourIdentityPub, peer domain.PeerIdentity, newEphemeralPub [32]byte, now time.Time, currentOut *CipherState) ([]byte, error) {
	monotonic := uint64(now.UnixNano())

	sigTuple := domain.HandshakeSignature{
		Purpose:         domain.PurposeRekey,
		Sender:          ourIdentityPub,
		Receiver:        peer,
		SenderEphemeral: newEphemeralPub,
		MonotonicTime:   monotonic,
	}
	var sig [64]byte
	copy(sig[:], primitives.Sign(ourIdentityPriv, sigTuple.SigningBytes()))

	macInput := wire.RekeyMACInput(newEphemeralPub, sig, monotonic)
	mac := currentOut.ComputeMAC(macInput)

	buf := make([]byte, wire.RekeyFrameSize)
	if _, err := wire.EncodeRekey(buf, mac, newEphemeralPub, sig, monotonic); err != nil {
		return nil, err
	}
	return buf, nil
}

// VerifyRekeyFrame checks a received Rekey frame's MAC (against the
// *current* inbound cipher, ratcheting its HMAC key forward) and its
// signature (against the peer's long-term identity). Both checks must pass
// before the caller installs the new inbound cipher via SetupIn.
func VerifyRekeyFrame(peer, our domain.PeerIdentity, rekey *wire.Rekey, currentIn *CipherState) bool {
	macInput := wire.RekeyMACInput(rekey.Ephemeral, rekey.Signature, rekey.MonotonicTime)
	if !currentIn.VerifyMAC(macInput, rekey.MAC) {
		return false
	}

	sigTuple := domain.HandshakeSignature{
		Purpose:         domain.PurposeRekey,
		Sender:          peer,
		Receiver:        our,
		SenderEphemeral: rekey.Ephemeral,
		MonotonicTime:   rekey.MonotonicTime,
	}
	return primitives.Verify(ed25519.PublicKey(peer[:]), sigTuple.SigningBytes(), rekey.Signature[:])
}
