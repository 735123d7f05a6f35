package session

import (
	"crypto/ed25519"
	"time"

	"meshline/domain"
	"meshline/infrastructure/cryptography/primitives"
)

// SetupIn derives the inbound CipherState after we have just received the
// peer's ephemeral public key: dh := ecdh(our_long_term_private,
// peer_ephemeral_public); the key/counter/hmac triple is derived with the
// receiver's identity (ours, since this is the direction we receive on).
//
// meshline's long-term ECDH key is not a separately advertised value: it is
// derived from the same Ed25519 keypair that names the PeerIdentity, via
// the standard seed-hash-clamp construction in
// infrastructure/cryptography/primitives (see DESIGN.md for why this choice
// was made over advertising a second static key).
func SetupIn(ourIdentityPriv ed25519.PrivateKey, ourIdentityPub domain.PeerIdentity, peerEphemeralPublic [32]byte) (*CipherState, error) {
	ourLongTermX, err := primitives.Ed25519PrivateToX25519(ourIdentityPriv)
	if err != nil {
		return nil, err
	}
	dh, err := primitives.ECDH(ourLongTermX, peerEphemeralPublic)
	if err != nil {
		return nil, err
	}
	key, iv, hmacKey, err := primitives.DeriveKeySet(dh, ourIdentityPub)
	if err != nil {
		return nil, err
	}
	return newCipherState(key, iv, hmacKey)
}

// OutboundSetup bundles the result of Setup-out: the new outbound cipher
// plus the rekey scheduling state spec.md §4.3 installs alongside it.
type OutboundSetup struct {
	Cipher         *CipherState
	RekeyDeadline  time.Time
	RekeyLeftBytes uint64
}

// SetupOut derives the outbound CipherState before sending on a new
// outbound key: dh := ecdh(our_ephemeral_private, peer_long_term_public);
// the key/counter/hmac triple is derived with the receiver's identity
// (peer, since this is the direction we send to). It also arms the next
// forced-rekey deadline and byte budget, jittered so peers do not rekey in
// lockstep.
func SetupOut(ourEphemeralPrivate [32]byte, peer domain.PeerIdentity, now time.Time, rekeyInterval time.Duration, rekeyMaxBytes uint64) (OutboundSetup, error) {
	peerLongTermX, err := primitives.Ed25519PublicToX25519(ed25519.PublicKey(peer[:]))
	if err != nil {
		return OutboundSetup{}, err
	}
	dh, err := primitives.ECDH(ourEphemeralPrivate, peerLongTermX)
	if err != nil {
		return OutboundSetup{}, err
	}
	key, iv, hmacKey, err := primitives.DeriveKeySet(dh, peer)
	if err != nil {
		return OutboundSetup{}, err
	}
	cipher, err := newCipherState(key, iv, hmacKey)
	if err != nil {
		return OutboundSetup{}, err
	}

	leftBytes, err := randomUint64Below(rekeyMaxBytes)
	if err != nil {
		return OutboundSetup{}, err
	}

	return OutboundSetup{
		Cipher:         cipher,
		RekeyDeadline:  now.Add(rekeyInterval),
		RekeyLeftBytes: leftBytes,
	}, nil
}
