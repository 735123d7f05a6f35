// Package domain holds the wire- and protocol-independent data model shared
// by every layer of meshline: peer identities, ephemeral keys and the
// handshake/rekey signature shapes.
package domain

import "crypto/ed25519"

// PeerIdentity is the 32-byte Ed25519 public key that uniquely names a peer
// across the system.
type PeerIdentity [ed25519.PublicKeySize]byte

// IsZero reports whether pid has never been assigned (e.g. an inbound
// ProtoQueue whose Confirmation has not yet been verified).
func (pid PeerIdentity) IsZero() bool {
	return pid == PeerIdentity{}
}

func (pid PeerIdentity) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 0; i < 8; i++ {
		buf[i*2] = hextable[pid[i]>>4]
		buf[i*2+1] = hextable[pid[i]&0x0f]
	}
	return string(buf) + "…"
}

// PeerIdentityFromPublicKey copies an ed25519.PublicKey into a PeerIdentity.
func PeerIdentityFromPublicKey(pub ed25519.PublicKey) (PeerIdentity, error) {
	var pid PeerIdentity
	if len(pub) != ed25519.PublicKeySize {
		return pid, ErrInvalidPublicKeySize
	}
	copy(pid[:], pub)
	return pid, nil
}

// EphemeralKeyPair is a short-lived X25519 keypair generated per direction
// of a session, fresh at session start and at every rekey. Private is wiped
// (zeroed) as soon as it has been consumed by ECDH.
type EphemeralKeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// Wipe zeroes the private half. Safe to call more than once.
func (k *EphemeralKeyPair) Wipe() {
	for i := range k.Private {
		k.Private[i] = 0
	}
}
