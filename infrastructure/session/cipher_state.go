// Package session implements component C of the transport design: the
// per-direction cipher and rolling HMAC key a Queue holds for its inbound
// and outbound streams, the Setup-in/Setup-out/Rekey-out operations of
// spec.md §4.3, and the one-way HMAC ratchet of invariant 7.
package session

import "meshline/infrastructure/cryptography/primitives"

// CipherState is one direction's cipher + rolling HMAC key. It never
// exposes the raw key bytes once constructed.
type CipherState struct {
	cipher  *primitives.StreamCipher
	hmacKey [32]byte
}

func newCipherState(key [32]byte, iv [16]byte, hmacKey [32]byte) (*CipherState, error) {
	c, err := primitives.NewStreamCipher(key, iv)
	if err != nil {
		return nil, err
	}
	return &CipherState{cipher: c, hmacKey: hmacKey}, nil
}

// Transform advances this direction's CTR stream state by len(src) bytes,
// writing the result into dst. CTR mode makes encrypt and decrypt the same
// operation, so both the inbound and outbound buffer pipelines call this.
func (c *CipherState) Transform(dst, src []byte) {
	c.cipher.XORKeyStream(dst, src)
}

// ComputeMAC computes the MAC for an outbound frame over data (which must
// already have its own hmac field zeroed, per invariant 7), then ratchets
// the HMAC key forward for the next frame in this direction.
func (c *CipherState) ComputeMAC(data []byte) [primitives.MACSize]byte {
	mac := primitives.MAC(c.hmacKey[:], data)
	c.hmacKey = primitives.Ratchet(c.hmacKey)
	return mac
}

// VerifyMAC checks a received frame's MAC against data (with the hmac field
// zeroed), then ratchets the HMAC key forward regardless of the outcome —
// the ratchet must advance once per frame in each direction for the two
// sides' rolling keys to stay in lockstep, including the frame whose MAC
// turned out to be wrong (which fails the connection anyway).
func (c *CipherState) VerifyMAC(data []byte, received [primitives.MACSize]byte) bool {
	mac := primitives.MAC(c.hmacKey[:], data)
	c.hmacKey = primitives.Ratchet(c.hmacKey)
	return primitives.EqualMAC(mac, received[:])
}
