package primitives

import (
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
	"math/big"
)

// ErrInvalidEd25519Key is returned when a key is not exactly the expected
// Ed25519 size.
var ErrInvalidEd25519Key = errors.New("primitives: invalid ed25519 key length")

// fieldPrime is 2^255 - 19, the prime modulus shared by edwards25519 and
// curve25519.
var fieldPrime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 255)
	return p.Sub(p, big.NewInt(19))
}()

// clamp applies the RFC 7748 X25519 private-scalar clamp in place.
func clamp(k []byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

// reverseCopy returns a reversed copy of b (stdlib big.Int is big-endian;
// the curve point encodings on the wire are little-endian).
func reverseCopy(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// Ed25519PrivateToX25519 derives a companion X25519 private scalar from an
// Ed25519 long-term private key, using the standard construction (the same
// one libsodium's crypto_sign_ed25519_sk_to_curve25519 performs): hash the
// 32-byte seed with SHA-512, take the leading 32 bytes, and apply the
// X25519 clamp. meshline uses this so a single long-term Ed25519 keypair
// can serve both as the signed PeerIdentity and as the ECDH key the
// Setup-in/Setup-out steps of spec.md §4.3 require.
func Ed25519PrivateToX25519(priv ed25519.PrivateKey) ([32]byte, error) {
	var out [32]byte
	if len(priv) != ed25519.PrivateKeySize {
		return out, ErrInvalidEd25519Key
	}
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	copy(out[:], h[:32])
	clamp(out[:])
	return out, nil
}

// Ed25519PublicToX25519 converts an Ed25519 public key to its companion
// X25519 public key via the standard birational map between the twisted
// Edwards curve and its Montgomery form: u = (1+y)/(1-y) mod p, where y is
// the Edwards public key's y-coordinate (the sign bit of x is irrelevant to
// the resulting u-coordinate). This lets any peer derive the other's
// long-term ECDH public key from nothing but the Ed25519 PeerIdentity.
func Ed25519PublicToX25519(pub ed25519.PublicKey) ([32]byte, error) {
	var out [32]byte
	if len(pub) != ed25519.PublicKeySize {
		return out, ErrInvalidEd25519Key
	}

	yBytes := append([]byte(nil), pub...)
	yBytes[31] &= 0x7f // clear the sign-of-x bit, keep the y-coordinate only

	y := new(big.Int).SetBytes(reverseCopy(yBytes))
	one := big.NewInt(1)

	numerator := new(big.Int).Add(one, y)
	numerator.Mod(numerator, fieldPrime)

	denominator := new(big.Int).Sub(one, y)
	denominator.Mod(denominator, fieldPrime)

	inv := new(big.Int).ModInverse(denominator, fieldPrime)
	if inv == nil {
		return out, errors.New("primitives: public key has no valid curve25519 equivalent")
	}

	u := new(big.Int).Mul(numerator, inv)
	u.Mod(u, fieldPrime)

	uBytes := u.FillBytes(make([]byte, 32))
	copy(out[:], reverseCopy(uBytes))
	return out, nil
}
