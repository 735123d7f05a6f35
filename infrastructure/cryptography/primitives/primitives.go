// Package primitives wraps the cryptographic building blocks meshline's
// session layer is built from: X25519 ECDHE, Ed25519 signatures, an
// HKDF-style key derivation, HMAC-SHA512 (carried as a 256-bit prefix), a
// SHA-256 key ratchet and AES-256-CTR. It corresponds to
// component A of the transport design: every other crypto package consumes
// these primitives through narrow interfaces instead of reaching for
// crypto/* directly.
package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// GenerateEphemeral returns a fresh X25519 keypair. Called at session start
// and at every rekey.
func GenerateEphemeral() (private, public [32]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, private[:]); err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	copy(public[:], pub)
	return private, public, nil
}

// ECDH computes the 32-byte X25519 shared secret between ourPrivate and
// theirPublic.
func ECDH(ourPrivate, theirPublic [32]byte) ([]byte, error) {
	return curve25519.X25519(ourPrivate[:], theirPublic[:])
}

// GenerateIdentity returns a fresh long-term Ed25519 keypair.
func GenerateIdentity() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// Sign signs data with a long-term Ed25519 private key.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify checks an Ed25519 signature produced by Sign.
func Verify(pub ed25519.PublicKey, data, signature []byte) bool {
	return ed25519.Verify(pub, data, signature)
}

// Key derivation labels: the three distinct contexts the wire protocol
// derives material for from a single ECDH shared secret.
const (
	LabelKey     = "key"
	LabelCounter = "counter"
	LabelHMAC    = "hmac"
)

// KDF derives n bytes deterministically from sharedSecret, salted by the
// receiver's PeerIdentity and the given label. Three calls with the three
// labels above yield the AES-256 key (32 bytes), the CTR IV (16 bytes) and
// the initial HMAC key (32 bytes) for one direction of a session.
func KDF(label string, sharedSecret []byte, receiver [32]byte, n int) ([]byte, error) {
	reader := hkdf.New(sha256.New, sharedSecret, receiver[:], []byte(label))
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveKeySet derives the AES key, CTR counter/IV and initial HMAC key for
// one direction of a session in a single call.
func DeriveKeySet(sharedSecret []byte, receiver [32]byte) (aesKey [32]byte, ctrIV [16]byte, hmacKey [32]byte, err error) {
	k, err := KDF(LabelKey, sharedSecret, receiver, 32)
	if err != nil {
		return
	}
	c, err := KDF(LabelCounter, sharedSecret, receiver, 16)
	if err != nil {
		return
	}
	h, err := KDF(LabelHMAC, sharedSecret, receiver, 32)
	if err != nil {
		return
	}
	copy(aesKey[:], k)
	copy(ctrIV[:], c)
	copy(hmacKey[:], h)
	return
}

// HMAC512 computes a 512-bit (SHA-512) HMAC over data under key. Only the
// leading 256 bits are ever carried on the wire (see Ratchet and the wire
// package's 32-byte mac fields).
func HMAC512(key, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// MACSize is the number of leading bytes of an HMAC512 output carried on
// the wire.
const MACSize = 32

// MAC computes the wire-carried 256-bit MAC prefix for data under key.
func MAC(key, data []byte) [MACSize]byte {
	full := HMAC512(key, data)
	var out [MACSize]byte
	copy(out[:], full[:MACSize])
	return out
}

// EqualMAC performs a constant-time comparison of a computed and received
// MAC.
func EqualMAC(computed [MACSize]byte, received []byte) bool {
	return hmac.Equal(computed[:], received)
}

// Ratchet advances a rolling HMAC key one step: hmac_key := hash(hmac_key).
// Every frame that carries an hmac field ratchets its direction's key after
// the MAC has been computed, per invariant 7.
func Ratchet(hmacKey [32]byte) [32]byte {
	return sha256.Sum256(hmacKey[:])
}

// StreamCipher is an opaque counter-mode stream cipher. It never exposes
// the raw key outside Setup.
type StreamCipher struct {
	stream cipher.Stream
}

// NewStreamCipher builds an AES-256-CTR stream keyed by key, with the
// counter-mode starting state seeded from iv. advancing state by len(buf)
// bytes on every XORKeyStream call.
func NewStreamCipher(key [32]byte, iv [16]byte) (*StreamCipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return &StreamCipher{stream: cipher.NewCTR(block, iv[:])}, nil
}

// XORKeyStream encrypts/decrypts src into dst in place (dst and src may
// alias). CTR mode makes Encrypt and Decrypt the same operation.
func (s *StreamCipher) XORKeyStream(dst, src []byte) {
	s.stream.XORKeyStream(dst, src)
}
