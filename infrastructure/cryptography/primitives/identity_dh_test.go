package primitives

import (
	"testing"

	"golang.org/x/crypto/curve25519"
)

func TestEd25519ToX25519Agreement(t *testing.T) {
	pub, priv, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	x25519Priv, err := Ed25519PrivateToX25519(priv)
	if err != nil {
		t.Fatalf("Ed25519PrivateToX25519: %v", err)
	}
	wantPub, err := Ed25519PublicToX25519(pub)
	if err != nil {
		t.Fatalf("Ed25519PublicToX25519: %v", err)
	}

	gotPubSlice, err := curve25519.X25519(x25519Priv[:], curve25519.Basepoint)
	if err != nil {
		t.Fatalf("curve25519.X25519: %v", err)
	}
	var gotPub [32]byte
	copy(gotPub[:], gotPubSlice)

	if gotPub != wantPub {
		t.Error("the public-key conversion must agree with scalar-multiplying the derived private key against the basepoint")
	}
}
