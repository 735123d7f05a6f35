package settings

import (
	"crypto/ed25519"
	"encoding/pem"
	"errors"
	"os"

	"meshline/domain"
)

const pemBlockType = "MESHLINE ED25519 PRIVATE KEY"

// LoadOrCreateIdentity reads an Ed25519 long-term keypair from path,
// generating and persisting a fresh one if the file does not exist.
//
// Grounded on the teacher's curve25519.PrivateKeyToPEM/PEMToPrivateKey pair,
// extended from X25519's raw 32-byte blob to Ed25519's 64-byte seed+public
// private key encoding; the PEM block type name changes accordingly.
func LoadOrCreateIdentity(path string) (ed25519.PrivateKey, domain.PeerIdentity, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return generateAndPersist(path)
	}
	if err != nil {
		return nil, domain.PeerIdentity{}, err
	}

	priv, err := decodePrivateKeyPEM(raw)
	if err != nil {
		return nil, domain.PeerIdentity{}, err
	}

	pub, err := domain.PeerIdentityFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, domain.PeerIdentity{}, err
	}
	return priv, pub, nil
}

func generateAndPersist(path string) (ed25519.PrivateKey, domain.PeerIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, domain.PeerIdentity{}, err
	}

	if err := os.WriteFile(path, encodePrivateKeyPEM(priv), 0o600); err != nil {
		return nil, domain.PeerIdentity{}, err
	}

	pid, err := domain.PeerIdentityFromPublicKey(pub)
	if err != nil {
		return nil, domain.PeerIdentity{}, err
	}
	return priv, pid, nil
}

func encodePrivateKeyPEM(priv ed25519.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  pemBlockType,
		Bytes: priv,
	})
}

func decodePrivateKeyPEM(raw []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != pemBlockType {
		return nil, errors.New("settings: invalid PEM block for ed25519 private key")
	}
	if len(block.Bytes) != ed25519.PrivateKeySize {
		return nil, errors.New("settings: wrong key length for ed25519 private key")
	}
	return ed25519.PrivateKey(block.Bytes), nil
}
