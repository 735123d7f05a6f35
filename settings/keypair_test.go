package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateIdentityGeneratesThenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.pem")

	priv1, pub1, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	if pub1.IsZero() {
		t.Fatal("generated identity is zero")
	}

	priv2, pub2, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if pub1 != pub2 {
		t.Fatal("reloaded identity does not match the generated one")
	}
	if string(priv1) != string(priv2) {
		t.Fatal("reloaded private key does not match the generated one")
	}
}

func TestLoadOrCreateIdentityRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.pem")
	if err := os.WriteFile(path, []byte("not a pem file"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, _, err := LoadOrCreateIdentity(path); err == nil {
		t.Fatal("expected an error loading a garbage key file")
	}
}
