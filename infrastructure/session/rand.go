package session

import (
	"crypto/rand"
	"math/big"
)

// randomUint64Below returns a uniform random value in [0, max). It exists
// so rekey_left_bytes (spec.md §4.3) is not a lock-step constant across
// peers: each side independently rolls a fresh budget after every rekey.
func randomUint64Below(max uint64) (uint64, error) {
	if max == 0 {
		return 0, nil
	}
	n, err := rand.Int(rand.Reader, new(big.Int).SetUint64(max))
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}
