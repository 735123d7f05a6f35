package domain

import "errors"

var (
	// ErrInvalidPublicKeySize is returned when a long-term key does not
	// decode to exactly ed25519.PublicKeySize bytes.
	ErrInvalidPublicKeySize = errors.New("domain: invalid public key size")

	// ErrInvalidConfirmationSize is returned when a Confirmation does not
	// decode from exactly ConfirmationSize bytes.
	ErrInvalidConfirmationSize = errors.New("domain: invalid confirmation size")
)
