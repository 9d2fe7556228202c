package database

import "errors"

var (
	// ErrInvalidInput is returned for an empty product name or a negative amount.
	// Nothing is written when it is returned.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a product id does not exist
	ErrNotFound = errors.New("not found")

	// ErrIntegrity is returned when the store finds its own invariants broken,
	// e.g. a product name that resolves to a differently spelled row
	ErrIntegrity = errors.New("store integrity violation")
)
