package roster

import "errors"

var (
	// ErrNotFound means a referenced student, class, offering, or user does
	// not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRange means a date range ends before it starts.
	ErrInvalidRange = errors.New("invalid date range")
)
