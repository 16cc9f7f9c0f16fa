package credential

import "errors"

var (
	// ErrInvalidCredential is returned by Put for a credential missing tokens or expiries.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrInvalidKey is returned when a wrapping key is not 32 bytes.
	ErrInvalidKey = errors.New("wrapping key must be exactly 32 bytes")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("credential store closed")
)
