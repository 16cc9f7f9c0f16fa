package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned by SignIn when the backend rejects
	// the identifier and secret.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned by Refresh when the backend rejects the
	// refresh token. Retrying cannot succeed.
	ErrUnauthorized = errors.New("refresh token rejected")
	// ErrUnexpectedStatus wraps any other non-2xx response. It is transient.
	ErrUnexpectedStatus = errors.New("unexpected response status")
	// ErrMalformedResponse is returned when a 2xx body cannot be used.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// StatusError describes a non-2xx response from the backend.
type StatusError struct {
	Op      string
	Status  int
	Message string

	kind error
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Op, e.Status)
}

// Unwrap returns the sentinel for the status class.
func (e *StatusError) Unwrap() error {
	return e.kind
}
