package session

import "errors"

var (
	// ErrClosed is returned by operations on a closed Coordinator.
	ErrClosed = errors.New("session coordinator closed")
	// ErrNotAuthenticated is returned by the transport when there is no
	// live session to attach.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrRotationUnsupported is returned by RotateSession when the backend
	// cannot rotate sessions.
	ErrRotationUnsupported = errors.New("backend does not support session rotation")
)
