package throttle

import "errors"

var (
	// ErrCorruptRecord marks a persisted record that cannot be decoded or
	// authenticated. Such records never count as a lockout.
	ErrCorruptRecord = errors.New("corrupt lockout record")
	// ErrInvalidKey is returned when a sealing key is not 32 bytes.
	ErrInvalidKey = errors.New("sealing key must be exactly 32 bytes")
)
