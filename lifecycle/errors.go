package lifecycle

import "errors"

var (
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("token lifecycle manager already running")
	// ErrNotRunning is returned by RefreshNow when no run is active.
	ErrNotRunning = errors.New("token lifecycle manager not running")
	// ErrNoCredential means the store holds no live credential to refresh.
	ErrNoCredential = errors.New("no credential to refresh")
)
