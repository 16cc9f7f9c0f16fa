package idle

import "errors"

// ErrAlreadyRunning is returned by Start unless the monitor is stopped.
var ErrAlreadyRunning = errors.New("idle monitor already running")
