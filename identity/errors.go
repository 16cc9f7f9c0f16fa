package identity

import "errors"

// ErrNoSession is returned by Rotate when no identity has been issued.
var ErrNoSession = errors.New("no current session identity")
