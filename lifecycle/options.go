package lifecycle

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultSafetyMargin   = 60 * time.Second
	DefaultBackoffBase    = time.Second
	DefaultBackoffMax     = 30 * time.Second
	DefaultMaxAttempts    = 3
	DefaultRequestTimeout = 10 * time.Second
)

// Option configures a Manager.
type Option func(*Manager)

// WithSafetyMargin sets how long before access expiry the refresh fires.
func WithSafetyMargin(d time.Duration) Option {
	return func(m *Manager) { m.margin = d }
}

// WithBackoff sets the retry policy for transient refresh failures. A
// refresh makes at most attempts calls. The wait after the first failure
// is base and each later one doubles, capped at max. The run fails once
// the wait after the last failed attempt has elapsed.
func WithBackoff(base, max time.Duration, attempts int) Option {
	return func(m *Manager) {
		m.backoffBase = base
		m.backoffMax = max
		m.maxAttempts = attempts
	}
}

// WithRequestTimeout bounds each refresh call to the backend.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Manager) { m.requestTimeout = d }
}

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}
