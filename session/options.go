package session

import (
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/jmcleod/sessionguard/credential"
	"github.com/jmcleod/sessionguard/identity"
	"github.com/jmcleod/sessionguard/idle"
	"github.com/jmcleod/sessionguard/lifecycle"
	"github.com/jmcleod/sessionguard/throttle"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCredentialStore sets the credential store. An injected token manager
// must be built on the same store.
func WithCredentialStore(s credential.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithIdentity sets the session identity manager.
func WithIdentity(m *identity.Manager) Option {
	return func(c *Coordinator) { c.identity = m }
}

// WithThrottle sets the login attempt throttle.
func WithThrottle(t *throttle.Throttle) Option {
	return func(c *Coordinator) { c.throttle = t }
}

// WithTokenManager sets the token lifecycle manager.
func WithTokenManager(m *lifecycle.Manager) Option {
	return func(c *Coordinator) { c.tokens = m }
}

// WithIdleMonitor sets the idle activity monitor.
func WithIdleMonitor(m *idle.Monitor) Option {
	return func(c *Coordinator) { c.idle = m }
}

// WithConfig sets the policy for collaborators the Coordinator builds.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithAlertFunc sets the callback for sign-in anomaly alerts.
func WithAlertFunc(fn AlertFunc) Option {
	return func(c *Coordinator) { c.alertFn = fn }
}
