// Package idle enforces an inactivity timeout.
//
// A Monitor tracks the time of the last host-reported activity. Once the
// session has been idle for timeout minus the warning window it warns the
// host a single time; once idle for the full timeout it expires. Activity
// after the warning starts a new idle cycle.
package idle

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultTimeout       = 30 * time.Minute
	DefaultWarningWindow = 5 * time.Minute
	DefaultCheckInterval = time.Second
)

// State is the monitor's position in an idle cycle.
type State int

const (
	Stopped State = iota
	Active
	WarningIssued
	Expired
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Active:
		return "active"
	case WarningIssued:
		return "warning_issued"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTimeout sets the idle duration after which the session expires.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithWarningWindow sets how long before expiry the warning fires.
func WithWarningWindow(d time.Duration) Option {
	return func(m *Monitor) { m.warningWindow = d }
}

// WithCheckInterval sets how often idleness is evaluated.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// Monitor watches for inactivity.
type Monitor struct {
	timeout       time.Duration
	warningWindow time.Duration
	interval      time.Duration
	clock         clockwork.Clock
	logger        *slog.Logger

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	run          *run
}

type run struct {
	done      chan struct{}
	onWarning func(remaining time.Duration)
	onExpire  func()
}

// New returns a stopped Monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		timeout:       DefaultTimeout,
		warningWindow: DefaultWarningWindow,
		interval:      DefaultCheckInterval,
		clock:         clockwork.NewRealClock(),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.warningWindow < 0 || m.warningWindow >= m.timeout {
		m.warningWindow = 0
	}
	if m.interval <= 0 {
		m.interval = DefaultCheckInterval
	}
	m.logger = m.logger.With("component", "idle")
	return m
}

// Start begins monitoring with activity recorded as of now. Callbacks run
// on the monitor's goroutine and may call Stop. Either may be nil.
func (m *Monitor) Start(onWarning func(remaining time.Duration), onExpire func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Stopped {
		return ErrAlreadyRunning
	}
	if onWarning == nil {
		onWarning = func(time.Duration) {}
	}
	if onExpire == nil {
		onExpire = func() {}
	}

	r := &run{done: make(chan struct{}), onWarning: onWarning, onExpire: onExpire}
	m.run = r
	m.state = Active
	m.lastActivity = m.clock.Now()

	go m.loop(r)
	return nil
}

// RecordActivity resets the idle clock. It is ignored unless the monitor
// is running and not yet expired.
func (m *Monitor) RecordActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Active:
		m.lastActivity = m.clock.Now()
	case WarningIssued:
		m.lastActivity = m.clock.Now()
		m.state = Active
		m.logger.Debug("activity after idle warning; cycle reset")
	}
}

// Stop ends monitoring without waiting for the goroutine to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run != nil {
		close(m.run.done)
		m.run = nil
	}
	m.state = Stopped
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IdleFor returns the time since the last recorded activity, or zero when
// the monitor is stopped.
func (m *Monitor) IdleFor() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Stopped {
		return 0
	}
	return m.clock.Now().Sub(m.lastActivity)
}

func (m *Monitor) loop(r *run) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.Chan():
			if !m.check(r) {
				return
			}
		}
	}
}

// check evaluates idleness once and reports whether the loop continues.
func (m *Monitor) check(r *run) bool {
	m.mu.Lock()
	if m.run != r {
		m.mu.Unlock()
		return false
	}
	idle := m.clock.Now().Sub(m.lastActivity)
	warn := m.state == Active && idle >= m.timeout-m.warningWindow
	if warn {
		m.state = WarningIssued
	}
	m.mu.Unlock()

	if warn {
		remaining := max(m.timeout-idle, 0)
		m.logger.Info("idle warning issued", slog.Duration("idle", idle), slog.Duration("remaining", remaining))
		r.onWarning(remaining)
	}
	if idle < m.timeout {
		return true
	}

	// Re-evaluate: the warning callback may have recorded activity or
	// stopped the monitor.
	m.mu.Lock()
	if current := m.run == r; !current || m.clock.Now().Sub(m.lastActivity) < m.timeout {
		m.mu.Unlock()
		return current
	}
	m.state = Expired
	m.mu.Unlock()

	m.logger.Info("idle timeout reached", slog.Duration("idle", idle))
	r.onExpire()
	return false
}
