// Package lifecycle keeps an access token fresh in the background.
//
// A Manager reads the current credential from a credential.Store, sleeps
// until shortly before the access token expires, and exchanges the refresh
// token through a Refresher. Transient failures are retried with
// exponential backoff; a permanent failure or exhausted retries end the run
// and are reported through the onError callback.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/jmcleod/sessionguard/credential"
)

// Refresher exchanges a credential's refresh token for a new credential.
type Refresher interface {
	Refresh(ctx context.Context, current credential.Credential) (credential.Credential, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, current credential.Credential) (credential.Credential, error)

func (f RefresherFunc) Refresh(ctx context.Context, current credential.Credential) (credential.Credential, error) {
	return f(ctx, current)
}

// Manager runs the refresh loop for one credential store.
type Manager struct {
	store     credential.Store
	refresher Refresher

	margin         time.Duration
	backoffBase    time.Duration
	backoffMax     time.Duration
	maxAttempts    int
	requestTimeout time.Duration
	clock          clockwork.Clock
	logger         *slog.Logger

	group singleflight.Group

	mu     sync.Mutex
	state  State
	run    *run
	nextID uint64
}

// run is one Start..Stop span. Work belonging to a run that is no longer
// current is discarded.
type run struct {
	id        uint64
	ctx       context.Context
	cancel    context.CancelFunc
	onRefresh func(credential.Credential)
	onError   func(error)
	wake      chan struct{}
	// due is when the armed timer fires. Guarded by Manager.mu.
	due time.Time
}

func (r *run) key() string {
	return fmt.Sprintf("refresh-%d", r.id)
}

// New returns an idle Manager refreshing the credential held in store.
func New(store credential.Store, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		refresher:      refresher,
		margin:         DefaultSafetyMargin,
		backoffBase:    DefaultBackoffBase,
		backoffMax:     DefaultBackoffMax,
		maxAttempts:    DefaultMaxAttempts,
		requestTimeout: DefaultRequestTimeout,
		clock:          clockwork.NewRealClock(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxAttempts < 1 {
		m.maxAttempts = 1
	}
	if m.backoffMax < m.backoffBase {
		m.backoffMax = m.backoffBase
	}
	m.logger = m.logger.With("component", "lifecycle")
	return m
}

// Start begins the refresh loop. Callbacks run on the manager's goroutine
// and may call Stop. Either callback may be nil.
func (m *Manager) Start(onRefresh func(credential.Credential), onError func(error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run != nil {
		return ErrAlreadyRunning
	}
	if onRefresh == nil {
		onRefresh = func(credential.Credential) {}
	}
	if onError == nil {
		onError = func(error) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.nextID++
	r := &run{
		id:        m.nextID,
		ctx:       ctx,
		cancel:    cancel,
		onRefresh: onRefresh,
		onError:   onError,
		wake:      make(chan struct{}, 1),
	}
	m.run = r
	m.state = Running
	m.logger.Debug("refresh loop started", "run", r.id)

	go m.loop(r)
	return nil
}

// Stop ends the current run. It does not wait for the loop goroutine, so
// it is safe to call from a callback. Stopping an idle manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run != nil {
		m.run.cancel()
		m.logger.Debug("refresh loop stopped", "run", m.run.id)
		m.run = nil
	}
	m.state = Idle
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NextRefresh returns when the next scheduled refresh fires. It reports
// false when no run is active, no timer is armed yet, or a refresh is in
// progress.
func (m *Manager) NextRefresh() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run == nil || m.run.due.IsZero() {
		return time.Time{}, false
	}
	return m.run.due, true
}

// RefreshNow refreshes immediately and waits for the result. It joins a
// refresh already in flight instead of starting a second one. A failure
// ends the run exactly as a failed scheduled refresh does.
func (m *Manager) RefreshNow(ctx context.Context) error {
	m.mu.Lock()
	r := m.run
	m.mu.Unlock()
	if r == nil {
		return ErrNotRunning
	}

	ch := m.group.DoChan(r.key(), func() (any, error) {
		return nil, m.cycle(r)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (m *Manager) loop(r *run) {
	for first := true; ; first = false {
		c, ok := m.store.Get(r.ctx)
		if !ok {
			m.fail(r, ErrNoCredential)
			return
		}

		now := m.clock.Now()
		delay := c.AccessExpiresAt.Sub(now) - m.margin
		if !first {
			delay = m.floor(delay, c.AccessExpiresAt.Sub(now))
		}
		if delay > 0 {
			m.mu.Lock()
			r.due = now.Add(delay)
			m.mu.Unlock()
			timer := m.clock.NewTimer(delay)
			select {
			case <-r.ctx.Done():
				timer.Stop()
				return
			case <-r.wake:
				// The credential was replaced out of band; reschedule.
				timer.Stop()
				continue
			case <-timer.Chan():
			}
		}

		_, err, _ := m.group.Do(r.key(), func() (any, error) {
			return nil, m.cycle(r)
		})
		if err != nil {
			return
		}
		select {
		case <-r.wake:
		default:
		}
	}
}

// floor keeps a token whose lifetime is inside the safety margin from
// being refreshed back to back. Such a token is refreshed halfway through
// its lifetime, and never sooner than one backoff step.
func (m *Manager) floor(delay, ttl time.Duration) time.Duration {
	if delay >= m.backoffBase {
		return delay
	}
	wait := ttl / 2
	if wait < m.backoffBase {
		wait = m.backoffBase
	}
	m.logger.Warn("access token lifetime is inside the safety margin",
		slog.Duration("ttl", ttl),
		slog.Duration("margin", m.margin),
		slog.Duration("refresh_in", wait))
	return wait
}

// cycle performs one refresh with retries. On failure the run is ended
// before cycle returns.
func (m *Manager) cycle(r *run) error {
	if !m.setState(r, RefreshPending) {
		return context.Canceled
	}

	attempt := 0
	var lastErr error
	op := func() error {
		attempt++
		if attempt > m.maxAttempts {
			// The last wait has elapsed; give up with the last failure.
			return backoff.Permanent(lastErr)
		}
		current, ok := m.store.Get(r.ctx)
		if !ok {
			return backoff.Permanent(ErrNoCredential)
		}

		ctx, cancel := context.WithTimeout(r.ctx, m.requestTimeout)
		next, err := m.refresher.Refresh(ctx, current)
		cancel()
		if err != nil {
			lastErr = err
			return err
		}
		if err := next.Validate(); err != nil {
			return fmt.Errorf("refresh returned unusable credential: %w", err)
		}
		return m.commit(r, next)
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Warn("token refresh failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", m.maxAttempts),
			slog.Duration("retry_in", wait),
			slog.Any("error", err))
	}

	err := backoff.RetryNotifyWithTimer(op, m.newBackOff(r.ctx), notify, &clockTimer{clock: m.clock})
	if err != nil {
		m.fail(r, err)
		return err
	}
	return nil
}

// commit stores a refreshed credential if r is still the current run and
// reports it to the host.
func (m *Manager) commit(r *run, next credential.Credential) error {
	m.mu.Lock()
	if m.run != r {
		m.mu.Unlock()
		return backoff.Permanent(context.Canceled)
	}
	if err := m.store.Put(r.ctx, next); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("storing refreshed credential: %w", err)
	}
	m.state = Running
	m.mu.Unlock()

	m.logger.Info("access token refreshed", slog.Time("access_expires_at", next.AccessExpiresAt))
	select {
	case r.wake <- struct{}{}:
	default:
	}
	r.onRefresh(next)
	return nil
}

// fail ends r and invokes onError, unless r was already stopped.
func (m *Manager) fail(r *run, err error) {
	m.mu.Lock()
	if m.run != r {
		m.mu.Unlock()
		return
	}
	m.run = nil
	m.state = Failed
	r.cancel()
	m.mu.Unlock()

	m.logger.Warn("token refresh failed permanently", slog.Any("error", err))
	r.onError(err)
}

func (m *Manager) setState(r *run, s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run != r {
		return false
	}
	m.state = s
	if s == RefreshPending {
		r.due = time.Time{}
	}
	return true
}
