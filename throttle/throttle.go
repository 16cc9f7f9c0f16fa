// Package throttle implements client-side login attempt throttling.
//
// Failures are counted per normalized identifier. Reaching the threshold
// locks the identifier out for a fixed duration; further failures while
// locked neither count nor extend the lockout. The lockout is advisory: it
// short-circuits futile retries, and the backend remains the authority.
package throttle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jmcleod/sessionguard/internal/util"
)

const (
	// DefaultThreshold is the number of failures that triggers a lockout.
	DefaultThreshold = 5
	// DefaultLockoutDuration is how long a lockout lasts.
	DefaultLockoutDuration = 15 * time.Minute
)

// RecordStore persists lockout records keyed by normalized identifier.
type RecordStore interface {
	// Load returns the record, false if none exists, or an error wrapping
	// ErrCorruptRecord if the stored data is unusable.
	Load(ctx context.Context, identifier string) (Record, bool, error)
	// Save writes the record. Stores that support expiry drop it after ttl.
	Save(ctx context.Context, r Record, ttl time.Duration) error
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, identifier string) error
}

// Throttle tracks failed sign-in attempts and lockouts.
type Throttle struct {
	// mu serializes read-modify-write cycles against the store.
	mu sync.Mutex

	store     RecordStore
	threshold int
	lockout   time.Duration
	window    time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithStore sets the record store. The default keeps records in memory.
func WithStore(s RecordStore) Option {
	return func(t *Throttle) { t.store = s }
}

// WithThreshold sets the failure count that triggers a lockout.
func WithThreshold(n int) Option {
	return func(t *Throttle) { t.threshold = n }
}

// WithLockoutDuration sets how long a lockout lasts.
func WithLockoutDuration(d time.Duration) Option {
	return func(t *Throttle) { t.lockout = d }
}

// WithFailureWindow sets how long failures below the threshold are
// remembered. It defaults to the lockout duration.
func WithFailureWindow(d time.Duration) Option {
	return func(t *Throttle) { t.window = d }
}

// WithClock sets the clock.
func WithClock(c clockwork.Clock) Option {
	return func(t *Throttle) { t.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Throttle) { t.logger = l }
}

// New returns a Throttle with the default threshold and lockout duration.
func New(opts ...Option) *Throttle {
	t := &Throttle{
		threshold: DefaultThreshold,
		lockout:   DefaultLockoutDuration,
		clock:     clockwork.NewRealClock(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.store == nil {
		t.store = NewMemoryStore()
	}
	if t.threshold < 1 {
		t.threshold = DefaultThreshold
	}
	if t.window <= 0 {
		t.window = t.lockout
	}
	t.logger = t.logger.With("component", "throttle")
	return t
}

// RecordFailure counts a failed attempt and returns the updated record.
// While the identifier is locked out the record is returned unchanged.
func (t *Throttle) RecordFailure(ctx context.Context, identifier string) (Record, error) {
	key := util.NormalizeIdentifier(identifier)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	rec, ok := t.load(ctx, key, now)
	if !ok {
		rec = Record{Identifier: key, FirstFailureAt: now}
	}
	if rec.Locked(now) {
		return rec, nil
	}

	rec.FailureCount++
	if rec.FailureCount >= t.threshold {
		rec.LockedUntil = now.Add(t.lockout)
		t.logger.Warn("identifier locked out",
			slog.String("identifier", util.MaskIdentifier(key)),
			slog.Int("failures", rec.FailureCount),
			slog.Time("locked_until", rec.LockedUntil))
	}
	if err := t.store.Save(ctx, rec, t.ttl(rec, now)); err != nil {
		return rec, err
	}
	return rec, nil
}

// RecordSuccess deletes the identifier's record unconditionally.
func (t *Throttle) RecordSuccess(ctx context.Context, identifier string) error {
	key := util.NormalizeIdentifier(identifier)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Delete(ctx, key)
}

// IsLockedOut reports whether identifier is currently locked out. Store
// failures and unreadable records report false.
func (t *Throttle) IsLockedOut(ctx context.Context, identifier string) bool {
	return t.Status(ctx, identifier).RemainingLockoutSeconds > 0
}

// Status returns the failure count and remaining lockout for identifier.
func (t *Throttle) Status(ctx context.Context, identifier string) Status {
	key := util.NormalizeIdentifier(identifier)
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	rec, ok := t.load(ctx, key, now)
	if !ok {
		return Status{}
	}
	return statusOf(rec, now)
}

// load returns the live record for key. Expired records are deleted and
// anomalous ones are logged, deleted, and reported as absent.
func (t *Throttle) load(ctx context.Context, key string, now time.Time) (Record, bool) {
	rec, ok, err := t.store.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCorruptRecord) {
			t.anomaly(ctx, key, "lockout record unreadable; treating as not locked", err)
		} else {
			t.logger.Warn("lockout store unavailable; treating as not locked",
				slog.String("identifier", util.MaskIdentifier(key)), slog.Any("error", err))
		}
		return Record{}, false
	}
	if !ok {
		return Record{}, false
	}

	// A lockout further out than one full duration cannot have been set by
	// this clock: either the clock moved backwards or the record was edited.
	if !rec.LockedUntil.IsZero() && rec.LockedUntil.After(now.Add(t.lockout)) {
		t.anomaly(ctx, key, "lockout expiry beyond maximum duration; treating as not locked", nil)
		return Record{}, false
	}

	if t.expired(rec, now) {
		if err := t.store.Delete(ctx, key); err != nil {
			t.logger.Debug("failed to delete expired lockout record", "error", err)
		}
		return Record{}, false
	}
	return rec, true
}

func (t *Throttle) expired(rec Record, now time.Time) bool {
	if !rec.LockedUntil.IsZero() {
		return !now.Before(rec.LockedUntil)
	}
	return now.Sub(rec.FirstFailureAt) >= t.window
}

func (t *Throttle) ttl(rec Record, now time.Time) time.Duration {
	if !rec.LockedUntil.IsZero() {
		return rec.LockedUntil.Sub(now)
	}
	return rec.FirstFailureAt.Add(t.window).Sub(now)
}

func (t *Throttle) anomaly(ctx context.Context, key, msg string, err error) {
	attrs := []any{slog.String("identifier", util.MaskIdentifier(key))}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	t.logger.Warn(msg, attrs...)
	if delErr := t.store.Delete(ctx, key); delErr != nil {
		t.logger.Debug("failed to delete anomalous lockout record", "error", delErr)
	}
}
