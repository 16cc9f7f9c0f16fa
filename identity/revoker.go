package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Revoker reports a session id to the authentication backend for explicit
// invalidation.
type Revoker interface {
	Revoke(ctx context.Context, sessionID string) error
}

// RevokerFunc adapts a function to Revoker.
type RevokerFunc func(ctx context.Context, sessionID string) error

func (f RevokerFunc) Revoke(ctx context.Context, sessionID string) error {
	return f(ctx, sessionID)
}

// NopRevoker discards every report.
type NopRevoker struct{}

func (NopRevoker) Revoke(context.Context, string) error { return nil }

const (
	// revokeQueueSize is the bounded channel capacity for pending reports.
	revokeQueueSize      = 1024
	defaultRevokeTimeout = 10 * time.Second
)

// ErrRevokerClosed is returned by AsyncRevoker.Revoke after Close.
var ErrRevokerClosed = errors.New("revoker closed")

// AsyncRevoker makes revocation fire-and-forget. Reports are enqueued
// without blocking into a bounded channel and delivered by a background
// goroutine; a full queue drops the report with a warning.
type AsyncRevoker struct {
	next    Revoker
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan string
	wg     sync.WaitGroup
}

var _ Revoker = (*AsyncRevoker)(nil)

// AsyncOption configures an AsyncRevoker.
type AsyncOption func(*AsyncRevoker)

// WithRevokeTimeout bounds each delivery attempt.
func WithRevokeTimeout(d time.Duration) AsyncOption {
	return func(a *AsyncRevoker) { a.timeout = d }
}

// WithRevokeLogger sets the logger for delivery failures.
func WithRevokeLogger(l *slog.Logger) AsyncOption {
	return func(a *AsyncRevoker) { a.logger = l }
}

// NewAsyncRevoker starts the delivery loop in front of next.
func NewAsyncRevoker(next Revoker, opts ...AsyncOption) *AsyncRevoker {
	a := &AsyncRevoker{
		next:    next,
		timeout: defaultRevokeTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		queue:   make(chan string, revokeQueueSize),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "revoker")
	a.wg.Add(1)
	go a.loop()
	return a
}

// Revoke enqueues sessionID for delivery. It never blocks.
func (a *AsyncRevoker) Revoke(_ context.Context, sessionID string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrRevokerClosed
	}
	select {
	case a.queue <- sessionID:
	default:
		a.logger.Warn("revocation queue full, dropping report", "session", ShortID(sessionID))
	}
	return nil
}

// Close stops accepting reports and waits for queued ones to be delivered.
func (a *AsyncRevoker) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *AsyncRevoker) loop() {
	defer a.wg.Done()
	for id := range a.queue {
		a.deliver(id)
	}
}

func (a *AsyncRevoker) deliver(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.next.Revoke(ctx, sessionID); err != nil {
		a.logger.Warn("session revocation failed", "session", ShortID(sessionID), "error", err)
	}
}
