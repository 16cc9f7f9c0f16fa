package lifecycle

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// Permanent marks err as not worth retrying. The refresh cycle fails
// immediately when the Refresher returns such an error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// newBackOff allows maxAttempts waits: one after each failed attempt. The
// operation gives up when it runs after the last wait.
func (m *Manager) newBackOff(ctx context.Context) backoff.BackOffContext {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     m.backoffBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         m.backoffMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               m.clock,
	}
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(m.maxAttempts)), ctx)
}

// clockTimer drives backoff waits from the manager's clock.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

var _ backoff.Timer = (*clockTimer)(nil)

func (t *clockTimer) Start(d time.Duration) {
	t.Stop()
	t.timer = t.clock.NewTimer(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
