package idle

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	warnings chan time.Duration
	expired  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{warnings: make(chan time.Duration, 8), expired: make(chan struct{}, 8)}
}

func (r *recorder) onWarning(d time.Duration) { r.warnings <- d }
func (r *recorder) onExpire()                 { r.expired <- struct{}{} }

func startMonitor(t *testing.T, opts ...Option) (*Monitor, *clockwork.FakeClock, *recorder) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	m := New(append([]Option{WithClock(clock)}, opts...)...)
	rec := newRecorder()
	require.NoError(t, m.Start(rec.onWarning, rec.onExpire))
	t.Cleanup(m.Stop)
	clock.BlockUntil(1)
	return m, clock, rec
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		var zero T
		return zero
	}
}

func quiet[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	assert.Never(t, func() bool { return len(ch) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestMonitor_WarnsThenExpires(t *testing.T) {
	m, clock, rec := startMonitor(t)

	clock.Advance(1499 * time.Second)
	quiet(t, rec.warnings)
	assert.Equal(t, Active, m.State())

	clock.Advance(time.Second)
	assert.Equal(t, 5*time.Minute, waitFor(t, rec.warnings))
	assert.Equal(t, WarningIssued, m.State())

	clock.Advance(299 * time.Second)
	quiet(t, rec.expired)
	assert.Empty(t, rec.warnings, "one warning per idle cycle")

	clock.Advance(time.Second)
	waitFor(t, rec.expired)
	assert.Equal(t, Expired, m.State())
	assert.Equal(t, 30*time.Minute, m.IdleFor())
}

func TestMonitor_ActivityAfterWarningPreventsExpiry(t *testing.T) {
	m, clock, rec := startMonitor(t)

	clock.Advance(1500 * time.Second)
	waitFor(t, rec.warnings)

	clock.Advance(100 * time.Second)
	m.RecordActivity()
	assert.Equal(t, Active, m.State())

	clock.Advance(200 * time.Second)
	quiet(t, rec.expired)
	assert.Equal(t, Active, m.State())
	assert.Equal(t, 200*time.Second, m.IdleFor())

	// A fresh idle cycle warns again.
	clock.Advance(1300 * time.Second)
	assert.Equal(t, 5*time.Minute, waitFor(t, rec.warnings))
}

func TestMonitor_ActivityDefersWarning(t *testing.T) {
	m, clock, rec := startMonitor(t)

	clock.Advance(20 * time.Minute)
	m.RecordActivity()
	clock.Advance(20 * time.Minute)
	quiet(t, rec.warnings)
	assert.Equal(t, 20*time.Minute, m.IdleFor())
}

func TestMonitor_BothThresholdsInOneCheck(t *testing.T) {
	var order []string
	done := make(chan struct{})
	clock := clockwork.NewFakeClock()
	m := New(WithClock(clock), WithCheckInterval(time.Hour))
	require.NoError(t, m.Start(
		func(time.Duration) { order = append(order, "warning") },
		func() { order = append(order, "expire"); close(done) },
	))
	defer m.Stop()

	clock.BlockUntil(1)
	clock.Advance(time.Hour)
	waitFor(t, done)
	assert.Equal(t, []string{"warning", "expire"}, order)
}

func TestMonitor_ActivityIgnoredWhenStoppedOrExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(WithClock(clock))
	m.RecordActivity()
	assert.Equal(t, Stopped, m.State())
	assert.Zero(t, m.IdleFor())

	rec := newRecorder()
	require.NoError(t, m.Start(rec.onWarning, rec.onExpire))
	defer m.Stop()
	clock.BlockUntil(1)
	clock.Advance(30 * time.Minute)
	waitFor(t, rec.expired)

	m.RecordActivity()
	assert.Equal(t, Expired, m.State(), "expiry is terminal")
}

func TestMonitor_StartWhileRunning(t *testing.T) {
	m, _, _ := startMonitor(t)
	assert.ErrorIs(t, m.Start(nil, nil), ErrAlreadyRunning)
}

func TestMonitor_StopFromWarningSuppressesExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(WithClock(clock), WithCheckInterval(time.Hour))
	var expired atomic.Bool
	warned := make(chan struct{})
	require.NoError(t, m.Start(func(time.Duration) {
		m.Stop()
		close(warned)
	}, func() { expired.Store(true) }))

	clock.BlockUntil(1)
	clock.Advance(time.Hour)
	waitFor(t, warned)
	assert.Never(t, expired.Load, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, Stopped, m.State())
}

func TestMonitor_Restart(t *testing.T) {
	m, clock, rec := startMonitor(t)
	m.Stop()
	m.Stop()
	assert.Equal(t, Stopped, m.State())

	clock.Advance(time.Hour)
	quiet(t, rec.warnings)

	require.NoError(t, m.Start(rec.onWarning, rec.onExpire))
	assert.Equal(t, Active, m.State())
	assert.Zero(t, m.IdleFor())
}

func TestNew_ClampsInvalidWindow(t *testing.T) {
	m := New(WithTimeout(time.Minute), WithWarningWindow(2*time.Minute))
	assert.Zero(t, m.warningWindow)
}
