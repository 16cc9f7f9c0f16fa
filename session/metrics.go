package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertSignInFailureSpike AlertType = "sign_in_failure_spike"
	AlertLockoutSpike       AlertType = "lockout_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultSignInFailureWindow    = time.Minute
	defaultSignInFailureThreshold = 50
	defaultLockoutWindow          = 5 * time.Minute
	defaultLockoutThreshold       = 10
)

// window counts events in a sliding time window.
type window struct {
	events    []time.Time
	span      time.Duration
	threshold int
}

// add records an event at now and reports the count if the threshold was
// reached. The window is emptied after it fires so one spike alerts once.
func (w *window) add(now time.Time) (int, bool) {
	w.events = append(w.events, now)
	cutoff := now.Add(-w.span)
	start := 0
	for start < len(w.events) && w.events[start].Before(cutoff) {
		start++
	}
	w.events = w.events[start:]
	if len(w.events) < w.threshold {
		return 0, false
	}
	n := len(w.events)
	w.events = w.events[:0]
	return n, true
}

// metricsCollector turns audit events into anomaly alerts.
type metricsCollector struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	failures window
	lockouts window
	alertFn  AlertFunc
}

func newMetricsCollector(alertFn AlertFunc, clock clockwork.Clock, span time.Duration, threshold int) *metricsCollector {
	return &metricsCollector{
		clock:    clock,
		failures: window{span: span, threshold: threshold},
		lockouts: window{span: defaultLockoutWindow, threshold: defaultLockoutThreshold},
		alertFn:  alertFn,
	}
}

func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}

	m.mu.Lock()
	now := m.clock.Now()
	var alert *AlertEvent
	switch event {
	case AuditSignInFailure:
		if n, ok := m.failures.add(now); ok {
			alert = &AlertEvent{
				Type:      AlertSignInFailureSpike,
				Message:   "sign-in failure rate exceeds threshold",
				Count:     n,
				Threshold: m.failures.threshold,
				Timestamp: now,
			}
		}
	case AuditSignInLocked:
		if n, ok := m.lockouts.add(now); ok {
			alert = &AlertEvent{
				Type:      AlertLockoutSpike,
				Message:   "locked-out sign-in attempts exceed threshold",
				Count:     n,
				Threshold: m.lockouts.threshold,
				Timestamp: now,
			}
		}
	}
	m.mu.Unlock()

	if alert != nil {
		m.alertFn(*alert)
	}
}
