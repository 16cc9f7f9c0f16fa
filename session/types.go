package session

import (
	"time"

	"github.com/jmcleod/sessionguard/identity"
	"github.com/jmcleod/sessionguard/throttle"
)

// Outcome classifies a sign-in attempt that reached a decision.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeLocked
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeLocked:
		return "locked"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reason explains why a session ended.
type Reason string

const (
	ReasonUserInitiated Reason = "user_initiated"
	ReasonIdleTimeout   Reason = "idle_timeout"
	ReasonRefreshFailed Reason = "refresh_failed"
)

// Request is a sign-in attempt.
type Request struct {
	Identifier string
	Secret     string
	Device     identity.Device
}

// Result is the outcome of a sign-in attempt. Status reflects the
// identifier's throttle record after the attempt.
type Result struct {
	Outcome Outcome
	Status  throttle.Status
}

// RemainingLockout returns the lockout left for a locked result.
func (r Result) RemainingLockout() time.Duration {
	return time.Duration(r.Status.RemainingLockoutSeconds) * time.Second
}
