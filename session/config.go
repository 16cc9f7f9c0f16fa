package session

import (
	"time"

	"github.com/jmcleod/sessionguard/idle"
	"github.com/jmcleod/sessionguard/lifecycle"
	"github.com/jmcleod/sessionguard/throttle"
)

// Config holds the policy parameters used when the Coordinator builds its
// own collaborators. Injected collaborators keep their own settings.
type Config struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	FailureWindow    time.Duration

	RefreshSafetyMargin time.Duration
	RefreshBackoffBase  time.Duration
	RefreshBackoffMax   time.Duration
	RefreshMaxAttempts  int
	RequestTimeout      time.Duration

	IdleTimeout       time.Duration
	IdleWarningWindow time.Duration
	IdleCheckInterval time.Duration

	AlertWindow    time.Duration
	AlertThreshold int
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		LockoutThreshold:    throttle.DefaultThreshold,
		LockoutDuration:     throttle.DefaultLockoutDuration,
		FailureWindow:       throttle.DefaultLockoutDuration,
		RefreshSafetyMargin: lifecycle.DefaultSafetyMargin,
		RefreshBackoffBase:  lifecycle.DefaultBackoffBase,
		RefreshBackoffMax:   lifecycle.DefaultBackoffMax,
		RefreshMaxAttempts:  lifecycle.DefaultMaxAttempts,
		RequestTimeout:      lifecycle.DefaultRequestTimeout,
		IdleTimeout:         idle.DefaultTimeout,
		IdleWarningWindow:   idle.DefaultWarningWindow,
		IdleCheckInterval:   idle.DefaultCheckInterval,
		AlertWindow:         defaultSignInFailureWindow,
		AlertThreshold:      defaultSignInFailureThreshold,
	}
}
