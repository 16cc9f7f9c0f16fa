// Package config loads sessionguard settings from the environment.
//
// Variables carry the SESSIONGUARD_ prefix. A .env file in the working
// directory is read first if present; variables already set in the
// environment take precedence over it.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/jmcleod/sessionguard/session"
)

// Prefix is prepended to every environment variable name.
const Prefix = "SESSIONGUARD_"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the process configuration for the sessionguard CLI.
type Config struct {
	BackendURL  string `env:"BACKEND_URL" envDefault:"http://127.0.0.1:8080"`
	DataDir     string `env:"DATA_DIR" envDefault:"./data"`
	WrappingKey string `env:"WRAPPING_KEY"`
	RedisURL    string `env:"REDIS_URL"`
	PostgresDSN string `env:"POSTGRES_DSN"`

	LockoutThreshold int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutDuration  time.Duration `env:"LOCKOUT_DURATION" envDefault:"15m"`
	FailureWindow    time.Duration `env:"FAILURE_WINDOW" envDefault:"15m"`

	RefreshSafetyMargin time.Duration `env:"REFRESH_SAFETY_MARGIN" envDefault:"60s"`
	RefreshBackoffBase  time.Duration `env:"REFRESH_BACKOFF_BASE" envDefault:"1s"`
	RefreshBackoffMax   time.Duration `env:"REFRESH_BACKOFF_MAX" envDefault:"30s"`
	RefreshMaxAttempts  int           `env:"REFRESH_MAX_ATTEMPTS" envDefault:"3"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"30m"`
	IdleWarningWindow time.Duration `env:"IDLE_WARNING_WINDOW" envDefault:"5m"`
	IdleCheckInterval time.Duration `env:"IDLE_CHECK_INTERVAL" envDefault:"1s"`

	AlertWindow    time.Duration `env:"ALERT_WINDOW" envDefault:"1m"`
	AlertThreshold int           `env:"ALERT_THRESHOLD" envDefault:"50"`
}

// Load reads an optional .env file and parses the environment.
func Load(dotenvFiles ...string) (Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return Parse(nil)
}

// Parse builds a Config from environ, or from the process environment when
// environ is nil. Unset variables take their defaults.
func Parse(environ map[string]string) (Config, error) {
	opts := env.Options{Prefix: Prefix}
	if environ != nil {
		opts.Environment = environ
	}
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the session components cannot run with.
func (c Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.BackendURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("%w: backend url %q", ErrInvalid, c.BackendURL))
	}
	if c.LockoutThreshold <= 0 {
		errs = append(errs, fmt.Errorf("%w: lockout threshold must be positive", ErrInvalid))
	}
	if c.LockoutDuration <= 0 || c.FailureWindow <= 0 {
		errs = append(errs, fmt.Errorf("%w: lockout duration and failure window must be positive", ErrInvalid))
	}
	if c.RefreshSafetyMargin < 0 {
		errs = append(errs, fmt.Errorf("%w: refresh safety margin is negative", ErrInvalid))
	}
	if c.RefreshBackoffBase <= 0 || c.RefreshBackoffMax < c.RefreshBackoffBase {
		errs = append(errs, fmt.Errorf("%w: refresh backoff max %s is below base %s", ErrInvalid, c.RefreshBackoffMax, c.RefreshBackoffBase))
	}
	if c.RefreshMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("%w: refresh attempts must be at least 1", ErrInvalid))
	}
	if c.IdleTimeout <= 0 || c.IdleCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: idle timeout and check interval must be positive", ErrInvalid))
	}
	if c.IdleWarningWindow < 0 || c.IdleWarningWindow >= c.IdleTimeout {
		errs = append(errs, fmt.Errorf("%w: idle warning window %s must be below the timeout %s", ErrInvalid, c.IdleWarningWindow, c.IdleTimeout))
	}
	if _, err := c.WrappingKeyBytes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// WrappingKeyBytes decodes the hex wrapping key. It returns nil when no key
// is configured.
func (c Config) WrappingKeyBytes() ([]byte, error) {
	if c.WrappingKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.WrappingKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("%w: wrapping key must be 64 hex characters", ErrInvalid)
	}
	return key, nil
}

// Session returns the policy portion of the config for session.New.
func (c Config) Session() session.Config {
	return session.Config{
		LockoutThreshold:    c.LockoutThreshold,
		LockoutDuration:     c.LockoutDuration,
		FailureWindow:       c.FailureWindow,
		RefreshSafetyMargin: c.RefreshSafetyMargin,
		RefreshBackoffBase:  c.RefreshBackoffBase,
		RefreshBackoffMax:   c.RefreshBackoffMax,
		RefreshMaxAttempts:  c.RefreshMaxAttempts,
		RequestTimeout:      c.RequestTimeout,
		IdleTimeout:         c.IdleTimeout,
		IdleWarningWindow:   c.IdleWarningWindow,
		IdleCheckInterval:   c.IdleCheckInterval,
		AlertWindow:         c.AlertWindow,
		AlertThreshold:      c.AlertThreshold,
	}
}
