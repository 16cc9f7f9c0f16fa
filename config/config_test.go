package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionguard/session"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8080", cfg.BackendURL)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.PostgresDSN)

	// The defaults line up with the session package's own.
	assert.Equal(t, session.DefaultConfig(), cfg.Session())
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"SESSIONGUARD_BACKEND_URL":          "https://auth.example.com",
		"SESSIONGUARD_LOCKOUT_THRESHOLD":    "3",
		"SESSIONGUARD_IDLE_TIMEOUT":         "1h",
		"SESSIONGUARD_IDLE_WARNING_WINDOW":  "10m",
		"SESSIONGUARD_REFRESH_MAX_ATTEMPTS": "5",
		"LOCKOUT_THRESHOLD":                 "99",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://auth.example.com", cfg.BackendURL)
	assert.Equal(t, 3, cfg.LockoutThreshold, "unprefixed variables are ignored")
	assert.Equal(t, time.Hour, cfg.IdleTimeout)
	assert.Equal(t, 10*time.Minute, cfg.IdleWarningWindow)
	assert.Equal(t, 5, cfg.Session().RefreshMaxAttempts)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"zero threshold":          {"SESSIONGUARD_LOCKOUT_THRESHOLD": "0"},
		"warning exceeds timeout": {"SESSIONGUARD_IDLE_TIMEOUT": "5m", "SESSIONGUARD_IDLE_WARNING_WINDOW": "5m"},
		"negative margin":         {"SESSIONGUARD_REFRESH_SAFETY_MARGIN": "-1s"},
		"backoff max below base":  {"SESSIONGUARD_REFRESH_BACKOFF_BASE": "10s", "SESSIONGUARD_REFRESH_BACKOFF_MAX": "1s"},
		"bad backend url":         {"SESSIONGUARD_BACKEND_URL": "ftp://x"},
		"short wrapping key":      {"SESSIONGUARD_WRAPPING_KEY": "abcd"},
		"zero refresh attempts":   {"SESSIONGUARD_REFRESH_MAX_ATTEMPTS": "0"},
	}
	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(environ)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParse_Unparseable(t *testing.T) {
	_, err := Parse(map[string]string{"SESSIONGUARD_IDLE_TIMEOUT": "soon"})
	assert.Error(t, err)
}

func TestWrappingKeyBytes(t *testing.T) {
	key := strings.Repeat("ab", 32)
	cfg, err := Parse(map[string]string{"SESSIONGUARD_WRAPPING_KEY": key})
	require.NoError(t, err)

	b, err := cfg.WrappingKeyBytes()
	require.NoError(t, err)
	assert.Len(t, b, 32)

	b, err = Config{}.WrappingKeyBytes()
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SESSIONGUARD_DATA_DIR=/var/lib/sessionguard\n"), 0o600))
	t.Setenv("SESSIONGUARD_BACKEND_URL", "https://env.example.com")
	// godotenv does not override variables already present, and sets
	// the rest on the process environment.
	t.Setenv("SESSIONGUARD_DATA_DIR", "")
	require.NoError(t, os.Unsetenv("SESSIONGUARD_DATA_DIR"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/sessionguard", cfg.DataDir)
	assert.Equal(t, "https://env.example.com", cfg.BackendURL)
}

func TestLoad_MissingDotEnv(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
