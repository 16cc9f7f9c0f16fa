// Package identity issues and rotates the session identity: the session id,
// the anti-forgery token, and the device context captured at sign-in.
//
// A Context is never mutated. Rotation issues a brand-new Context and reports
// the old session id to a Revoker so the backend can invalidate it.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/jmcleod/sessionguard/internal/util"
)

const (
	antiForgeryTokenBytes = 32
	fingerprintVersion    = "v1:"
	fingerprintHashLen    = 16
)

// Device is the client context the backend attached at sign-in.
type Device struct {
	OriginIP  string
	UserAgent string
}

// Context is one issued session identity.
type Context struct {
	SessionID        string    `json:"sessionId"`
	AntiForgeryToken string    `json:"antiForgeryToken"`
	OriginIP         string    `json:"originIp"`
	UserAgent        string    `json:"userAgent"`
	Fingerprint      string    `json:"fingerprint"`
	IssuedAt         time.Time `json:"issuedAt"`
}

// Device returns the device context the identity was issued for.
func (c Context) Device() Device {
	return Device{OriginIP: c.OriginIP, UserAgent: c.UserAgent}
}

// LogValue truncates the session id and omits the anti-forgery token.
func (c Context) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("session", ShortID(c.SessionID)),
		slog.String("fingerprint", c.Fingerprint),
	)
}

// ShortID returns the first eight characters of a session id for log lines.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// Params describes the identity to issue. An empty SessionID is generated.
type Params struct {
	SessionID string
	Device    Device
}

// Fingerprint derives a versioned digest of the device context.
func Fingerprint(d Device) string {
	var parts []string
	for _, p := range []string{d.UserAgent, d.OriginIP} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fingerprintVersion + hex.EncodeToString(sum[:fingerprintHashLen])
}

// Manager holds the current session identity for one principal.
type Manager struct {
	mu      sync.Mutex
	current *Context

	revoker Revoker
	clock   clockwork.Clock
	logger  *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRevoker sets where replaced session ids are reported.
func WithRevoker(r Revoker) Option {
	return func(m *Manager) { m.revoker = r }
}

// WithClock sets the clock used for IssuedAt.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a Manager with no current identity.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		revoker: NopRevoker{},
		clock:   clockwork.NewRealClock(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "identity")
	return m
}

// Issue creates a new identity, replacing any current one.
func (m *Manager) Issue(ctx context.Context, p Params) (Context, error) {
	next, err := m.newContext(p.SessionID, p.Device)
	if err != nil {
		return Context{}, err
	}
	m.mu.Lock()
	prev := m.current
	m.current = &next
	m.mu.Unlock()

	m.logger.Debug("session identity issued", "identity", next)
	if prev != nil {
		m.report(ctx, prev.SessionID)
	}
	return next, nil
}

// Rotate replaces the current identity with a new session id and
// anti-forgery token while keeping its device context. An empty sessionID
// generates one. The previous session id is reported for revocation.
func (m *Manager) Rotate(ctx context.Context, sessionID string) (Context, error) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return Context{}, ErrNoSession
	}
	prev := *m.current
	next, err := m.newContext(sessionID, prev.Device())
	if err != nil {
		m.mu.Unlock()
		return Context{}, err
	}
	m.current = &next
	m.mu.Unlock()

	m.logger.Info("session identity rotated",
		slog.String("previous", ShortID(prev.SessionID)),
		slog.String("session", ShortID(next.SessionID)))
	m.report(ctx, prev.SessionID)
	return next, nil
}

// Current returns the current identity, if any.
func (m *Manager) Current() (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Context{}, false
	}
	return *m.current, true
}

// Invalidate clears the current identity and reports it. Calling it with no
// current identity does nothing.
func (m *Manager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()

	if prev != nil {
		m.logger.Debug("session identity invalidated", "identity", *prev)
		m.report(ctx, prev.SessionID)
	}
}

func (m *Manager) newContext(sessionID string, d Device) (Context, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	token, err := util.RandomToken(antiForgeryTokenBytes)
	if err != nil {
		return Context{}, fmt.Errorf("generating anti-forgery token: %w", err)
	}
	return Context{
		SessionID:        sessionID,
		AntiForgeryToken: token,
		OriginIP:         d.OriginIP,
		UserAgent:        d.UserAgent,
		Fingerprint:      Fingerprint(d),
		IssuedAt:         m.clock.Now(),
	}, nil
}

// report hands a replaced session id to the revoker. Failures are logged and
// never returned: the local session is already gone either way.
func (m *Manager) report(ctx context.Context, sessionID string) {
	if err := m.revoker.Revoke(context.WithoutCancel(ctx), sessionID); err != nil {
		m.logger.Warn("failed to report session for revocation",
			slog.String("session", ShortID(sessionID)), slog.Any("error", err))
	}
}
