package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditSignInSuccess   AuditEvent = "sign_in_success"
	AuditSignInFailure   AuditEvent = "sign_in_failure"
	AuditSignInLocked    AuditEvent = "sign_in_locked"
	AuditSessionResumed  AuditEvent = "session_resumed"
	AuditSessionReplaced AuditEvent = "session_replaced"
	AuditSessionRotated  AuditEvent = "session_rotated"
	AuditTokenRefreshed  AuditEvent = "token_refreshed"
	AuditIdleWarning     AuditEvent = "idle_warning"
	AuditSignOut         AuditEvent = "sign_out"
	AuditForcedLogout    AuditEvent = "forced_logout"
)

// auditLogger writes structured security audit records.
type auditLogger struct {
	logger  *slog.Logger
	clock   clockwork.Clock
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger, clock clockwork.Clock, metrics *metricsCollector) *auditLogger {
	return &auditLogger{
		logger:  logger.With("component", "audit"),
		clock:   clock,
		metrics: metrics,
	}
}

func (al *auditLogger) log(ctx context.Context, event AuditEvent, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("timestamp", al.clock.Now().UTC().Format(time.RFC3339)),
	}
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", append(base, attrs...)...)
	al.metrics.recordEvent(event)
}
