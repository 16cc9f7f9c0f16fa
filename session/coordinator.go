// Package session ties the credential store, session identity, login
// throttle, token lifecycle, and idle monitor into one Coordinator.
//
// The Coordinator is the only component a host application talks to. It
// owns every write to the credential store and identity manager, and all
// ways a session can end (sign-out, idle timeout, failed refresh) run
// through a single teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jmcleod/sessionguard/auth"
	"github.com/jmcleod/sessionguard/credential"
	"github.com/jmcleod/sessionguard/identity"
	"github.com/jmcleod/sessionguard/idle"
	"github.com/jmcleod/sessionguard/internal/util"
	"github.com/jmcleod/sessionguard/lifecycle"
	"github.com/jmcleod/sessionguard/throttle"
)

// Coordinator manages one principal's authenticated session.
type Coordinator struct {
	backend  Backend
	store    credential.Store
	identity *identity.Manager
	throttle *throttle.Throttle
	tokens   *lifecycle.Manager
	idle     *idle.Monitor

	cfg     Config
	clock   clockwork.Clock
	logger  *slog.Logger
	alertFn AlertFunc
	audit   *auditLogger

	// revoker is set when the Coordinator built its own identity manager
	// and must drain the revocation queue on Close.
	revoker *identity.AsyncRevoker

	// mu serializes session establishment and teardown.
	mu     sync.Mutex
	epoch  uint64
	active bool
	closed bool

	subsMu      sync.Mutex
	nextSub     uint64
	logoutSubs  map[uint64]func(Reason)
	warningSubs map[uint64]func(time.Duration)
}

// New returns a Coordinator for backend. Collaborators not injected
// through options are built from the Config.
func New(backend Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:     backend,
		cfg:         DefaultConfig(),
		clock:       clockwork.NewRealClock(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		logoutSubs:  make(map[uint64]func(Reason)),
		warningSubs: make(map[uint64]func(time.Duration)),
	}
	for _, opt := range opts {
		opt(c)
	}
	base := c.logger
	c.logger = base.With("component", "session")

	if c.store == nil {
		c.store = credential.NewEnclaveStore(credential.WithClock(c.clock), credential.WithLogger(base))
	}
	if c.identity == nil {
		c.revoker = identity.NewAsyncRevoker(identity.RevokerFunc(backend.SignOut), identity.WithRevokeLogger(base))
		c.identity = identity.NewManager(
			identity.WithRevoker(c.revoker),
			identity.WithClock(c.clock),
			identity.WithLogger(base))
	}
	if c.throttle == nil {
		c.throttle = throttle.New(
			throttle.WithThreshold(c.cfg.LockoutThreshold),
			throttle.WithLockoutDuration(c.cfg.LockoutDuration),
			throttle.WithFailureWindow(c.cfg.FailureWindow),
			throttle.WithClock(c.clock),
			throttle.WithLogger(base))
	}
	if c.tokens == nil {
		c.tokens = lifecycle.New(c.store, refresher(backend),
			lifecycle.WithSafetyMargin(c.cfg.RefreshSafetyMargin),
			lifecycle.WithBackoff(c.cfg.RefreshBackoffBase, c.cfg.RefreshBackoffMax, c.cfg.RefreshMaxAttempts),
			lifecycle.WithRequestTimeout(c.cfg.RequestTimeout),
			lifecycle.WithClock(c.clock),
			lifecycle.WithLogger(base))
	}
	if c.idle == nil {
		c.idle = idle.New(
			idle.WithTimeout(c.cfg.IdleTimeout),
			idle.WithWarningWindow(c.cfg.IdleWarningWindow),
			idle.WithCheckInterval(c.cfg.IdleCheckInterval),
			idle.WithClock(c.clock),
			idle.WithLogger(base))
	}

	threshold, span := c.cfg.AlertThreshold, c.cfg.AlertWindow
	if threshold <= 0 {
		threshold = defaultSignInFailureThreshold
	}
	if span <= 0 {
		span = defaultSignInFailureWindow
	}
	c.audit = newAuditLogger(base, c.clock, newMetricsCollector(c.alertFn, c.clock, span, threshold))
	return c
}

// SignIn authenticates against the backend unless the identifier is locked
// out. Rejected credentials and lockouts are reported through the Result;
// an error means the attempt could not be decided (network failure,
// storage failure, or a closed Coordinator) and is not counted.
func (c *Coordinator) SignIn(ctx context.Context, req Request) (Result, error) {
	if c.isClosed() {
		return Result{}, ErrClosed
	}
	masked := util.MaskIdentifier(util.NormalizeIdentifier(req.Identifier))

	// One read decides both the outcome and the reported remaining time.
	if st := c.throttle.Status(ctx, req.Identifier); st.RemainingLockoutSeconds > 0 {
		c.audit.log(ctx, AuditSignInLocked,
			slog.String("identifier", masked),
			slog.Int("remaining_seconds", st.RemainingLockoutSeconds))
		return Result{Outcome: OutcomeLocked, Status: st}, nil
	}

	res, err := c.backend.SignIn(ctx, req.Identifier, req.Secret)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		if _, ferr := c.throttle.RecordFailure(ctx, req.Identifier); ferr != nil {
			c.logger.Warn("failed to record sign-in failure", "error", ferr)
		}
		st := c.throttle.Status(ctx, req.Identifier)
		c.audit.log(ctx, AuditSignInFailure,
			slog.String("identifier", masked),
			slog.Int("failure_count", st.FailureCount))
		return Result{Outcome: OutcomeFailed, Status: st}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("signing in: %w", err)
	}

	if err := c.throttle.RecordSuccess(ctx, req.Identifier); err != nil {
		c.logger.Warn("failed to reset sign-in throttle", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Result{}, ErrClosed
	}
	if c.active {
		c.stopLocked()
		c.audit.log(ctx, AuditSessionReplaced)
	}

	// Issue reports the replaced identity, if any, for revocation.
	ident, err := c.identity.Issue(ctx, identity.Params{SessionID: res.SessionID, Device: req.Device})
	if err != nil {
		c.discardLocked(ctx)
		return Result{}, fmt.Errorf("issuing session identity: %w", err)
	}
	if err := c.store.Put(ctx, res.Credential); err != nil {
		c.discardLocked(ctx)
		return Result{}, fmt.Errorf("storing credential: %w", err)
	}
	if err := c.startLocked(); err != nil {
		c.discardLocked(ctx)
		return Result{}, err
	}

	c.audit.log(ctx, AuditSignInSuccess,
		slog.String("identifier", masked),
		slog.String("session_id", identity.ShortID(ident.SessionID)),
		slog.String("fingerprint", ident.Fingerprint))
	return Result{Outcome: OutcomeSuccess}, nil
}

// Resume restores a session from a persisted credential, for example after
// a process restart. It reports false if no live credential exists. The
// resumed session gets a fresh identity bound to device.
func (c *Coordinator) Resume(ctx context.Context, device identity.Device) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	if c.active {
		return true, nil
	}

	cred, ok := c.store.Get(ctx)
	if !ok {
		return false, nil
	}
	var sid string
	if r, ok := c.backend.(SessionIDResolver); ok {
		sid = r.SessionIDFromCredential(cred)
	}
	ident, err := c.identity.Issue(ctx, identity.Params{SessionID: sid, Device: device})
	if err != nil {
		return false, fmt.Errorf("issuing session identity: %w", err)
	}
	if err := c.startLocked(); err != nil {
		c.discardLocked(ctx)
		return false, err
	}
	c.audit.log(ctx, AuditSessionResumed,
		slog.String("session_id", identity.ShortID(ident.SessionID)),
		slog.Time("access_expires_at", cred.AccessExpiresAt))
	return true, nil
}

// RotateSession replaces the backend session and the session identity
// with new ones for the same principal, keeping the device context. The
// previous session id is revoked. The refresh loop is paused for the
// exchange so a refresh of the old session cannot overwrite the new
// credential.
func (c *Coordinator) RotateSession(ctx context.Context) (identity.Context, error) {
	rotator, ok := c.backend.(SessionRotator)
	if !ok {
		return identity.Context{}, ErrRotationUnsupported
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return identity.Context{}, ErrClosed
	}
	if !c.active {
		return identity.Context{}, ErrNotAuthenticated
	}
	cur, ok := c.store.Get(ctx)
	if !ok {
		return identity.Context{}, ErrNotAuthenticated
	}
	prev, _ := c.identity.Current()

	c.tokens.Stop()
	defer func() {
		if err := c.startTokensLocked(c.epoch); err != nil {
			c.logger.Warn("failed to restart token manager after rotation", "error", err)
		}
	}()

	res, err := rotator.Rotate(ctx, cur)
	if err != nil {
		return identity.Context{}, fmt.Errorf("rotating session: %w", err)
	}
	if err := c.store.Put(ctx, res.Credential); err != nil {
		return identity.Context{}, fmt.Errorf("storing credential: %w", err)
	}
	// Rotate reports the previous session id for revocation.
	next, err := c.identity.Rotate(ctx, res.SessionID)
	if err != nil {
		return identity.Context{}, fmt.Errorf("rotating session identity: %w", err)
	}

	c.audit.log(ctx, AuditSessionRotated,
		slog.String("previous_session_id", identity.ShortID(prev.SessionID)),
		slog.String("session_id", identity.ShortID(next.SessionID)),
		slog.String("fingerprint", next.Fingerprint))
	return next, nil
}

// SignOut ends the session and notifies OnForcedLogout subscribers with
// ReasonUserInitiated. Signing out without a session is a no-op.
func (c *Coordinator) SignOut(ctx context.Context) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	err := c.teardownLocked(ctx, ReasonUserInitiated)
	c.mu.Unlock()

	c.notifyLogout(ReasonUserInitiated)
	return err
}

// IsAuthenticated reports whether a live credential and identity exist.
func (c *Coordinator) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false
	}
	if _, ok := c.identity.Current(); !ok {
		return false
	}
	_, ok := c.store.Get(context.Background())
	return ok
}

// Session returns the current session identity. It carries no tokens.
func (c *Coordinator) Session() (identity.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return identity.Context{}, false
	}
	return c.identity.Current()
}

// NextRefresh returns when the access token is next due for refresh.
func (c *Coordinator) NextRefresh() (time.Time, bool) {
	return c.tokens.NextRefresh()
}

// RecordActivity reports user interaction to the idle monitor.
func (c *Coordinator) RecordActivity() {
	c.idle.RecordActivity()
}

// OnForcedLogout subscribes fn to session endings. Subscribers run after
// teardown has completed and may call SignIn. The returned function
// unsubscribes.
func (c *Coordinator) OnForcedLogout(fn func(Reason)) (unsubscribe func()) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.logoutSubs[id] = fn
	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.logoutSubs, id)
	}
}

// OnIdleWarning subscribes fn to idle warnings. It receives the time left
// before the session expires.
func (c *Coordinator) OnIdleWarning(fn func(remaining time.Duration)) (unsubscribe func()) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.warningSubs[id] = fn
	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.warningSubs, id)
	}
}

// Close stops the background managers without clearing the persisted
// credential, so a later process can Resume. Subscribers are not notified.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.active {
		c.stopLocked()
	}
	if c.revoker != nil {
		c.revoker.Close()
	}
	return nil
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// startLocked starts both managers under a new epoch.
func (c *Coordinator) startLocked() error {
	c.epoch++
	epoch := c.epoch

	if err := c.startTokensLocked(epoch); err != nil {
		return err
	}
	err := c.idle.Start(
		func(remaining time.Duration) { c.onIdleWarning(epoch, remaining) },
		func() { c.forceLogout(epoch, ReasonIdleTimeout, nil) },
	)
	if err != nil {
		c.tokens.Stop()
		return fmt.Errorf("starting idle monitor: %w", err)
	}
	c.active = true
	return nil
}

func (c *Coordinator) startTokensLocked(epoch uint64) error {
	err := c.tokens.Start(
		func(cred credential.Credential) { c.onRefreshed(epoch, cred) },
		func(err error) { c.forceLogout(epoch, ReasonRefreshFailed, err) },
	)
	if err != nil {
		return fmt.Errorf("starting token manager: %w", err)
	}
	return nil
}

// stopLocked stops both managers and retires the current epoch so late
// callbacks from the stopped run are ignored.
func (c *Coordinator) stopLocked() {
	c.epoch++
	c.active = false
	c.tokens.Stop()
	c.idle.Stop()
}

// discardLocked undoes a partially established session.
func (c *Coordinator) discardLocked(ctx context.Context) {
	c.stopLocked()
	c.identity.Invalidate(ctx)
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("failed to clear credential", "error", err)
	}
}

// teardownLocked is the single path by which an established session ends.
func (c *Coordinator) teardownLocked(ctx context.Context, reason Reason) error {
	ident, _ := c.identity.Current()
	c.stopLocked()
	c.identity.Invalidate(ctx)
	err := c.store.Clear(ctx)
	if err != nil {
		c.logger.Warn("failed to clear credential during teardown", "error", err)
	}

	event := AuditForcedLogout
	if reason == ReasonUserInitiated {
		event = AuditSignOut
	}
	c.audit.log(ctx, event,
		slog.String("reason", string(reason)),
		slog.String("session_id", identity.ShortID(ident.SessionID)))
	return err
}

func (c *Coordinator) forceLogout(epoch uint64, reason Reason, cause error) {
	c.mu.Lock()
	if c.epoch != epoch || !c.active {
		c.mu.Unlock()
		return
	}
	if cause != nil {
		c.logger.Warn("ending session", "reason", string(reason), "error", cause)
	}
	c.teardownLocked(context.Background(), reason)
	c.mu.Unlock()

	c.notifyLogout(reason)
}

func (c *Coordinator) onRefreshed(epoch uint64, cred credential.Credential) {
	c.mu.Lock()
	current := c.epoch == epoch && c.active
	c.mu.Unlock()
	if !current {
		return
	}
	c.audit.log(context.Background(), AuditTokenRefreshed,
		slog.Time("access_expires_at", cred.AccessExpiresAt))
}

func (c *Coordinator) onIdleWarning(epoch uint64, remaining time.Duration) {
	c.mu.Lock()
	current := c.epoch == epoch && c.active
	c.mu.Unlock()
	if !current {
		return
	}
	c.audit.log(context.Background(), AuditIdleWarning, slog.Duration("remaining", remaining))

	c.subsMu.Lock()
	subs := make([]func(time.Duration), 0, len(c.warningSubs))
	for _, fn := range c.warningSubs {
		subs = append(subs, fn)
	}
	c.subsMu.Unlock()
	for _, fn := range subs {
		fn(remaining)
	}
}

func (c *Coordinator) notifyLogout(reason Reason) {
	c.subsMu.Lock()
	subs := make([]func(Reason), 0, len(c.logoutSubs))
	for _, fn := range c.logoutSubs {
		subs = append(subs, fn)
	}
	c.subsMu.Unlock()
	for _, fn := range subs {
		fn(reason)
	}
}
