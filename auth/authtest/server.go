// Package authtest provides an in-process fake of the authentication
// backend for tests and local development. It is not an identity provider:
// accounts come from a fixed table and secrets are compared verbatim.
package authtest

import (
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/jmcleod/sessionguard/auth"
	"github.com/jmcleod/sessionguard/internal/util"
)

//go:embed openapi.yaml
var openapiSpec []byte

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 24 * time.Hour
)

// FailureMode selects how an injected failure responds.
type FailureMode int

const (
	// FailTransient answers 503 Service Unavailable.
	FailTransient FailureMode = iota
	// FailUnauthorized answers 401 Unauthorized.
	FailUnauthorized
)

func (m FailureMode) status() int {
	if m == FailUnauthorized {
		return http.StatusUnauthorized
	}
	return http.StatusServiceUnavailable
}

// Calls counts requests per endpoint.
type Calls struct {
	SignIn  int
	Refresh int
	Rotate  int
	SignOut int
}

type session struct {
	subject      string
	refreshToken string
	refreshExp   time.Time
}

// Server is the fake backend.
type Server struct {
	signingKey    []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	rotateRefresh bool
	omitExpiry    bool
	clock         clockwork.Clock
	logger        *slog.Logger

	mu              sync.Mutex
	accounts        map[string]string
	sessions        map[string]*session // by session id
	byRefresh       map[string]string   // refresh token -> session id
	revoked         map[string]bool
	refreshFailures []FailureMode
	signOutFailures int
	calls           Calls
}

// Option configures a Server.
type Option func(*Server)

// WithAccount adds an identifier and secret to the account table.
func WithAccount(identifier, secret string) Option {
	return func(s *Server) { s.accounts[util.NormalizeIdentifier(identifier)] = secret }
}

func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) { s.accessTTL = d }
}

func WithRefreshTTL(d time.Duration) Option {
	return func(s *Server) { s.refreshTTL = d }
}

// WithRotatingRefreshTokens makes every refresh issue a new refresh token
// and invalidate the old one.
func WithRotatingRefreshTokens() Option {
	return func(s *Server) { s.rotateRefresh = true }
}

// WithoutAccessExpiry omits accessExpiresAt from responses, leaving only
// the JWT exp claim.
func WithoutAccessExpiry() Option {
	return func(s *Server) { s.omitExpiry = true }
}

// WithSigningKey sets the HS256 key used for access tokens.
func WithSigningKey(key []byte) Option {
	return func(s *Server) { s.signingKey = key }
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Server) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer returns a fake backend. A random signing key is generated
// unless one is supplied.
func NewServer(opts ...Option) *Server {
	s := &Server{
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		clock:      clockwork.NewRealClock(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		accounts:   make(map[string]string),
		sessions:   make(map[string]*session),
		byRefresh:  make(map[string]string),
		revoked:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.signingKey) == 0 {
		key, err := util.RandomBytes(32)
		if err != nil {
			panic(fmt.Sprintf("authtest: generating signing key: %v", err))
		}
		s.signingKey = key
	}
	s.logger = s.logger.With("component", "authtest")
	return s
}

// Router returns the backend routes plus the OpenAPI document and docs UI.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Group(func(r chi.Router) {
		r.Use(tokenHeaders)
		r.Post("/auth/signin", s.signIn)
		r.Post("/auth/refresh", s.refresh)
		r.Post("/auth/rotate", s.rotate)
		r.Post("/auth/signout", s.signOut)
		r.Get("/api/me", s.me)
	})
	return r
}

// FailRefreshes makes the next n refresh requests fail with mode.
func (s *Server) FailRefreshes(mode FailureMode, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.refreshFailures = append(s.refreshFailures, mode)
	}
}

// FailSignOuts makes the next n sign-out requests answer 503.
func (s *Server) FailSignOuts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signOutFailures += n
}

// Calls returns the request counts so far.
func (s *Server) Calls() Calls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Revoked reports whether sessionID was signed out.
func (s *Server) Revoked(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[sessionID]
}

// ActiveSessions returns the number of sessions not yet signed out.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var req auth.SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.SignIn++

	subject := util.NormalizeIdentifier(req.Identifier)
	secret, ok := s.accounts[subject]
	if !ok || subtle.ConstantTimeCompare([]byte(secret), []byte(req.Credential)) != 1 {
		s.logger.Info("sign-in rejected", "identifier", util.MaskIdentifier(subject))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	resp, err := s.open(subject, s.clock.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// open starts a backend session for subject. The caller holds s.mu.
func (s *Server) open(subject string, now time.Time) (auth.SignInResponse, error) {
	sid := uuid.New().String()
	refreshToken, err := util.RandomToken(32)
	if err != nil {
		return auth.SignInResponse{}, err
	}
	sess := &session{subject: subject, refreshToken: refreshToken, refreshExp: now.Add(s.refreshTTL)}
	access, accessExp, err := s.mint(sid, subject, now)
	if err != nil {
		return auth.SignInResponse{}, err
	}
	s.sessions[sid] = sess
	s.byRefresh[refreshToken] = sid

	resp := auth.SignInResponse{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: &sess.refreshExp,
		SessionID:        sid,
	}
	if !s.omitExpiry {
		resp.AccessExpiresAt = &accessExp
	}
	return resp, nil
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req auth.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Refresh++

	if len(s.refreshFailures) > 0 {
		mode := s.refreshFailures[0]
		s.refreshFailures = s.refreshFailures[1:]
		writeError(w, mode.status(), "injected failure")
		return
	}

	now := s.clock.Now()
	sid, ok := s.byRefresh[req.RefreshToken]
	sess := s.sessions[sid]
	if !ok || sess == nil || !now.Before(sess.refreshExp) {
		writeError(w, http.StatusUnauthorized, "refresh token invalid or expired")
		return
	}

	access, accessExp, err := s.mint(sid, sess.subject, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := auth.RefreshResponse{AccessToken: access}
	if !s.omitExpiry {
		resp.AccessExpiresAt = &accessExp
	}
	if s.rotateRefresh {
		next, err := util.RandomToken(32)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		delete(s.byRefresh, sess.refreshToken)
		sess.refreshToken = next
		s.byRefresh[next] = sid
		resp.RefreshToken = next
		resp.RefreshExpiresAt = &sess.refreshExp
	}
	writeJSON(w, http.StatusOK, resp)
}

// rotate ends the session holding the refresh token and opens a new one
// for the same subject.
func (s *Server) rotate(w http.ResponseWriter, r *http.Request) {
	var req auth.RotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Rotate++

	now := s.clock.Now()
	sid, ok := s.byRefresh[req.RefreshToken]
	sess := s.sessions[sid]
	if !ok || sess == nil || !now.Before(sess.refreshExp) {
		writeError(w, http.StatusUnauthorized, "refresh token invalid or expired")
		return
	}
	resp, err := s.open(sess.subject, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	delete(s.byRefresh, sess.refreshToken)
	delete(s.sessions, sid)
	s.revoked[sid] = true
	s.logger.Info("session rotated", "identifier", util.MaskIdentifier(sess.subject))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	var req auth.SignOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.SignOut++

	if s.signOutFailures > 0 {
		s.signOutFailures--
		writeError(w, http.StatusServiceUnavailable, "injected failure")
		return
	}
	if sess, ok := s.sessions[req.SessionID]; ok {
		delete(s.byRefresh, sess.refreshToken)
		delete(s.sessions, req.SessionID)
	}
	s.revoked[req.SessionID] = true
	w.WriteHeader(http.StatusNoContent)
}

// MeResponse is the body of GET /api/me.
type MeResponse struct {
	Subject     string `json:"subject"`
	SessionID   string `json:"sessionId"`
	AntiForgery bool   `json:"antiForgery"`
}

// me is a protected resource for exercising bearer transports.
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	claims, err := s.Verify(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid access token")
		return
	}

	s.mu.Lock()
	_, live := s.sessions[claims.SessionID]
	s.mu.Unlock()
	if !live {
		writeError(w, http.StatusUnauthorized, "session ended")
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{
		Subject:     claims.Subject,
		SessionID:   claims.SessionID,
		AntiForgery: r.Header.Get("X-CSRF-Token") != "",
	})
}

// AccessClaims are the claims carried by minted access tokens.
type AccessClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

func (s *Server) mint(sid, subject string, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := AccessClaims{
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	// JWT timestamps have second precision; report what the token says.
	return token, claims.ExpiresAt.Time, nil
}

// Verify parses and validates an access token minted by this server.
func (s *Server) Verify(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, errors.New("access token has no session id")
	}
	return claims, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, auth.ErrorResponse{Error: msg})
}
