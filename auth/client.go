// Package auth is the HTTP client for the external authentication backend.
//
// The backend exposes sign-in, refresh, rotate and sign-out endpoints.
// Response statuses are mapped to the sentinel errors in this package so
// callers can tell a rejected secret from a transient outage.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/sessionguard/credential"
	"github.com/jmcleod/sessionguard/identity"
)

const (
	DefaultTimeout = 10 * time.Second

	// maxResponseSize bounds how much of a response body is read.
	maxResponseSize = 1 << 20
)

// SignInResult is a successful sign-in.
type SignInResult struct {
	Credential credential.Credential
	// SessionID is the backend's session id, empty if it did not send one.
	SessionID string
}

// Client talks to the authentication backend.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

var _ identity.Revoker = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a Client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "auth")
	return c, nil
}

// SignIn exchanges an identifier and secret for a credential.
func (c *Client) SignIn(ctx context.Context, identifier, secret string) (SignInResult, error) {
	var resp SignInResponse
	status, err := c.post(ctx, "/auth/signin", SignInRequest{Identifier: identifier, Credential: secret}, &resp)
	if err != nil {
		return SignInResult{}, err
	}
	switch {
	case status == http.StatusUnauthorized:
		return SignInResult{}, ErrInvalidCredentials
	case status/100 != 2:
		return SignInResult{}, &StatusError{Op: "signin", Status: status, kind: ErrUnexpectedStatus}
	}
	return newSession(resp)
}

// Rotate ends the backend session holding current's refresh token and
// opens a new one for the same principal.
func (c *Client) Rotate(ctx context.Context, current credential.Credential) (SignInResult, error) {
	var resp SignInResponse
	status, err := c.post(ctx, "/auth/rotate", RotateRequest{RefreshToken: current.RefreshToken}, &resp)
	if err != nil {
		return SignInResult{}, err
	}
	switch {
	case status == http.StatusUnauthorized:
		return SignInResult{}, ErrUnauthorized
	case status/100 != 2:
		return SignInResult{}, &StatusError{Op: "rotate", Status: status, kind: ErrUnexpectedStatus}
	}
	return newSession(resp)
}

func newSession(resp SignInResponse) (SignInResult, error) {
	accessExp, err := expiry(resp.AccessToken, resp.AccessExpiresAt)
	if err != nil {
		return SignInResult{}, err
	}
	if resp.RefreshToken == "" || resp.RefreshExpiresAt == nil {
		return SignInResult{}, fmt.Errorf("%w: missing refresh token or expiry", ErrMalformedResponse)
	}
	cred := credential.Credential{
		AccessToken:      resp.AccessToken,
		RefreshToken:     resp.RefreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: *resp.RefreshExpiresAt,
	}
	if err := cred.Validate(); err != nil {
		return SignInResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return SignInResult{Credential: cred, SessionID: resp.SessionID}, nil
}

// Refresh exchanges current's refresh token for a new access token. The
// refresh token is carried over unless the backend rotates it.
func (c *Client) Refresh(ctx context.Context, current credential.Credential) (credential.Credential, error) {
	var resp RefreshResponse
	status, err := c.post(ctx, "/auth/refresh", RefreshRequest{RefreshToken: current.RefreshToken}, &resp)
	if err != nil {
		return credential.Credential{}, err
	}
	switch {
	case status == http.StatusUnauthorized:
		return credential.Credential{}, ErrUnauthorized
	case status/100 != 2:
		return credential.Credential{}, &StatusError{Op: "refresh", Status: status, kind: ErrUnexpectedStatus}
	}

	accessExp, err := expiry(resp.AccessToken, resp.AccessExpiresAt)
	if err != nil {
		return credential.Credential{}, err
	}
	next := credential.Credential{
		AccessToken:      resp.AccessToken,
		RefreshToken:     current.RefreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: current.RefreshExpiresAt,
	}
	if resp.RefreshToken != "" {
		next.RefreshToken = resp.RefreshToken
		if resp.RefreshExpiresAt != nil {
			next.RefreshExpiresAt = *resp.RefreshExpiresAt
		}
	}
	if err := next.Validate(); err != nil {
		return credential.Credential{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return next, nil
}

// SignOut tells the backend to end sessionID. A 5xx response is retried
// once; any other failure is returned to the caller.
func (c *Client) SignOut(ctx context.Context, sessionID string) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var status int
		status, err = c.post(ctx, "/auth/signout", SignOutRequest{SessionID: sessionID}, nil)
		if err != nil {
			return err
		}
		if status/100 == 2 {
			return nil
		}
		err = &StatusError{Op: "signout", Status: status, kind: ErrUnexpectedStatus}
		if status < 500 {
			return err
		}
	}
	return err
}

// Revoke implements identity.Revoker.
func (c *Client) Revoke(ctx context.Context, sessionID string) error {
	return c.SignOut(ctx, sessionID)
}

// post sends body as JSON and decodes a 2xx response into out. It returns
// an error only when no usable response arrived.
func (c *Client) post(ctx context.Context, path string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, fmt.Errorf("reading %s response: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		c.logger.Debug("backend returned error status",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("error", errorMessage(data)))
		return resp.StatusCode, nil
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.base.String(), "/") + path
}

func errorMessage(data []byte) string {
	var e ErrorResponse
	if json.Unmarshal(data, &e) == nil {
		return e.Error
	}
	return ""
}

// expiry returns the access token expiry from the response, falling back
// to the exp claim of a JWT access token. The claim is read without
// verification; the backend is the verifier.
func expiry(accessToken string, explicit *time.Time) (time.Time, error) {
	if accessToken == "" {
		return time.Time{}, fmt.Errorf("%w: missing access token", ErrMalformedResponse)
	}
	if explicit != nil && !explicit.IsZero() {
		return *explicit, nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: no access expiry and token is not a JWT", ErrMalformedResponse)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("%w: no access expiry and no exp claim", ErrMalformedResponse)
	}
	return exp.Time, nil
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrInvalidCredentials) &&
		!errors.Is(err, ErrUnauthorized) &&
		!errors.Is(err, ErrMalformedResponse)
}

// SessionIDFromCredential returns the sid claim of a JWT access token, or
// the empty string if the token carries none.
func (c *Client) SessionIDFromCredential(cred credential.Credential) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(cred.AccessToken, claims); err != nil {
		return ""
	}
	sid, _ := claims["sid"].(string)
	return sid
}
