package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionguard/auth"
	"github.com/jmcleod/sessionguard/auth/authtest"
	"github.com/jmcleod/sessionguard/credential"
)

func newBackend(t *testing.T, opts ...authtest.Option) (*authtest.Server, *auth.Client) {
	t.Helper()
	backend := authtest.NewServer(append([]authtest.Option{authtest.WithAccount("a@x.com", "hunter2")}, opts...)...)
	srv := httptest.NewServer(backend.Router())
	t.Cleanup(srv.Close)

	client, err := auth.NewClient(srv.URL)
	require.NoError(t, err)
	return backend, client
}

func TestClient_SignIn(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now().Truncate(time.Second))
	_, client := newBackend(t, authtest.WithClock(clock))

	res, err := client.SignIn(context.Background(), "a@x.com", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.NotEmpty(t, res.Credential.AccessToken)
	assert.NotEmpty(t, res.Credential.RefreshToken)
	assert.True(t, clock.Now().Add(time.Hour).Equal(res.Credential.AccessExpiresAt))
}

func TestClient_SignInInvalidCredentials(t *testing.T) {
	_, client := newBackend(t)
	_, err := client.SignIn(context.Background(), "a@x.com", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.False(t, auth.IsTransient(err))
}

func TestClient_FallsBackToJWTExpiry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now().Truncate(time.Second))
	_, client := newBackend(t, authtest.WithClock(clock), authtest.WithoutAccessExpiry())

	res, err := client.SignIn(context.Background(), "a@x.com", "hunter2")
	require.NoError(t, err)
	assert.True(t, clock.Now().Add(time.Hour).Equal(res.Credential.AccessExpiresAt),
		"expiry should come from the exp claim")

	next, err := client.Refresh(context.Background(), res.Credential)
	require.NoError(t, err)
	assert.False(t, next.AccessExpiresAt.IsZero())
}

func TestClient_RejectsMissingExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accessToken":"opaque","refreshToken":"r","refreshExpiresAt":"2099-01-01T00:00:00Z","sessionId":"s"}`))
	}))
	defer srv.Close()
	client, err := auth.NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.SignIn(context.Background(), "a@x.com", "hunter2")
	assert.ErrorIs(t, err, auth.ErrMalformedResponse)
}

func TestClient_RejectsGarbageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()
	client, err := auth.NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.Refresh(context.Background(), credential.Credential{RefreshToken: "r"})
	assert.ErrorIs(t, err, auth.ErrMalformedResponse)
}

func TestClient_RefreshStatusMapping(t *testing.T) {
	backend, client := newBackend(t, authtest.WithRotatingRefreshTokens())
	ctx := context.Background()
	res, err := client.SignIn(ctx, "a@x.com", "hunter2")
	require.NoError(t, err)

	backend.FailRefreshes(authtest.FailTransient, 1)
	_, err = client.Refresh(ctx, res.Credential)
	assert.ErrorIs(t, err, auth.ErrUnexpectedStatus)
	assert.True(t, auth.IsTransient(err))
	var statusErr *auth.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)

	backend.FailRefreshes(authtest.FailUnauthorized, 1)
	_, err = client.Refresh(ctx, res.Credential)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.False(t, auth.IsTransient(err))

	next, err := client.Refresh(ctx, res.Credential)
	require.NoError(t, err)
	assert.NotEqual(t, res.Credential.RefreshToken, next.RefreshToken, "rotated refresh token is adopted")
}

func TestClient_RefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	_, client := newBackend(t)
	ctx := context.Background()
	res, err := client.SignIn(ctx, "a@x.com", "hunter2")
	require.NoError(t, err)

	next, err := client.Refresh(ctx, res.Credential)
	require.NoError(t, err)
	assert.Equal(t, res.Credential.RefreshToken, next.RefreshToken)
	assert.True(t, res.Credential.RefreshExpiresAt.Equal(next.RefreshExpiresAt))
}

func TestClient_Rotate(t *testing.T) {
	backend, client := newBackend(t)
	ctx := context.Background()
	res, err := client.SignIn(ctx, "a@x.com", "hunter2")
	require.NoError(t, err)

	next, err := client.Rotate(ctx, res.Credential)
	require.NoError(t, err)
	assert.NotEqual(t, res.SessionID, next.SessionID)
	assert.NotEqual(t, res.Credential.RefreshToken, next.Credential.RefreshToken)
	assert.Equal(t, next.SessionID, client.SessionIDFromCredential(next.Credential))
	assert.True(t, backend.Revoked(res.SessionID))

	_, err = client.Rotate(ctx, res.Credential)
	assert.ErrorIs(t, err, auth.ErrUnauthorized, "the retired refresh token is rejected")
}

func TestClient_SignOutRetriesOnce(t *testing.T) {
	backend, client := newBackend(t)
	ctx := context.Background()
	res, err := client.SignIn(ctx, "a@x.com", "hunter2")
	require.NoError(t, err)

	backend.FailSignOuts(1)
	require.NoError(t, client.Revoke(ctx, res.SessionID))
	assert.Equal(t, 2, backend.Calls().SignOut)
	assert.True(t, backend.Revoked(res.SessionID))

	backend.FailSignOuts(2)
	err = client.SignOut(ctx, "other")
	assert.ErrorIs(t, err, auth.ErrUnexpectedStatus)
	assert.Equal(t, 4, backend.Calls().SignOut)
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := auth.NewClient(url, auth.WithTimeout(time.Second))
	require.NoError(t, err)
	_, err = client.SignIn(context.Background(), "a@x.com", "hunter2")
	require.Error(t, err)
	assert.True(t, auth.IsTransient(err))
	assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := auth.NewClient("ftp://example.com")
	assert.Error(t, err)
	_, err = auth.NewClient("://")
	assert.Error(t, err)
}
