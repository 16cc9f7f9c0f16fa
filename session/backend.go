package session

import (
	"context"

	"github.com/jmcleod/sessionguard/auth"
	"github.com/jmcleod/sessionguard/credential"
	"github.com/jmcleod/sessionguard/lifecycle"
)

// Backend is the authentication backend. *auth.Client implements it.
//
// SignIn reports rejected credentials with auth.ErrInvalidCredentials and
// Refresh reports a rejected refresh token with auth.ErrUnauthorized. Any
// other error is treated as transient.
type Backend interface {
	SignIn(ctx context.Context, identifier, secret string) (auth.SignInResult, error)
	Refresh(ctx context.Context, current credential.Credential) (credential.Credential, error)
	SignOut(ctx context.Context, sessionID string) error
}

// SessionIDResolver is implemented by backends that can recover the
// backend session id from a persisted credential. Resume uses it so a
// resumed session signs out the right backend session.
type SessionIDResolver interface {
	SessionIDFromCredential(c credential.Credential) string
}

// SessionRotator is implemented by backends that can replace a session
// with a new one for the same principal. RotateSession requires it.
type SessionRotator interface {
	Rotate(ctx context.Context, current credential.Credential) (auth.SignInResult, error)
}

// refresher adapts a Backend to lifecycle.Refresher, marking errors that
// retrying cannot fix as permanent.
func refresher(b Backend) lifecycle.Refresher {
	return lifecycle.RefresherFunc(func(ctx context.Context, current credential.Credential) (credential.Credential, error) {
		next, err := b.Refresh(ctx, current)
		if err != nil && !auth.IsTransient(err) {
			return next, lifecycle.Permanent(err)
		}
		return next, err
	})
}
