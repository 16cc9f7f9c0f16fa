// Package credential holds the access/refresh token pair for the current
// principal and the stores that keep it out of reach of host code.
//
// A Store never hands back an expired credential: once either expiry has
// passed the entry reads as absent and is purged.
package credential

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Credential is the token pair issued by the authentication backend.
type Credential struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Store is tamper-resistant storage for a single Credential.
type Store interface {
	// Put replaces the stored credential atomically.
	Put(ctx context.Context, c Credential) error
	// Get returns the stored credential, or false if none is stored or it has expired.
	Get(ctx context.Context) (Credential, bool)
	// Clear removes the stored credential. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// Validate rejects credentials that can never be usable.
func (c Credential) Validate() error {
	switch {
	case c.AccessToken == "":
		return fmt.Errorf("%w: empty access token", ErrInvalidCredential)
	case c.RefreshToken == "":
		return fmt.Errorf("%w: empty refresh token", ErrInvalidCredential)
	case c.AccessExpiresAt.IsZero() || c.RefreshExpiresAt.IsZero():
		return fmt.Errorf("%w: missing expiry", ErrInvalidCredential)
	}
	return nil
}

// Expired reports whether either token has expired at now.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.AccessExpiresAt) || !now.Before(c.RefreshExpiresAt)
}

// String redacts the tokens so a credential is safe to format.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{access_expires=%s refresh_expires=%s}",
		c.AccessExpiresAt.UTC().Format(time.RFC3339), c.RefreshExpiresAt.UTC().Format(time.RFC3339))
}

// LogValue implements slog.LogValuer without the token material.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Time("access_expires_at", c.AccessExpiresAt),
		slog.Time("refresh_expires_at", c.RefreshExpiresAt),
	)
}
