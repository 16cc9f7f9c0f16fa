package auth

import "time"

// SignInRequest is the body of POST /auth/signin.
type SignInRequest struct {
	Identifier string `json:"identifier"`
	Credential string `json:"credential"`
}

// SignInResponse is the success body of POST /auth/signin.
type SignInResponse struct {
	AccessToken      string     `json:"accessToken"`
	RefreshToken     string     `json:"refreshToken"`
	AccessExpiresAt  *time.Time `json:"accessExpiresAt,omitempty"`
	RefreshExpiresAt *time.Time `json:"refreshExpiresAt,omitempty"`
	SessionID        string     `json:"sessionId"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is the success body of POST /auth/refresh. The refresh
// token fields are set only when the backend rotates the refresh token.
type RefreshResponse struct {
	AccessToken      string     `json:"accessToken"`
	AccessExpiresAt  *time.Time `json:"accessExpiresAt,omitempty"`
	RefreshToken     string     `json:"refreshToken,omitempty"`
	RefreshExpiresAt *time.Time `json:"refreshExpiresAt,omitempty"`
}

// RotateRequest is the body of POST /auth/rotate. The success body is a
// SignInResponse for the new session.
type RotateRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// SignOutRequest is the body of POST /auth/signout.
type SignOutRequest struct {
	SessionID string `json:"sessionId"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
