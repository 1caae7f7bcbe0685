package api

import (
	"time"

	"github.com/ruteri/identity-custody-backend/interfaces"
)

// LoginRequest carries the external authentication result and an optional invitation.
type LoginRequest struct {
	IDToken      string `json:"id_token"`
	InvitationID string `json:"invitation_id,omitempty"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type LoginResponse struct {
	TokenResponse
	Identity interfaces.IdentityClaims `json:"identity"`
}

type RefreshRequest struct {
	PrincipalID  string `json:"principal_id"`
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest revokes the refresh token. The access token, if any, is taken
// from the Authorization header and blocked until it expires.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SessionResponse describes the principal behind a valid access token.
type SessionResponse struct {
	interfaces.IdentityClaims
	ExpiresAt time.Time `json:"expires_at"`
}

// PrivateKeyResponse is served by the internal API only.
// PrivateKey is the 0x-prefixed hex encoding of the secp256k1 scalar.
type PrivateKeyResponse struct {
	PrincipalID string `json:"principal_id,omitempty"`
	Address     string `json:"address"`
	PrivateKey  string `json:"private_key"`
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
