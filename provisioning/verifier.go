package provisioning

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ruteri/identity-custody-backend/interfaces"
)

// AuthResult is the outcome of external authentication.
type AuthResult struct {
	Subject   string
	Email     string
	Name      string
	AvatarURL string
}

// IDTokenVerifier turns an external ID token into an AuthResult.
// Any failure matches ErrUnauthorized.
type IDTokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*AuthResult, error)
}

type idTokenClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

// HMACIDTokenVerifier verifies HS256 ID tokens minted by the authentication
// gateway with a shared secret.
type HMACIDTokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewHMACIDTokenVerifier(secret []byte, issuer, audience string) (*HMACIDTokenVerifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("id token secret must be at least 32 bytes")
	}
	return &HMACIDTokenVerifier{secret: secret, issuer: issuer, audience: audience}, nil
}

func (v *HMACIDTokenVerifier) Verify(ctx context.Context, idToken string) (*AuthResult, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || claims.Subject == "" {
		return nil, interfaces.ErrUnauthorized
	}

	return &AuthResult{
		Subject:   claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		AvatarURL: claims.Picture,
	}, nil
}
