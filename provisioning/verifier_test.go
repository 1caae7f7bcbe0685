package provisioning

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var verifierSecret = []byte("gateway-secret-gateway-secret-00")

func signIDToken(t *testing.T, secret []byte, method jwt.SigningMethod, claims jwt.Claims) string {
	token, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func validIDClaims() *idTokenClaims {
	now := time.Now()
	return &idTokenClaims{
		Email:   "u@x.com",
		Name:    "U",
		Picture: "https://example.com/u.png",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "google|abc123",
			Issuer:    "gateway",
			Audience:  jwt.ClaimStrings{"custody"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
}

func TestNewHMACIDTokenVerifierShortSecret(t *testing.T) {
	_, err := NewHMACIDTokenVerifier([]byte("short"), "", "")
	assert.Error(t, err)
}

func TestHMACIDTokenVerifier(t *testing.T) {
	v, err := NewHMACIDTokenVerifier(verifierSecret, "gateway", "custody")
	require.NoError(t, err)
	ctx := context.Background()

	res, err := v.Verify(ctx, signIDToken(t, verifierSecret, jwt.SigningMethodHS256, validIDClaims()))
	require.NoError(t, err)
	assert.Equal(t, &AuthResult{
		Subject:   "google|abc123",
		Email:     "u@x.com",
		Name:      "U",
		AvatarURL: "https://example.com/u.png",
	}, res)

	tests := []struct {
		name  string
		token func() string
	}{
		{"garbage", func() string { return "not-a-token" }},
		{"wrong secret", func() string {
			return signIDToken(t, []byte("another-secret-another-secret-00"), jwt.SigningMethodHS256, validIDClaims())
		}},
		{"wrong algorithm", func() string {
			return signIDToken(t, verifierSecret, jwt.SigningMethodHS512, validIDClaims())
		}},
		{"expired", func() string {
			c := validIDClaims()
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
			return signIDToken(t, verifierSecret, jwt.SigningMethodHS256, c)
		}},
		{"no expiry", func() string {
			c := validIDClaims()
			c.ExpiresAt = nil
			return signIDToken(t, verifierSecret, jwt.SigningMethodHS256, c)
		}},
		{"wrong issuer", func() string {
			c := validIDClaims()
			c.Issuer = "elsewhere"
			return signIDToken(t, verifierSecret, jwt.SigningMethodHS256, c)
		}},
		{"wrong audience", func() string {
			c := validIDClaims()
			c.Audience = jwt.ClaimStrings{"other"}
			return signIDToken(t, verifierSecret, jwt.SigningMethodHS256, c)
		}},
		{"no subject", func() string {
			c := validIDClaims()
			c.Subject = ""
			return signIDToken(t, verifierSecret, jwt.SigningMethodHS256, c)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(ctx, tt.token())
			assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
		})
	}
}
