// Package session issues and rotates the access and refresh token pair of a principal.
//
// Access tokens are short-lived HS256 JWTs carrying the identity claims. Refresh
// tokens are longer-lived JWTs of which only hex(SHA-256(token)) is stored. A
// refresh token is single use: rotation revokes its row with a conditional update
// before the new pair is issued, so of two concurrent rotations only one succeeds.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/ruteri/identity-custody-backend/metrics"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims are the JWT claims of both token types. Identity claims are empty on refresh tokens.
type Claims struct {
	interfaces.IdentityClaims
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair is returned to clients after login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Service struct {
	store    interfaces.SessionStore
	denylist *Denylist
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store interfaces.SessionStore, denylist *Denylist, cfg Config, log *slog.Logger) (*Service, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &Service{
		store:    store,
		denylist: denylist,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}, nil
}

// HashToken is the one-way hash stored for refresh tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue signs a new token pair for claims and stores the refresh token hash.
func (s *Service) Issue(ctx context.Context, claims interfaces.IdentityClaims) (*TokenPair, error) {
	pair, err := s.issue(ctx, claims)
	metrics.TokenOperations.WithLabelValues("issue", metrics.Result(err)).Inc()
	return pair, err
}

func (s *Service) issue(ctx context.Context, claims interfaces.IdentityClaims) (*TokenPair, error) {
	if claims.PrincipalID == "" {
		return nil, errors.New("identity claims have no principal id")
	}

	now := s.now()
	accessExp := now.Add(s.cfg.AccessTTL)
	refreshExp := now.Add(s.cfg.RefreshTTL)

	access, err := s.sign(Claims{
		IdentityClaims:   claims,
		TokenType:        TokenTypeAccess,
		RegisteredClaims: s.registered(claims.PrincipalID, now, accessExp),
	})
	if err != nil {
		return nil, err
	}

	refresh, err := s.sign(Claims{
		IdentityClaims:   interfaces.IdentityClaims{PrincipalID: claims.PrincipalID},
		TokenType:        TokenTypeRefresh,
		RegisteredClaims: s.registered(claims.PrincipalID, now, refreshExp),
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.InsertSession(ctx, &interfaces.SessionToken{
		ID:          uuid.NewString(),
		PrincipalID: claims.PrincipalID,
		TokenHash:   HashToken(refresh),
		ExpiresAt:   refreshExp,
		CreatedAt:   now,
	}); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token is revoked
// before the new pair is issued; if that write fails no pair is issued.
// Every failure matches ErrUnauthorized.
func (s *Service) Rotate(ctx context.Context, principalID, refreshToken string, claims interfaces.IdentityClaims) (*TokenPair, error) {
	pair, err := s.rotate(ctx, principalID, refreshToken, claims)
	metrics.TokenOperations.WithLabelValues("rotate", metrics.Result(err)).Inc()
	return pair, err
}

func (s *Service) rotate(ctx context.Context, principalID, refreshToken string, claims interfaces.IdentityClaims) (*TokenPair, error) {
	if _, err := s.parse(refreshToken, TokenTypeRefresh); err != nil {
		return nil, err
	}

	st, err := s.store.GetSessionByHash(ctx, HashToken(refreshToken))
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, interfaces.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrUnauthorized, err)
	}

	if st.Revoked || st.PrincipalID != principalID || !s.now().Before(st.ExpiresAt) {
		return nil, interfaces.ErrUnauthorized
	}

	won, err := s.store.RevokeSession(ctx, st.ID)
	if err != nil {
		s.log.Error("Failed to revoke rotated session", "principal", principalID, "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrUnauthorized, err)
	}
	if !won {
		s.log.Warn("Refresh token reuse detected", "principal", principalID, "session", st.ID)
		return nil, interfaces.ErrUnauthorized
	}

	claims.PrincipalID = principalID
	pair, err := s.issue(ctx, claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrUnauthorized, err)
	}
	return pair, nil
}

// Revoke revokes a refresh token. Unknown and already revoked tokens are no-ops.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	err := s.revoke(ctx, refreshToken)
	metrics.TokenOperations.WithLabelValues("revoke", metrics.Result(err)).Inc()
	return err
}

func (s *Service) revoke(ctx context.Context, refreshToken string) error {
	st, err := s.store.GetSessionByHash(ctx, HashToken(refreshToken))
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrUnauthorized, err)
	}
	if st.Revoked {
		return nil
	}

	if _, err := s.store.RevokeSession(ctx, st.ID); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrUnauthorized, err)
	}
	return nil
}

// Block denylists an access token until it expires.
func (s *Service) Block(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if err := s.store.BlockToken(ctx, tokenID, expiresAt); err != nil {
		return err
	}
	s.denylist.Add(tokenID, expiresAt)
	return nil
}

// IsBlocked checks the denylist and falls back to the persisted blocklist.
// A persisted hit is copied into the denylist.
func (s *Service) IsBlocked(ctx context.Context, tokenID string) (bool, error) {
	if s.denylist.Contains(tokenID) {
		return true, nil
	}

	expiresAt, err := s.store.IsTokenBlocked(ctx, tokenID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.denylist.Add(tokenID, expiresAt)
	return true, nil
}

// Verify validates an access token and rejects blocked ones.
func (s *Service) Verify(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := s.parse(accessToken, TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	blocked, err := s.IsBlocked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrUnauthorized, err)
	}
	if blocked {
		return nil, interfaces.ErrUnauthorized
	}
	return claims, nil
}

// ParseAccessToken validates signature, issuer and expiry without consulting the blocklist.
func (s *Service) ParseAccessToken(accessToken string) (*Claims, error) {
	return s.parse(accessToken, TokenTypeAccess)
}

func (s *Service) registered(subject string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    s.cfg.Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (s *Service) sign(claims Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func (s *Service) parse(tokenString, tokenType string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, interfaces.ErrUnauthorized
	}
	if claims.TokenType != tokenType || claims.Subject == "" || claims.Subject != claims.PrincipalID {
		return nil, interfaces.ErrUnauthorized
	}
	return claims, nil
}
