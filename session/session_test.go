package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/ruteri/identity-custody-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testClaims() interfaces.IdentityClaims {
	return interfaces.IdentityClaims{
		PrincipalID:   "p-1",
		PeerID:        "12D3KooWPeer",
		WalletAddress: "0xabc",
	}
}

func setupTestEnvironment(t *testing.T) (*storage.SQLStore, *Service) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.OpenURL(ctx, "sqlite::memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.CreatePrincipal(ctx, &interfaces.Principal{ID: "p-1", Subject: "google|abc123", State: interfaces.Active}))
	require.NoError(t, store.CreatePrincipal(ctx, &interfaces.Principal{ID: "p-2", Subject: "google|other", State: interfaces.Active}))

	svc, err := NewService(store, NewDenylist(1000), Config{Secret: testSecret, Issuer: "identity-custody"}, logger)
	require.NoError(t, err)
	return store, svc
}

func TestNewServiceRejectsShortSecret(t *testing.T) {
	_, err := NewService(nil, NewDenylist(10), Config{Secret: []byte("short")}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestIssue(t *testing.T) {
	store, svc := setupTestEnvironment(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testClaims())
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.WithinDuration(t, time.Now().Add(DefaultAccessTTL), pair.AccessExpiresAt, 5*time.Second)
	assert.WithinDuration(t, time.Now().Add(DefaultRefreshTTL), pair.RefreshExpiresAt, 5*time.Second)

	claims, err := svc.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "p-1", claims.PrincipalID)
	assert.Equal(t, "p-1", claims.Subject)
	assert.Equal(t, "12D3KooWPeer", claims.PeerID)

	// Only the hash of the refresh token is stored
	st, err := store.GetSessionByHash(ctx, HashToken(pair.RefreshToken))
	require.NoError(t, err)
	assert.False(t, st.Revoked)
	assert.Len(t, st.TokenHash, 64)

	// Token types are not interchangeable
	_, err = svc.Verify(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestRotateIsSingleUse(t *testing.T) {
	_, svc := setupTestEnvironment(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testClaims())
	require.NoError(t, err)

	rotated, err := svc.Rotate(ctx, "p-1", pair.RefreshToken, testClaims())
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	_, err = svc.Rotate(ctx, "p-1", pair.RefreshToken, testClaims())
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	_, err = svc.Rotate(ctx, "p-1", rotated.RefreshToken, testClaims())
	assert.NoError(t, err)
}

func TestRotateConcurrentOnlyOneWins(t *testing.T) {
	_, svc := setupTestEnvironment(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testClaims())
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Rotate(ctx, "p-1", pair.RefreshToken, testClaims()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRotateRejections(t *testing.T) {
	_, svc := setupTestEnvironment(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testClaims())
	require.NoError(t, err)

	// Principal mismatch
	_, err = svc.Rotate(ctx, "p-2", pair.RefreshToken, testClaims())
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	// Garbage and access tokens
	_, err = svc.Rotate(ctx, "p-1", "not-a-token", testClaims())
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
	_, err = svc.Rotate(ctx, "p-1", pair.AccessToken, testClaims())
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	// Validly signed but never stored
	other, err := NewService(nil, NewDenylist(10), Config{Secret: testSecret, Issuer: "identity-custody"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	forged, err := other.sign(Claims{
		IdentityClaims:   interfaces.IdentityClaims{PrincipalID: "p-1"},
		TokenType:        TokenTypeRefresh,
		RegisteredClaims: other.registered("p-1", time.Now(), time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	_, err = svc.Rotate(ctx, "p-1", forged, testClaims())
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	// Still usable after the failed attempts
	_, err = svc.Rotate(ctx, "p-1", pair.RefreshToken, testClaims())
	assert.NoError(t, err)
}

func TestRotateFailsClosedWhenRevokeFails(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	store := new(MockSessionStore)

	svc, err := NewService(store, NewDenylist(10), Config{Secret: testSecret}, logger)
	require.NoError(t, err)

	refresh, err := svc.sign(Claims{
		IdentityClaims:   interfaces.IdentityClaims{PrincipalID: "p-1"},
		TokenType:        TokenTypeRefresh,
		RegisteredClaims: svc.registered("p-1", time.Now(), time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	store.On("GetSessionByHash", mock.Anything, HashToken(refresh)).Return(&interfaces.SessionToken{
		ID: "s-1", PrincipalID: "p-1", ExpiresAt: time.Now().Add(time.Hour),
	}, nil)
	store.On("RevokeSession", mock.Anything, "s-1").Return(false, errors.New("database is locked"))

	_, err = svc.Rotate(ctx, "p-1", refresh, testClaims())
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
	store.AssertNotCalled(t, "InsertSession", mock.Anything, mock.Anything)
}

func TestRotateExpiredToken(t *testing.T) {
	_, svc := setupTestEnvironment(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testClaims())
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(DefaultRefreshTTL + time.Minute) }
	_, err = svc.Rotate(ctx, "p-1", pair.RefreshToken, testClaims())
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestRevokeIsIdempotent(t *testing.T) {
	store, svc := setupTestEnvironment(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testClaims())
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, pair.RefreshToken))
	require.NoError(t, svc.Revoke(ctx, pair.RefreshToken))
	require.NoError(t, svc.Revoke(ctx, "unknown-token"))

	st, err := store.GetSessionByHash(ctx, HashToken(pair.RefreshToken))
	require.NoError(t, err)
	assert.True(t, st.Revoked)

	_, err = svc.Rotate(ctx, "p-1", pair.RefreshToken, testClaims())
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestBlockAndVerify(t *testing.T) {
	_, svc := setupTestEnvironment(t)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testClaims())
	require.NoError(t, err)

	claims, err := svc.ParseAccessToken(pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.Block(ctx, claims.ID, claims.ExpiresAt.Time))

	_, err = svc.Verify(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestIsBlockedSlowPathRepopulatesDenylist(t *testing.T) {
	store, svc := setupTestEnvironment(t)
	ctx := context.Background()

	// Blocked by another instance: only the persisted blocklist knows
	require.NoError(t, store.BlockToken(ctx, "jti-1", time.Now().Add(time.Minute)))
	assert.False(t, svc.denylist.Contains("jti-1"))

	blocked, err := svc.IsBlocked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.True(t, svc.denylist.Contains("jti-1"))

	blocked, err = svc.IsBlocked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	_, svc := setupTestEnvironment(t)
	ctx := context.Background()

	claims := Claims{
		IdentityClaims:   testClaims(),
		TokenType:        TokenTypeAccess,
		RegisteredClaims: svc.registered("p-1", time.Now(), time.Now().Add(time.Minute)),
	}

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("another-secret-another-secret-xx"))
	require.NoError(t, err)
	_, err = svc.Verify(ctx, wrongKey)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, unsigned)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	claims.Issuer = "someone-else"
	otherIssuer, err := svc.sign(claims)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, otherIssuer)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestDenylistExpiry(t *testing.T) {
	d := NewDenylist(10)
	d.Add("expired", time.Now().Add(-time.Second))
	assert.False(t, d.Contains("expired"))

	d.Add("short", time.Now().Add(50*time.Millisecond))
	assert.True(t, d.Contains("short"))
	assert.Eventually(t, func() bool { return !d.Contains("short") }, time.Second, 10*time.Millisecond)
}
