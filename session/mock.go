package session

import (
	"context"
	"time"

	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockSessionStore mocks the SessionStore interface for failure injection
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) InsertSession(ctx context.Context, s *interfaces.SessionToken) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockSessionStore) GetSessionByHash(ctx context.Context, tokenHash string) (*interfaces.SessionToken, error) {
	args := m.Called(ctx, tokenHash)
	st, _ := args.Get(0).(*interfaces.SessionToken)
	return st, args.Error(1)
}

func (m *MockSessionStore) RevokeSession(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockSessionStore) BlockToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	args := m.Called(ctx, tokenID, expiresAt)
	return args.Error(0)
}

func (m *MockSessionStore) IsTokenBlocked(ctx context.Context, tokenID string) (time.Time, error) {
	args := m.Called(ctx, tokenID)
	return args.Get(0).(time.Time), args.Error(1)
}
