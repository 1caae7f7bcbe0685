package rks

import (
	"context"

	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockRootKeyService mocks the RootKeyService interface for failure injection
type MockRootKeyService struct {
	mock.Mock
}

func (m *MockRootKeyService) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockRootKeyService) Encrypt(ctx context.Context, rootKeyID string, plaintext []byte) ([]byte, error) {
	args := m.Called(ctx, rootKeyID, plaintext)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

func (m *MockRootKeyService) Decrypt(ctx context.Context, rootKeyID string, ciphertext []byte) ([]byte, error) {
	args := m.Called(ctx, rootKeyID, ciphertext)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

func (m *MockRootKeyService) DescribeKey(ctx context.Context, rootKeyID string) (interfaces.RootKeyMetadata, error) {
	args := m.Called(ctx, rootKeyID)
	return args.Get(0).(interfaces.RootKeyMetadata), args.Error(1)
}
