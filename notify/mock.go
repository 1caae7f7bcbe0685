package notify

import (
	"context"

	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockCollaborators mocks the funding, role-grant and site collaborators
type MockCollaborators struct {
	mock.Mock
}

func (m *MockCollaborators) EnqueueFunding(ctx context.Context, principalID, address string) error {
	args := m.Called(ctx, principalID, address)
	return args.Error(0)
}

func (m *MockCollaborators) EnqueueRoleGrant(ctx context.Context, membership interfaces.Membership, walletAddress string) error {
	args := m.Called(ctx, membership, walletAddress)
	return args.Error(0)
}

func (m *MockCollaborators) NotifySiteOpen(ctx context.Context, principalID, peerID string) error {
	args := m.Called(ctx, principalID, peerID)
	return args.Error(0)
}
