package provisioning

import (
	"context"
	"crypto/ecdsa"

	"github.com/ruteri/identity-custody-backend/p2pidentity"
	"github.com/ruteri/identity-custody-backend/wallet"
	"github.com/stretchr/testify/mock"
)

// MockWalletCustody mocks the WalletCustody interface
type MockWalletCustody struct {
	mock.Mock
}

func (m *MockWalletCustody) CreateWallet(ctx context.Context, principalID string) (*wallet.Wallet, error) {
	args := m.Called(ctx, principalID)
	w, _ := args.Get(0).(*wallet.Wallet)
	return w, args.Error(1)
}

func (m *MockWalletCustody) Get(ctx context.Context, principalID string) (*wallet.Wallet, error) {
	args := m.Called(ctx, principalID)
	w, _ := args.Get(0).(*wallet.Wallet)
	return w, args.Error(1)
}

func (m *MockWalletCustody) PrivateKey(ctx context.Context, principalID string) (*ecdsa.PrivateKey, error) {
	args := m.Called(ctx, principalID)
	k, _ := args.Get(0).(*ecdsa.PrivateKey)
	return k, args.Error(1)
}

// MockIdentityCustody mocks the IdentityCustody interface
type MockIdentityCustody struct {
	mock.Mock
}

func (m *MockIdentityCustody) CreateIdentity(ctx context.Context, principalID, subject string) (*p2pidentity.Identity, error) {
	args := m.Called(ctx, principalID, subject)
	id, _ := args.Get(0).(*p2pidentity.Identity)
	return id, args.Error(1)
}

func (m *MockIdentityCustody) Get(ctx context.Context, principalID string) (*p2pidentity.Identity, error) {
	args := m.Called(ctx, principalID)
	id, _ := args.Get(0).(*p2pidentity.Identity)
	return id, args.Error(1)
}
