// Package wallet custodies one Ethereum wallet per principal.
//
// The wallet's BIP-39 mnemonic is envelope-encrypted (see package kms) and is the
// only secret persisted. Only the address and compressed public key leave the
// service, except through PrivateKey which serves trusted internal callers.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/identity-custody-backend/cryptoutils"
	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/ruteri/identity-custody-backend/notify"
	"github.com/tyler-smith/go-bip39"
)

// MnemonicEntropyBits yields a 24-word mnemonic.
const MnemonicEntropyBits = 256

// Sealer encrypts secrets under envelope encryption.
type Sealer interface {
	Seal(ctx context.Context, plaintext []byte) (interfaces.EncryptedBlob, interfaces.WrappedDEK, error)
	Open(ctx context.Context, blob interfaces.EncryptedBlob, w interfaces.WrappedDEK) ([]byte, error)
}

// Dispatcher runs fire-and-forget tasks.
type Dispatcher interface {
	Dispatch(kind string, task notify.Task) bool
}

// Wallet is the public part of a custodied wallet.
type Wallet struct {
	PrincipalID         string
	Address             string
	CompressedPublicKey []byte
	CreatedAt           time.Time
}

type Service struct {
	store      interfaces.WalletStore
	sealer     Sealer
	funding    interfaces.FundingEnqueuer
	dispatcher Dispatcher
	log        *slog.Logger
}

func NewService(store interfaces.WalletStore, sealer Sealer, funding interfaces.FundingEnqueuer, dispatcher Dispatcher, log *slog.Logger) *Service {
	return &Service{
		store:      store,
		sealer:     sealer,
		funding:    funding,
		dispatcher: dispatcher,
		log:        log,
	}
}

// CreateWallet generates and stores a wallet for the principal.
// Returns ErrConflict when the principal already has one; no secret is generated in that case.
// A funding request for the new address is dispatched in the background.
func (s *Service) CreateWallet(ctx context.Context, principalID string) (*Wallet, error) {
	_, err := s.store.GetWallet(ctx, principalID)
	if err == nil {
		return nil, interfaces.ErrConflict
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing wallet: %w", err)
	}

	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate entropy: %w", err)
	}
	defer cryptoutils.Zero(entropy)

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	mnemonicBytes := []byte(mnemonic)
	defer cryptoutils.Zero(mnemonicBytes)

	key, err := deriveKey(mnemonic)
	if err != nil {
		return nil, err
	}

	rec := &interfaces.WalletRecord{
		PrincipalID:         principalID,
		Address:             crypto.PubkeyToAddress(key.PublicKey).Hex(),
		CompressedPublicKey: crypto.CompressPubkey(&key.PublicKey),
		CreatedAt:           time.Now(),
	}

	rec.EncryptedSeed, rec.WrappedDEK, err = s.sealer.Seal(ctx, mnemonicBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt wallet seed: %w", err)
	}

	if err := s.store.InsertWallet(ctx, rec); err != nil {
		return nil, err
	}

	s.log.Info("Wallet created",
		"principal", principalID,
		"address", rec.Address,
		"rootKeyId", rec.RootKeyID(),
		"strategy", rec.WrappedDEK.Strategy)

	address := rec.Address
	s.dispatcher.Dispatch("funding", func(ctx context.Context) error {
		return s.funding.EnqueueFunding(ctx, principalID, address)
	})

	return toWallet(rec), nil
}

// Get returns the public wallet data, or ErrNotFound.
func (s *Service) Get(ctx context.Context, principalID string) (*Wallet, error) {
	rec, err := s.store.GetWallet(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return toWallet(rec), nil
}

// PrivateKey unwraps the seed and derives the wallet's private key.
// Callers must be trusted internal services.
func (s *Service) PrivateKey(ctx context.Context, principalID string) (*ecdsa.PrivateKey, error) {
	rec, err := s.store.GetWallet(ctx, principalID)
	if err != nil {
		return nil, err
	}

	mnemonic, err := s.sealer.Open(ctx, rec.EncryptedSeed, rec.WrappedDEK)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt wallet seed: %w", err)
	}
	defer cryptoutils.Zero(mnemonic)

	key, err := deriveKey(string(mnemonic))
	if err != nil {
		return nil, err
	}

	if address := crypto.PubkeyToAddress(key.PublicKey).Hex(); address != rec.Address {
		return nil, fmt.Errorf("wallet seed does not match stored address %s", rec.Address)
	}
	return key, nil
}

func deriveKey(mnemonic string) (*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, "")
	defer cryptoutils.Zero(seed)

	key, err := cryptoutils.DeriveBIP32(seed, cryptoutils.EthereumDerivationPath)
	if err != nil {
		return nil, fmt.Errorf("failed to derive wallet key: %w", err)
	}
	return key, nil
}

func toWallet(rec *interfaces.WalletRecord) *Wallet {
	return &Wallet{
		PrincipalID:         rec.PrincipalID,
		Address:             rec.Address,
		CompressedPublicKey: rec.CompressedPublicKey,
		CreatedAt:           rec.CreatedAt,
	}
}
