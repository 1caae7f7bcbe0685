// Package p2pidentity custodies one libp2p network identity per principal.
//
// The Ed25519 private key is encrypted under a key derived from the principal's
// subject with PBKDF2 and a random salt. The root key service is not involved:
// whoever presents the same subject at authentication time can recover the key.
package p2pidentity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/ruteri/identity-custody-backend/cryptoutils"
	"github.com/ruteri/identity-custody-backend/interfaces"
)

// Identity is the public part of a network identity.
type Identity struct {
	PrincipalID string
	PeerID      string
	// PublicKey is the protobuf-encoded libp2p public key.
	PublicKey []byte
	CreatedAt time.Time
}

type Service struct {
	store interfaces.P2PIdentityStore
	log   *slog.Logger
}

func NewService(store interfaces.P2PIdentityStore, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// CreateIdentity generates and stores a network identity for the principal.
// Returns ErrConflict when the principal already has one.
func (s *Service) CreateIdentity(ctx context.Context, principalID, subject string) (*Identity, error) {
	_, err := s.store.GetP2PIdentity(ctx, principalID)
	if err == nil {
		return nil, interfaces.ErrConflict
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing identity: %w", err)
	}

	priv, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate network key: %w", err)
	}

	peerID, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to derive peer id: %w", err)
	}

	pubBytes, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	defer cryptoutils.Zero(privBytes)

	salt, err := cryptoutils.NewSalt()
	if err != nil {
		return nil, err
	}

	key, err := cryptoutils.DeriveSubjectKey(subject, salt)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(key)

	encrypted, err := cryptoutils.SymmetricEncrypt(privBytes, key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt network key: %w", err)
	}

	rec := &interfaces.P2PIdentityRecord{
		PrincipalID:         principalID,
		PublicKey:           pubBytes,
		PeerID:              peerID.String(),
		EncryptedPrivateKey: encrypted,
		Salt:                salt,
		CreatedAt:           time.Now(),
	}
	if err := s.store.InsertP2PIdentity(ctx, rec); err != nil {
		return nil, err
	}

	s.log.Info("P2P identity created", "principal", principalID, "peerId", rec.PeerID)
	return toIdentity(rec), nil
}

// Get returns the public identity, or ErrNotFound.
func (s *Service) Get(ctx context.Context, principalID string) (*Identity, error) {
	rec, err := s.store.GetP2PIdentity(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return toIdentity(rec), nil
}

// PrivateKey recovers the network private key with the subject it was created with.
// A different subject fails with ErrAuthenticationFailed.
func (s *Service) PrivateKey(ctx context.Context, principalID, subject string) (crypto.PrivKey, error) {
	rec, err := s.store.GetP2PIdentity(ctx, principalID)
	if err != nil {
		return nil, err
	}

	key, err := cryptoutils.DeriveSubjectKey(subject, rec.Salt)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(key)

	privBytes, err := cryptoutils.SymmetricDecrypt(rec.EncryptedPrivateKey, key)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(privBytes)

	priv, err := crypto.UnmarshalPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal network key: %w", err)
	}

	peerID, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to derive peer id: %w", err)
	}
	if peerID.String() != rec.PeerID {
		return nil, fmt.Errorf("network key does not match stored peer id %s", rec.PeerID)
	}
	return priv, nil
}

func toIdentity(rec *interfaces.P2PIdentityRecord) *Identity {
	return &Identity{
		PrincipalID: rec.PrincipalID,
		PeerID:      rec.PeerID,
		PublicKey:   rec.PublicKey,
		CreatedAt:   rec.CreatedAt,
	}
}
