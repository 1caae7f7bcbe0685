package rks

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/ruteri/identity-custody-backend/cryptoutils"
	"github.com/ruteri/identity-custody-backend/interfaces"
)

// LocalMasterKey wraps data under per-root-key AES keys derived from a single master key
// held in process memory. It is the local alternative to a remote KMS: every root key id
// is accepted and always active.
type LocalMasterKey struct {
	masterKey []byte
	createdAt time.Time
}

// NewLocalMasterKey creates the service with the provided master key.
// The master key must be at least 32 bytes long.
func NewLocalMasterKey(masterKey []byte) (*LocalMasterKey, error) {
	if len(masterKey) < 32 {
		return nil, errors.New("master key must be at least 32 bytes")
	}

	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &LocalMasterKey{masterKey: key, createdAt: time.Now()}, nil
}

func (k *LocalMasterKey) Name() string { return "local-master-key" }

// deriveRootKey derives the wrapping key for rootKeyID deterministically.
func (k *LocalMasterKey) deriveRootKey(rootKeyID string) ([]byte, error) {
	if rootKeyID == "" {
		return nil, fmt.Errorf("%w: empty root key id", interfaces.ErrRootKeyUnavailable)
	}
	h := sha256.New()
	h.Write(k.masterKey)
	h.Write([]byte(rootKeyID))
	h.Write([]byte("root"))
	return h.Sum(nil), nil
}

func (k *LocalMasterKey) Encrypt(ctx context.Context, rootKeyID string, plaintext []byte) ([]byte, error) {
	key, err := k.deriveRootKey(rootKeyID)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(key)
	return cryptoutils.SymmetricEncrypt(plaintext, key)
}

func (k *LocalMasterKey) Decrypt(ctx context.Context, rootKeyID string, ciphertext []byte) ([]byte, error) {
	key, err := k.deriveRootKey(rootKeyID)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(key)
	return cryptoutils.SymmetricDecrypt(ciphertext, key)
}

func (k *LocalMasterKey) DescribeKey(ctx context.Context, rootKeyID string) (interfaces.RootKeyMetadata, error) {
	if rootKeyID == "" {
		return interfaces.RootKeyMetadata{}, fmt.Errorf("%w: empty root key id", interfaces.ErrRootKeyUnavailable)
	}
	return interfaces.RootKeyMetadata{ID: rootKeyID, State: interfaces.RootKeyActive, CreatedAt: k.createdAt}, nil
}
