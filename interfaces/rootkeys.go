package interfaces

import (
	"context"
	"time"
)

// RootKeyState is the usability of a root key as reported by the root key service.
type RootKeyState string

const (
	RootKeyActive   RootKeyState = "active"
	RootKeyDisabled RootKeyState = "disabled"
)

// RootKeyMetadata describes a root key without exposing any key material.
type RootKeyMetadata struct {
	ID        string
	State     RootKeyState
	CreatedAt time.Time
}

// RootKeyService is a hardware-backed (or local) key custodian able to encrypt and
// decrypt small blobs under a named root key. Root key material never leaves it.
//
// Implementations return errors matching ErrRootKeyUnavailable when the key does
// not exist or is disabled, and ErrRootKeyTransient for transport or auth failures.
type RootKeyService interface {
	// Name identifies the wrapping strategy and is persisted alongside wrapped DEKs.
	Name() string
	Encrypt(ctx context.Context, rootKeyID string, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, rootKeyID string, ciphertext []byte) ([]byte, error)
	DescribeKey(ctx context.Context, rootKeyID string) (RootKeyMetadata, error)
}

// WrappedDEK is a data encryption key encrypted under a root key.
// Strategy names the RootKeyService that produced Ciphertext.
type WrappedDEK struct {
	Ciphertext []byte
	RootKeyID  string
	Strategy   string
}

// KeyPoolEntry is the observed state of one root key in the pool.
type KeyPoolEntry struct {
	RootKeyID    string
	State        RootKeyState
	CreatedAt    time.Time
	LastUsedTime time.Time
}

// RotationPolicy is surfaced for an external rotation job. Nothing in this module rotates keys.
type RotationPolicy struct {
	Enabled        bool
	IntervalMonths int
}
