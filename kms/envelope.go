package kms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/identity-custody-backend/cryptoutils"
	"github.com/ruteri/identity-custody-backend/interfaces"
)

// KeySelector picks the root key for a new DEK.
type KeySelector interface {
	SelectKey() (string, error)
}

// Envelope implements two-tier encryption: secrets are encrypted under a random DEK,
// the DEK is wrapped under a root key held by the root key service.
//
// New DEKs are always wrapped by the primary strategy. Secondary strategies only
// unwrap DEKs recorded under their name, which lets records written by a previous
// deployment stay readable while data migrates.
type Envelope struct {
	primary     interfaces.RootKeyService
	secondaries map[string]interfaces.RootKeyService
	pool        KeySelector
	log         *slog.Logger
}

func NewEnvelope(primary interfaces.RootKeyService, pool KeySelector, log *slog.Logger, secondaries ...interfaces.RootKeyService) *Envelope {
	e := &Envelope{
		primary:     primary,
		secondaries: make(map[string]interfaces.RootKeyService, len(secondaries)),
		pool:        pool,
		log:         log,
	}
	for _, s := range secondaries {
		if s.Name() == primary.Name() {
			continue
		}
		e.secondaries[s.Name()] = s
	}
	return e
}

// Strategy is the name recorded on DEKs wrapped by this envelope.
func (e *Envelope) Strategy() string {
	return e.primary.Name()
}

// WrapNewDEK generates a DEK and wraps it under rootKeyID, or under a pool-selected key when rootKeyID is empty.
// The caller owns the returned DEK and should zero it after use.
func (e *Envelope) WrapNewDEK(ctx context.Context, rootKeyID string) ([]byte, interfaces.WrappedDEK, error) {
	if rootKeyID == "" {
		selected, err := e.pool.SelectKey()
		if err != nil {
			return nil, interfaces.WrappedDEK{}, interfaces.NewEnvelopeError("select root key", "", err)
		}
		rootKeyID = selected
	}

	dek, err := cryptoutils.NewDEK()
	if err != nil {
		return nil, interfaces.WrappedDEK{}, interfaces.NewEnvelopeError("generate dek", rootKeyID, err)
	}

	wrapped, err := e.EncryptUnderKMS(ctx, dek, rootKeyID)
	if err != nil {
		cryptoutils.Zero(dek)
		return nil, interfaces.WrappedDEK{}, err
	}

	return dek, interfaces.WrappedDEK{
		Ciphertext: wrapped,
		RootKeyID:  rootKeyID,
		Strategy:   e.primary.Name(),
	}, nil
}

// EncryptUnderKMS encrypts plaintext under a root key of the primary strategy.
func (e *Envelope) EncryptUnderKMS(ctx context.Context, plaintext []byte, rootKeyID string) ([]byte, error) {
	ct, err := e.primary.Encrypt(ctx, rootKeyID, plaintext)
	if err != nil {
		e.log.Warn("Root key encrypt failed", "strategy", e.primary.Name(), "rootKeyId", rootKeyID, "err", err)
		return nil, interfaces.NewEnvelopeError("encrypt", rootKeyID, err)
	}
	if len(ct) == 0 {
		return nil, interfaces.NewEnvelopeError("encrypt", rootKeyID, interfaces.ErrEmptyResult)
	}
	return ct, nil
}

// DecryptUnderKMS decrypts a blob produced by EncryptUnderKMS.
func (e *Envelope) DecryptUnderKMS(ctx context.Context, blob []byte, rootKeyID string) ([]byte, error) {
	return e.decryptWith(ctx, e.primary, blob, rootKeyID)
}

// UnwrapDEK recovers a DEK using the strategy recorded on it.
// Records without a strategy predate strategy tagging and belong to the primary.
func (e *Envelope) UnwrapDEK(ctx context.Context, w interfaces.WrappedDEK) ([]byte, error) {
	strategy := e.primary
	if w.Strategy != "" && w.Strategy != e.primary.Name() {
		s, ok := e.secondaries[w.Strategy]
		if !ok {
			return nil, interfaces.NewEnvelopeError("unwrap", w.RootKeyID,
				fmt.Errorf("%w: no %s strategy configured", interfaces.ErrRootKeyUnavailable, w.Strategy))
		}
		strategy = s
	}

	dek, err := e.decryptWith(ctx, strategy, w.Ciphertext, w.RootKeyID)
	if err != nil {
		return nil, err
	}
	if len(dek) != cryptoutils.KeySize {
		cryptoutils.Zero(dek)
		return nil, interfaces.NewEnvelopeError("unwrap", w.RootKeyID, cryptoutils.ErrInvalidKeySize)
	}
	return dek, nil
}

// Seal encrypts plaintext under a fresh DEK wrapped by a pool-selected root key.
func (e *Envelope) Seal(ctx context.Context, plaintext []byte) (interfaces.EncryptedBlob, interfaces.WrappedDEK, error) {
	dek, wrapped, err := e.WrapNewDEK(ctx, "")
	if err != nil {
		return nil, interfaces.WrappedDEK{}, err
	}
	defer cryptoutils.Zero(dek)

	blob, err := cryptoutils.SymmetricEncrypt(plaintext, dek)
	if err != nil {
		return nil, interfaces.WrappedDEK{}, interfaces.NewEnvelopeError("seal", wrapped.RootKeyID, err)
	}
	return blob, wrapped, nil
}

// Open reverses Seal.
func (e *Envelope) Open(ctx context.Context, blob interfaces.EncryptedBlob, w interfaces.WrappedDEK) ([]byte, error) {
	dek, err := e.UnwrapDEK(ctx, w)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(dek)

	plaintext, err := cryptoutils.SymmetricDecrypt(blob, dek)
	if err != nil {
		return nil, interfaces.NewEnvelopeError("open", w.RootKeyID, err)
	}
	return plaintext, nil
}

func (e *Envelope) decryptWith(ctx context.Context, s interfaces.RootKeyService, blob []byte, rootKeyID string) ([]byte, error) {
	pt, err := s.Decrypt(ctx, rootKeyID, blob)
	if err != nil {
		e.log.Warn("Root key decrypt failed", "strategy", s.Name(), "rootKeyId", rootKeyID, "err", err)
		return nil, interfaces.NewEnvelopeError("decrypt", rootKeyID, err)
	}
	if len(pt) == 0 {
		return nil, interfaces.NewEnvelopeError("decrypt", rootKeyID, interfaces.ErrEmptyResult)
	}
	return pt, nil
}
