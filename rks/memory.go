package rks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ruteri/identity-custody-backend/cryptoutils"
	"github.com/ruteri/identity-custody-backend/interfaces"
)

type memoryKey struct {
	key       []byte
	state     interfaces.RootKeyState
	createdAt time.Time
}

// Memory is an in-process root key service. Root keys are random and live only as
// long as the process; it is meant for development and tests.
type Memory struct {
	mu   sync.RWMutex
	keys map[string]*memoryKey
}

// NewMemory creates a service holding an active root key for each id.
func NewMemory(rootKeyIDs ...string) (*Memory, error) {
	m := &Memory{keys: make(map[string]*memoryKey)}
	for _, id := range rootKeyIDs {
		if err := m.AddKey(id); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Memory) Name() string { return "memory" }

// AddKey creates a new active root key.
func (m *Memory) AddKey(rootKeyID string) error {
	key, err := cryptoutils.NewDEK()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[rootKeyID]; ok {
		return fmt.Errorf("root key %s already exists", rootKeyID)
	}
	m.keys[rootKeyID] = &memoryKey{key: key, state: interfaces.RootKeyActive, createdAt: time.Now()}
	return nil
}

// SetState enables or disables an existing root key.
func (m *Memory) SetState(rootKeyID string, state interfaces.RootKeyState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[rootKeyID]
	if !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrRootKeyUnavailable, rootKeyID)
	}
	k.state = state
	return nil
}

func (m *Memory) usableKey(rootKeyID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[rootKeyID]
	if !ok || k.state != interfaces.RootKeyActive {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrRootKeyUnavailable, rootKeyID)
	}
	return k.key, nil
}

func (m *Memory) Encrypt(ctx context.Context, rootKeyID string, plaintext []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := m.usableKey(rootKeyID)
	if err != nil {
		return nil, err
	}
	return cryptoutils.SymmetricEncrypt(plaintext, key)
}

func (m *Memory) Decrypt(ctx context.Context, rootKeyID string, ciphertext []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := m.usableKey(rootKeyID)
	if err != nil {
		return nil, err
	}
	return cryptoutils.SymmetricDecrypt(ciphertext, key)
}

func (m *Memory) DescribeKey(ctx context.Context, rootKeyID string) (interfaces.RootKeyMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[rootKeyID]
	if !ok {
		return interfaces.RootKeyMetadata{}, fmt.Errorf("%w: %s", interfaces.ErrRootKeyUnavailable, rootKeyID)
	}
	return interfaces.RootKeyMetadata{ID: rootKeyID, State: k.state, CreatedAt: k.createdAt}, nil
}
