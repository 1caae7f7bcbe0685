package rks

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory("custody-1", "custody-2")
	require.NoError(t, err)

	ct, err := m.Encrypt(ctx, "custody-1", []byte("dek"))
	require.NoError(t, err)

	pt, err := m.Decrypt(ctx, "custody-1", ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("dek"), pt)

	// Wrong root key fails authentication
	_, err = m.Decrypt(ctx, "custody-2", ct)
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
}

func TestMemoryDisabledKey(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory("custody-1")
	require.NoError(t, err)

	ct, err := m.Encrypt(ctx, "custody-1", []byte("dek"))
	require.NoError(t, err)

	require.NoError(t, m.SetState("custody-1", interfaces.RootKeyDisabled))

	_, err = m.Encrypt(ctx, "custody-1", []byte("dek"))
	assert.ErrorIs(t, err, interfaces.ErrRootKeyUnavailable)
	_, err = m.Decrypt(ctx, "custody-1", ct)
	assert.ErrorIs(t, err, interfaces.ErrRootKeyUnavailable)

	meta, err := m.DescribeKey(ctx, "custody-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.RootKeyDisabled, meta.State)

	_, err = m.DescribeKey(ctx, "custody-9")
	assert.ErrorIs(t, err, interfaces.ErrRootKeyUnavailable)

	assert.Error(t, m.AddKey("custody-1"))
}

func TestMemoryCanceledContext(t *testing.T) {
	m, err := NewMemory("custody-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Encrypt(ctx, "custody-1", []byte("dek"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalMasterKey(t *testing.T) {
	ctx := context.Background()

	_, err := NewLocalMasterKey([]byte("short"))
	require.Error(t, err)

	master := make([]byte, 32)
	for i := range master {
		master[i] = byte(i)
	}
	k, err := NewLocalMasterKey(master)
	require.NoError(t, err)

	ct, err := k.Encrypt(ctx, "custody-1", []byte("dek"))
	require.NoError(t, err)

	// A second instance with the same master key can unwrap
	k2, err := NewLocalMasterKey(master)
	require.NoError(t, err)
	pt, err := k2.Decrypt(ctx, "custody-1", ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("dek"), pt)

	_, err = k.Decrypt(ctx, "custody-2", ct)
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)

	_, err = k.Encrypt(ctx, "", []byte("dek"))
	assert.ErrorIs(t, err, interfaces.ErrRootKeyUnavailable)

	meta, err := k.DescribeKey(ctx, "custody-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.RootKeyActive, meta.State)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
