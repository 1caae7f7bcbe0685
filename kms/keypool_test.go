package kms

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/ruteri/identity-custody-backend/rks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestEnvironment(t *testing.T) (*rks.Memory, *KeyPool) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	memory, err := rks.NewMemory("custody-1", "custody-2", "custody-3")
	require.NoError(t, err)

	pool := NewKeyPool(memory, KeyPoolConfig{
		AliasPrefix: "custody",
		Size:        3,
		Rotation:    interfaces.RotationPolicy{Enabled: true, IntervalMonths: 6},
	}, logger)
	require.NoError(t, pool.Initialize(context.Background(), 3))

	return memory, pool
}

func TestKeyPoolSelectsOnlyActiveKeys(t *testing.T) {
	memory, pool := setupTestEnvironment(t)

	require.NoError(t, memory.SetState("custody-2", interfaces.RootKeyDisabled))
	require.NoError(t, pool.Refresh(context.Background()))

	seen := map[string]int{}
	for i := 0; i < 1000; i++ {
		id, err := pool.SelectKey()
		require.NoError(t, err)
		require.NotEqual(t, "custody-2", id)
		seen[id]++
	}

	// Both active keys are used
	assert.Greater(t, seen["custody-1"], 0)
	assert.Greater(t, seen["custody-3"], 0)
}

func TestKeyPoolNoActiveKeys(t *testing.T) {
	memory, pool := setupTestEnvironment(t)

	for _, id := range []string{"custody-1", "custody-2", "custody-3"} {
		require.NoError(t, memory.SetState(id, interfaces.RootKeyDisabled))
	}
	require.NoError(t, pool.Refresh(context.Background()))

	_, err := pool.SelectKey()
	assert.ErrorIs(t, err, interfaces.ErrNoActiveKeys)
	assert.Len(t, pool.Entries(), 3)
}

func TestKeyPoolSkipsUnreachableAliases(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := new(rks.MockRootKeyService)
	m.On("Name").Return("mock")
	m.On("DescribeKey", mock.Anything, "custody-1").
		Return(interfaces.RootKeyMetadata{ID: "custody-1", State: interfaces.RootKeyActive}, nil)
	m.On("DescribeKey", mock.Anything, "custody-2").
		Return(interfaces.RootKeyMetadata{}, errors.New("connection refused"))

	pool := NewKeyPool(m, KeyPoolConfig{AliasPrefix: "custody"}, logger)
	require.NoError(t, pool.Initialize(context.Background(), 2))

	entries := pool.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "custody-1", entries[0].RootKeyID)

	assert.Error(t, pool.Initialize(context.Background(), 0))
}

func TestKeyPoolRefreshKeepsEntriesWhenUnreachable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := new(rks.MockRootKeyService)
	m.On("Name").Return("mock")
	m.On("DescribeKey", mock.Anything, "custody-1").
		Return(interfaces.RootKeyMetadata{ID: "custody-1", State: interfaces.RootKeyActive}, nil).Once()
	m.On("DescribeKey", mock.Anything, "custody-1").
		Return(interfaces.RootKeyMetadata{}, interfaces.ErrRootKeyTransient)

	pool := NewKeyPool(m, KeyPoolConfig{AliasPrefix: "custody"}, logger)
	require.NoError(t, pool.Initialize(context.Background(), 1))

	require.NoError(t, pool.Refresh(context.Background()))

	id, err := pool.SelectKey()
	require.NoError(t, err)
	assert.Equal(t, "custody-1", id)
	assert.Len(t, pool.Entries(), 1)
	m.AssertNumberOfCalls(t, "DescribeKey", 2)
}

func TestKeyPoolTracksLastUsed(t *testing.T) {
	_, pool := setupTestEnvironment(t)

	for _, e := range pool.Entries() {
		assert.True(t, e.LastUsedTime.IsZero())
	}

	before := time.Now()
	id, err := pool.SelectKey()
	require.NoError(t, err)

	for _, e := range pool.Entries() {
		if e.RootKeyID == id {
			assert.False(t, e.LastUsedTime.Before(before))
		}
	}

	assert.Equal(t, interfaces.RotationPolicy{Enabled: true, IntervalMonths: 6}, pool.RotationPolicy())
}

func TestKeyPoolConcurrentSelectAndRefresh(t *testing.T) {
	_, pool := setupTestEnvironment(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := pool.SelectKey()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 10; j++ {
			assert.NoError(t, pool.Refresh(context.Background()))
		}
	}()
	wg.Wait()
}
