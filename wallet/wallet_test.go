package wallet

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/ruteri/identity-custody-backend/kms"
	"github.com/ruteri/identity-custody-backend/notify"
	"github.com/ruteri/identity-custody-backend/rks"
	"github.com/ruteri/identity-custody-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store      *storage.SQLStore
	memory     *rks.Memory
	funding    *notify.MockCollaborators
	dispatcher *notify.Dispatcher
	service    *Service
}

func setupTestEnvironment(t *testing.T) *testEnv {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.OpenURL(ctx, "sqlite::memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreatePrincipal(ctx, &interfaces.Principal{ID: "p-1", Subject: "google|abc123", State: interfaces.Inactive}))

	memory, err := rks.NewMemory("custody-1", "custody-2")
	require.NoError(t, err)
	pool := kms.NewKeyPool(memory, kms.KeyPoolConfig{AliasPrefix: "custody"}, logger)
	require.NoError(t, pool.Initialize(ctx, 2))

	funding := new(notify.MockCollaborators)
	dispatcher := notify.NewDispatcher(8, time.Second, logger)

	return &testEnv{
		store:      store,
		memory:     memory,
		funding:    funding,
		dispatcher: dispatcher,
		service:    NewService(store, kms.NewEnvelope(memory, pool, logger), funding, dispatcher, logger),
	}
}

func TestCreateWallet(t *testing.T) {
	env := setupTestEnvironment(t)
	ctx := context.Background()

	env.funding.On("EnqueueFunding", mock.Anything, "p-1", mock.AnythingOfType("string")).Return(nil)

	w, err := env.service.CreateWallet(ctx, "p-1")
	require.NoError(t, err)
	assert.Regexp(t, "^0x[0-9a-fA-F]{40}$", w.Address)
	assert.Len(t, w.CompressedPublicKey, 33)

	require.NoError(t, env.dispatcher.Close(ctx))
	env.funding.AssertCalled(t, "EnqueueFunding", mock.Anything, "p-1", w.Address)

	// The private key matches the public data
	key, err := env.service.PrivateKey(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, w.Address, crypto.PubkeyToAddress(key.PublicKey).Hex())
	assert.Equal(t, w.CompressedPublicKey, crypto.CompressPubkey(&key.PublicKey))

	got, err := env.service.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, w.Address, got.Address)
}

func TestCreateWalletTwiceConflicts(t *testing.T) {
	env := setupTestEnvironment(t)
	ctx := context.Background()
	env.funding.On("EnqueueFunding", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	first, err := env.service.CreateWallet(ctx, "p-1")
	require.NoError(t, err)

	_, err = env.service.CreateWallet(ctx, "p-1")
	assert.ErrorIs(t, err, interfaces.ErrConflict)

	got, err := env.service.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, first.Address, got.Address)
}

func TestCreateWalletConcurrent(t *testing.T) {
	env := setupTestEnvironment(t)
	ctx := context.Background()
	env.funding.On("EnqueueFunding", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.CreateWallet(ctx, "p-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case assert.ErrorIs(t, err, interfaces.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 4, conflicts)
}

func TestFundingFailureDoesNotFailCreation(t *testing.T) {
	env := setupTestEnvironment(t)
	ctx := context.Background()
	env.funding.On("EnqueueFunding", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	_, err := env.service.CreateWallet(ctx, "p-1")
	require.NoError(t, err)
	require.NoError(t, env.dispatcher.Close(ctx))
	env.funding.AssertNumberOfCalls(t, "EnqueueFunding", 1)
}

func TestCreateWalletEnvelopeFailure(t *testing.T) {
	env := setupTestEnvironment(t)
	ctx := context.Background()

	require.NoError(t, env.memory.SetState("custody-1", interfaces.RootKeyDisabled))
	require.NoError(t, env.memory.SetState("custody-2", interfaces.RootKeyDisabled))

	_, err := env.service.CreateWallet(ctx, "p-1")
	require.ErrorIs(t, err, interfaces.ErrEnvelope)

	// Nothing persisted, no funding requested
	_, err = env.service.Get(ctx, "p-1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	require.NoError(t, env.dispatcher.Close(ctx))
	env.funding.AssertNotCalled(t, "EnqueueFunding", mock.Anything, mock.Anything, mock.Anything)
}

func TestPrivateKeyFailures(t *testing.T) {
	env := setupTestEnvironment(t)
	ctx := context.Background()
	env.funding.On("EnqueueFunding", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := env.service.PrivateKey(ctx, "p-1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = env.service.CreateWallet(ctx, "p-1")
	require.NoError(t, err)

	rec, err := env.store.GetWallet(ctx, "p-1")
	require.NoError(t, err)
	require.NoError(t, env.memory.SetState(rec.RootKeyID(), interfaces.RootKeyDisabled))

	_, err = env.service.PrivateKey(ctx, "p-1")
	require.ErrorIs(t, err, interfaces.ErrEnvelope)
	assert.ErrorIs(t, err, interfaces.ErrRootKeyUnavailable)
}

func TestStoredSeedIsNotPlaintext(t *testing.T) {
	env := setupTestEnvironment(t)
	ctx := context.Background()
	env.funding.On("EnqueueFunding", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := env.service.CreateWallet(ctx, "p-1")
	require.NoError(t, err)

	rec, err := env.store.GetWallet(ctx, "p-1")
	require.NoError(t, err)

	// Flipping any single byte fails authentication
	for _, i := range []int{0, 12, 28, len(rec.EncryptedSeed) - 1} {
		tampered := *rec
		tampered.EncryptedSeed = append(interfaces.EncryptedBlob(nil), rec.EncryptedSeed...)
		tampered.EncryptedSeed[i] ^= 0x01

		_, err := env.service.sealer.Open(ctx, tampered.EncryptedSeed, tampered.WrappedDEK)
		assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
	}
}
