package kms

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMasterKey(t *testing.T) {
	masterKey := make([]byte, 32)
	_, err := rand.Read(masterKey)
	require.NoError(t, err, "Failed to generate test master key")

	shares, err := SplitMasterKey(masterKey, 5, 3)
	require.NoError(t, err, "SplitMasterKey should succeed with valid parameters")
	assert.Equal(t, 5, len(shares), "Should generate 5 shares")

	_, err = SplitMasterKey(masterKey, 5, 6)
	assert.Error(t, err, "Should fail when threshold > total shares")

	_, err = SplitMasterKey(masterKey, 5, 1)
	assert.Error(t, err, "Should fail when threshold < 2")

	_, err = SplitMasterKey(make([]byte, 16), 5, 3)
	assert.Error(t, err, "Should fail with master key < 32 bytes")
}

func TestMasterKeyFromShares(t *testing.T) {
	masterKey := make([]byte, 32)
	_, err := rand.Read(masterKey)
	require.NoError(t, err)

	shares, err := SplitMasterKey(masterKey, 5, 3)
	require.NoError(t, err)

	subset := [][]byte{shares[4], shares[1], shares[2]}
	recovered, err := MasterKeyFromShares(subset)
	require.NoError(t, err)
	assert.Equal(t, masterKey, recovered)

	// Combined shares are wiped
	for _, s := range subset {
		assert.Equal(t, make([]byte, len(s)), s)
	}

	_, err = MasterKeyFromShares([][]byte{shares[0]})
	assert.Error(t, err, "Should fail with a single share")
}
