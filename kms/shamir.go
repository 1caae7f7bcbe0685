package kms

import (
	"errors"
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// MinMasterKeySize is the minimum size of a local master key.
const MinMasterKeySize = 32

// SplitMasterKey splits a local master key into shares using Shamir's Secret Sharing.
// Any threshold of the returned shares reconstructs the key; the caller distributes
// the shares to administrators and erases the key.
func SplitMasterKey(masterKey []byte, shares, threshold int) ([][]byte, error) {
	if len(masterKey) < MinMasterKeySize {
		return nil, errors.New("master key must be at least 32 bytes")
	}

	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}

	if shares < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	parts, err := shamir.Split(masterKey, shares, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split master key: %w", err)
	}
	return parts, nil
}

// MasterKeyFromShares reconstructs the local master key.
// Shares are wiped once combined. Fewer shares than the threshold yield a wrong key,
// which then fails authentication on the first unwrap.
func MasterKeyFromShares(shares [][]byte) ([]byte, error) {
	if len(shares) < 2 {
		return nil, errors.New("at least 2 shares are required")
	}

	masterKey, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct master key: %w", err)
	}

	for i := range shares {
		wipeBytes(shares[i])
	}

	if len(masterKey) < MinMasterKeySize {
		return nil, errors.New("reconstructed master key is shorter than 32 bytes")
	}
	return masterKey, nil
}

// Securely wipe data from memory
func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
