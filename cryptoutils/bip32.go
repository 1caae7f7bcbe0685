package cryptoutils

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// EthereumDerivationPath is the default account path used for principal wallets (m/44'/60'/0'/0/0).
var EthereumDerivationPath = accounts.DefaultBaseDerivationPath

// DeriveBIP32 derives the secp256k1 private key at path from a BIP-39 seed.
func DeriveBIP32(seed []byte, path accounts.DerivationPath) (*ecdsa.PrivateKey, error) {
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	defer func() { key.Zero() }()

	for _, idx := range path {
		child, err := key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to derive child key at index %d: %w", idx, err)
		}
		key.Zero()
		key = child
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	raw := priv.Serialize()
	defer Zero(raw)
	return crypto.ToECDSA(raw)
}
