package internalhandler

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/identity-custody-backend/api"
)

// WalletPrivateKey fetches a principal's wallet key from the internal API at baseURL.
// A principal without a wallet yields an error matching interfaces.ErrNotFound.
func WalletPrivateKey(ctx context.Context, client *http.Client, baseURL, principalID string) (*ecdsa.PrivateKey, error) {
	endpoint := fmt.Sprintf("%s/api/internal/wallets/%s/private-key", strings.TrimRight(baseURL, "/"), url.PathEscape(principalID))
	return fetchKey(ctx, client, endpoint)
}

// PlatformSigningKey fetches the platform's operational signing key from the internal API.
func PlatformSigningKey(ctx context.Context, client *http.Client, baseURL string) (*ecdsa.PrivateKey, error) {
	return fetchKey(ctx, client, strings.TrimRight(baseURL, "/")+"/api/internal/platform/signing-key")
}

func fetchKey(ctx context.Context, client *http.Client, endpoint string) (*ecdsa.PrivateKey, error) {
	var resp api.PrivateKeyResponse
	if err := api.DoJSON(ctx, client, http.MethodGet, endpoint, "", nil, &resp); err != nil {
		return nil, err
	}

	raw, err := hexutil.Decode(resp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("could not decode private key: %w", err)
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	if addr := crypto.PubkeyToAddress(key.PublicKey).Hex(); addr != resp.Address {
		return nil, fmt.Errorf("private key does not match address %s", resp.Address)
	}
	return key, nil
}
