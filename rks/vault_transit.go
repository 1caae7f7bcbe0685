package rks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/identity-custody-backend/interfaces"
)

// VaultTransit is a root key service backed by HashiCorp Vault's transit secrets engine.
// Root key ids are transit key names; key material never leaves Vault.
type VaultTransit struct {
	client    *api.Client
	mountPath string
	log       *slog.Logger
}

// NewVaultTransit creates a Vault client authenticated with token.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token allowed to use transit encrypt/decrypt and read key metadata
//   - mountPath: transit mount path (e.g. "transit")
func NewVaultTransit(address, token, mountPath string, log *slog.Logger) (*VaultTransit, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{
		Timeout: 30 * time.Second,
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return NewVaultTransitWithClient(client, mountPath, log), nil
}

// NewVaultTransitWithClient wraps an existing Vault client.
func NewVaultTransitWithClient(client *api.Client, mountPath string, log *slog.Logger) *VaultTransit {
	mountPath = strings.Trim(mountPath, "/")
	if mountPath == "" {
		mountPath = "transit"
	}
	return &VaultTransit{client: client, mountPath: mountPath, log: log}
}

func (v *VaultTransit) Name() string { return "vault-transit" }

func (v *VaultTransit) Encrypt(ctx context.Context, rootKeyID string, plaintext []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/encrypt/%s", v.mountPath, rootKeyID)
	secret, err := v.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		v.log.Warn("Vault transit encrypt failed", slog.String("path", path), "err", err)
		return nil, classifyVaultError(err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrEmptyResult
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok || ciphertext == "" {
		return nil, interfaces.ErrEmptyResult
	}
	return []byte(ciphertext), nil
}

func (v *VaultTransit) Decrypt(ctx context.Context, rootKeyID string, ciphertext []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/decrypt/%s", v.mountPath, rootKeyID)
	secret, err := v.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext": string(ciphertext),
	})
	if err != nil {
		v.log.Warn("Vault transit decrypt failed", slog.String("path", path), "err", err)
		return nil, classifyVaultError(err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrEmptyResult
	}

	encoded, ok := secret.Data["plaintext"].(string)
	if !ok || encoded == "" {
		return nil, interfaces.ErrEmptyResult
	}

	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid plaintext encoding in Vault response: %w", err)
	}
	return plaintext, nil
}

func (v *VaultTransit) DescribeKey(ctx context.Context, rootKeyID string) (interfaces.RootKeyMetadata, error) {
	path := fmt.Sprintf("%s/keys/%s", v.mountPath, rootKeyID)
	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return interfaces.RootKeyMetadata{}, classifyVaultError(err)
	}
	if secret == nil || secret.Data == nil {
		return interfaces.RootKeyMetadata{}, fmt.Errorf("%w: %s", interfaces.ErrRootKeyUnavailable, rootKeyID)
	}

	meta := interfaces.RootKeyMetadata{ID: rootKeyID, State: interfaces.RootKeyActive}

	// Transit keys cannot be disabled, only restricted from encryption.
	if supported, ok := secret.Data["supports_encryption"].(bool); ok && !supported {
		meta.State = interfaces.RootKeyDisabled
	}

	meta.CreatedAt = firstVersionCreationTime(secret.Data["keys"])
	return meta, nil
}

// firstVersionCreationTime reads the creation time of version 1 from the transit "keys" map.
// Depending on key type a version maps either to a unix timestamp or to an object with creation_time.
func firstVersionCreationTime(keys interface{}) time.Time {
	versions, ok := keys.(map[string]interface{})
	if !ok {
		return time.Time{}
	}

	switch v := versions["1"].(type) {
	case json.Number:
		if ts, err := v.Int64(); err == nil {
			return time.Unix(ts, 0)
		}
	case float64:
		return time.Unix(int64(v), 0)
	case map[string]interface{}:
		if s, ok := v["creation_time"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func classifyVaultError(err error) error {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %v", interfaces.ErrRootKeyUnavailable, err)
		}
		if respErr.StatusCode == http.StatusBadRequest {
			for _, msg := range respErr.Errors {
				if strings.Contains(msg, "encryption key not found") {
					return fmt.Errorf("%w: %v", interfaces.ErrRootKeyUnavailable, err)
				}
				if strings.Contains(msg, "cipher: message authentication failed") {
					return fmt.Errorf("%w: %v", interfaces.ErrAuthenticationFailed, err)
				}
			}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", interfaces.ErrRootKeyTransient, err)
}
