package rks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/vault/api"
	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransit emulates the transit endpoints used by VaultTransit.
// Ciphertexts are "vault:v1:" followed by the base64 plaintext.
func fakeTransit(t *testing.T) *httptest.Server {
	r := chi.NewRouter()

	writeJSON := func(w http.ResponseWriter, status int, body any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
	readBody := func(r *http.Request) map[string]string {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body := map[string]string{}
		require.NoError(t, json.Unmarshal(data, &body))
		return body
	}

	r.Put("/v1/transit/encrypt/{key}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "key") != "custody-1" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"encryption key not found"}})
			return
		}
		body := readBody(r)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"ciphertext": "vault:v1:" + body["plaintext"]}})
	})
	r.Put("/v1/transit/decrypt/{key}", func(w http.ResponseWriter, r *http.Request) {
		body := readBody(r)
		ct := body["ciphertext"]
		if len(ct) < 9 || ct[:9] != "vault:v1:" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"cipher: message authentication failed"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"plaintext": ct[9:]}})
	})
	r.Get("/v1/transit/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "key") {
		case "custody-1":
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
				"supports_encryption": true,
				"keys":                map[string]any{"1": 1704164645},
			}})
		case "signing-only":
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
				"supports_encryption": false,
				"keys":                map[string]any{"1": map[string]any{"creation_time": "2024-01-02T03:04:05Z"}},
			}})
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{}})
		}
	})

	return httptest.NewServer(r)
}

func newTestVaultTransit(t *testing.T) *VaultTransit {
	srv := fakeTransit(t)
	t.Cleanup(srv.Close)

	config := api.DefaultConfig()
	config.Address = srv.URL
	config.MaxRetries = 0
	client, err := api.NewClient(config)
	require.NoError(t, err)
	client.SetToken("test-token")

	return NewVaultTransitWithClient(client, "/transit/", discardLogger())
}

func TestVaultTransitRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := newTestVaultTransit(t)
	assert.Equal(t, "vault-transit", v.Name())

	ct, err := v.Encrypt(ctx, "custody-1", []byte("dek"))
	require.NoError(t, err)
	assert.Equal(t, "vault:v1:"+base64.StdEncoding.EncodeToString([]byte("dek")), string(ct))

	pt, err := v.Decrypt(ctx, "custody-1", ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("dek"), pt)
}

func TestVaultTransitErrors(t *testing.T) {
	ctx := context.Background()
	v := newTestVaultTransit(t)

	_, err := v.Encrypt(ctx, "missing", []byte("dek"))
	assert.ErrorIs(t, err, interfaces.ErrRootKeyUnavailable)

	_, err = v.Decrypt(ctx, "custody-1", []byte("garbage"))
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)

	_, err = v.DescribeKey(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrRootKeyUnavailable)
}

func TestVaultTransitDescribeKey(t *testing.T) {
	ctx := context.Background()
	v := newTestVaultTransit(t)

	meta, err := v.DescribeKey(ctx, "custody-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.RootKeyActive, meta.State)
	assert.Equal(t, int64(1704164645), meta.CreatedAt.Unix())

	meta, err = v.DescribeKey(ctx, "signing-only")
	require.NoError(t, err)
	assert.Equal(t, interfaces.RootKeyDisabled, meta.State)
	assert.Equal(t, int64(1704164645), meta.CreatedAt.Unix())
}
