// Package internalhandler serves the key release endpoints of the internal API.
//
// These endpoints hand out raw private keys. They carry no authentication of their
// own and must only be bound to a network-isolated listener.
package internalhandler

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/identity-custody-backend/api"
	"github.com/ruteri/identity-custody-backend/interfaces"
)

type KeyReleaser interface {
	WalletPrivateKey(ctx context.Context, principalID string) (*ecdsa.PrivateKey, error)
	PlatformSigningKey() (*ecdsa.PrivateKey, error)
}

type Handler struct {
	keys KeyReleaser
	log  *slog.Logger
}

func NewHandler(keys KeyReleaser, log *slog.Logger) *Handler {
	return &Handler{keys: keys, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/internal/wallets/{principal_id}/private-key", h.HandleWalletPrivateKey)
	r.Get("/api/internal/platform/signing-key", h.HandlePlatformSigningKey)
}

// HandleWalletPrivateKey returns the principal's wallet key.
// 404 when the principal has no wallet.
func (h *Handler) HandleWalletPrivateKey(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "principal_id")

	key, err := h.keys.WalletPrivateKey(r.Context(), principalID)
	if err != nil {
		h.writeFailure(w, "wallet-private-key", err)
		return
	}
	h.writeKey(w, principalID, key)
}

// HandlePlatformSigningKey returns the operational signing key, 404 when none is configured.
func (h *Handler) HandlePlatformSigningKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.PlatformSigningKey()
	if err != nil {
		h.writeFailure(w, "platform-signing-key", err)
		return
	}
	h.writeKey(w, "", key)
}

func (h *Handler) writeKey(w http.ResponseWriter, principalID string, key *ecdsa.PrivateKey) {
	resp := api.PrivateKeyResponse{
		PrincipalID: principalID,
		Address:     crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey:  hexutil.Encode(crypto.FromECDSA(key)),
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeFailure(w http.ResponseWriter, op string, err error) {
	code, msg := http.StatusInternalServerError, "internal error"
	if errors.Is(err, interfaces.ErrNotFound) {
		code, msg = http.StatusNotFound, interfaces.ErrNotFound.Error()
	} else {
		h.log.Error("Key release failed", "op", op, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: msg})
}
