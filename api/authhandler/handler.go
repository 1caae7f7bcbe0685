package authhandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/identity-custody-backend/api"
	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/ruteri/identity-custody-backend/provisioning"
	"github.com/ruteri/identity-custody-backend/session"
)

const maxBodyBytes = 1 << 16

// Provisioner is the subset of the provisioning orchestrator served over HTTP.
type Provisioner interface {
	Login(ctx context.Context, auth provisioning.AuthResult, invitationID string) (*provisioning.LoginResult, error)
	Refresh(ctx context.Context, principalID, refreshToken string) (*session.TokenPair, error)
	Logout(ctx context.Context, refreshToken, accessToken string) error
	Session(ctx context.Context, accessToken string) (*session.Claims, error)
}

// Handler serves the public authentication API.
type Handler struct {
	verifier    provisioning.IDTokenVerifier
	provisioner Provisioner
	log         *slog.Logger
}

func NewHandler(verifier provisioning.IDTokenVerifier, provisioner Provisioner, log *slog.Logger) *Handler {
	return &Handler{
		verifier:    verifier,
		provisioner: provisioner,
		log:         log,
	}
}

// RegisterRoutes mounts:
//   - POST /api/auth/login
//   - POST /api/auth/refresh
//   - POST /api/auth/logout
//   - GET  /api/auth/session
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/auth/login", h.HandleLogin)
	r.Post("/api/auth/refresh", h.HandleRefresh)
	r.Post("/api/auth/logout", h.HandleLogout)
	r.Get("/api/auth/session", h.HandleSession)
}

// HandleLogin verifies the ID token, provisions the principal when needed and
// returns a token pair.
//
// Status codes:
//   - 200 OK: tokens issued
//   - 400 Bad Request: malformed body
//   - 401 Unauthorized: the ID token did not verify
//   - 503 Service Unavailable: registration did not complete, the client may retry
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IDToken == "" {
		writeError(w, http.StatusBadRequest, "id_token is required")
		return
	}

	auth, err := h.verifier.Verify(r.Context(), req.IDToken)
	if err != nil {
		h.writeFailure(w, "login", err)
		return
	}

	res, err := h.provisioner.Login(r.Context(), *auth, req.InvitationID)
	if err != nil {
		h.writeFailure(w, "login", err)
		return
	}

	writeJSON(w, http.StatusOK, api.LoginResponse{
		TokenResponse: tokenResponse(res.Tokens),
		Identity:      res.Claims,
	})
}

func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req api.RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PrincipalID == "" || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "principal_id and refresh_token are required")
		return
	}

	pair, err := h.provisioner.Refresh(r.Context(), req.PrincipalID, req.RefreshToken)
	if err != nil {
		h.writeFailure(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleLogout revokes the refresh token in the body and blocks the bearer access token.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req api.LogoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.provisioner.Logout(r.Context(), req.RefreshToken, bearerToken(r)); err != nil {
		h.writeFailure(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, interfaces.ErrUnauthorized.Error())
		return
	}

	claims, err := h.provisioner.Session(r.Context(), token)
	if err != nil {
		h.writeFailure(w, "session", err)
		return
	}

	resp := api.SessionResponse{IdentityClaims: claims.IdentityClaims}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.log.Debug("Malformed request body", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// writeFailure keeps unauthorized responses generic so clients cannot tell
// unknown, revoked and expired credentials apart.
func (h *Handler) writeFailure(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, interfaces.ErrUnauthorized):
		h.log.Debug("Request unauthorized", "op", op, "err", err)
		writeError(w, http.StatusUnauthorized, interfaces.ErrUnauthorized.Error())
	case errors.Is(err, interfaces.ErrProvisioningFailed):
		h.log.Warn("Registration did not complete", "op", op, "err", err)
		writeError(w, http.StatusServiceUnavailable, interfaces.ErrProvisioningFailed.Error())
	default:
		h.log.Error("Request failed", "op", op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func tokenResponse(pair *session.TokenPair) api.TokenResponse {
	return api.TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        pair.TokenType,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, api.ErrorResponse{Error: msg})
}
