package authhandler

import (
	"context"
	"net/http"
	"strings"

	"github.com/ruteri/identity-custody-backend/api"
)

// Client calls the public authentication API.
// Errors match interfaces.ErrUnauthorized and interfaces.ErrProvisioningFailed.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: http.DefaultClient}
}

func (c *Client) Login(ctx context.Context, idToken, invitationID string) (*api.LoginResponse, error) {
	var resp api.LoginResponse
	err := api.DoJSON(ctx, c.HTTPClient, http.MethodPost, c.BaseURL+"/api/auth/login", "",
		api.LoginRequest{IDToken: idToken, InvitationID: invitationID}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Refresh(ctx context.Context, principalID, refreshToken string) (*api.TokenResponse, error) {
	var resp api.TokenResponse
	err := api.DoJSON(ctx, c.HTTPClient, http.MethodPost, c.BaseURL+"/api/auth/refresh", "",
		api.RefreshRequest{PrincipalID: principalID, RefreshToken: refreshToken}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Logout(ctx context.Context, refreshToken, accessToken string) error {
	return api.DoJSON(ctx, c.HTTPClient, http.MethodPost, c.BaseURL+"/api/auth/logout", accessToken,
		api.LogoutRequest{RefreshToken: refreshToken}, nil)
}

func (c *Client) Session(ctx context.Context, accessToken string) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	err := api.DoJSON(ctx, c.HTTPClient, http.MethodGet, c.BaseURL+"/api/auth/session", accessToken, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
