package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// SiteOpenRequest is the body sent to the site service.
type SiteOpenRequest struct {
	PrincipalID string `json:"principal_id"`
	PeerID      string `json:"peer_id"`
}

// SiteIdempotencyKey deduplicates site-open notifications per peer.
func SiteIdempotencyKey(peerID string) string {
	return "site-open:" + peerID
}

// SiteNotifier asks the P2P site service to open or create a principal's site.
type SiteNotifier struct {
	baseURL string
	client  *retryablehttp.Client
	log     *slog.Logger
}

// NewSiteNotifier retries 5xx and connection errors up to retryMax times.
// The overall deadline comes from the caller's context.
func NewSiteNotifier(baseURL string, retryMax int, log *slog.Logger) *SiteNotifier {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = nil

	return &SiteNotifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log,
	}
}

func (n *SiteNotifier) NotifySiteOpen(ctx context.Context, principalID, peerID string) error {
	body, err := json.Marshal(SiteOpenRequest{PrincipalID: principalID, PeerID: peerID})
	if err != nil {
		return fmt.Errorf("failed to marshal site request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/api/sites/open", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", SiteIdempotencyKey(peerID))

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to notify site service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("site service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	n.log.Debug("Site open notified", "principal", principalID, "peerId", peerID)
	return nil
}
