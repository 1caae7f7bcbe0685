package notify

import (
	"context"
	"log/slog"

	"github.com/ruteri/identity-custody-backend/interfaces"
)

// LogOnly stands in for downstream collaborators that are not configured.
// Every notification is logged and reported as delivered.
type LogOnly struct {
	log *slog.Logger
}

func NewLogOnly(log *slog.Logger) *LogOnly {
	return &LogOnly{log: log}
}

func (l *LogOnly) EnqueueFunding(ctx context.Context, principalID, address string) error {
	l.log.Info("Funding queue not configured, skipping", "principal", principalID, "address", address)
	return nil
}

func (l *LogOnly) EnqueueRoleGrant(ctx context.Context, membership interfaces.Membership, walletAddress string) error {
	l.log.Info("Role grant queue not configured, skipping",
		"principal", membership.PrincipalID,
		"org", membership.OrganizationID,
		"role", membership.Role)
	return nil
}

func (l *LogOnly) NotifySiteOpen(ctx context.Context, principalID, peerID string) error {
	l.log.Info("Site service not configured, skipping", "principal", principalID, "peerId", peerID)
	return nil
}
