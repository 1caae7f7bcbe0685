package interfaces

import "context"

// FundingEnqueuer requests initial funding of a freshly created wallet address.
type FundingEnqueuer interface {
	EnqueueFunding(ctx context.Context, principalID, address string) error
}

// RoleGrantEnqueuer schedules an on-chain role grant for an organization member.
type RoleGrantEnqueuer interface {
	EnqueueRoleGrant(ctx context.Context, membership Membership, walletAddress string) error
}

// SiteNotifier tells the P2P site service to open (or create) the principal's site.
type SiteNotifier interface {
	NotifySiteOpen(ctx context.Context, principalID, peerID string) error
}
