package interfaces

import (
	"context"
	"time"
)

// PrincipalStore persists principals.
type PrincipalStore interface {
	// CreatePrincipal inserts p or returns ErrConflict when the subject is already known.
	CreatePrincipal(ctx context.Context, p *Principal) error
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	GetPrincipalBySubject(ctx context.Context, subject string) (*Principal, error)
	SetPrincipalState(ctx context.Context, id string, state ActivationState) error
}

// WalletStore persists wallet custody records, at most one per principal.
type WalletStore interface {
	// InsertWallet returns ErrConflict when the principal already has a wallet.
	InsertWallet(ctx context.Context, rec *WalletRecord) error
	GetWallet(ctx context.Context, principalID string) (*WalletRecord, error)
}

// P2PIdentityStore persists network identity records, at most one per principal.
type P2PIdentityStore interface {
	// InsertP2PIdentity returns ErrConflict when the principal already has an identity.
	InsertP2PIdentity(ctx context.Context, rec *P2PIdentityRecord) error
	GetP2PIdentity(ctx context.Context, principalID string) (*P2PIdentityRecord, error)
}

// SessionStore persists refresh token hashes and the access token blocklist.
type SessionStore interface {
	InsertSession(ctx context.Context, s *SessionToken) error
	GetSessionByHash(ctx context.Context, tokenHash string) (*SessionToken, error)
	// RevokeSession marks the session revoked. It reports false when the session
	// was already revoked, so that only one concurrent caller wins.
	RevokeSession(ctx context.Context, id string) (bool, error)
	BlockToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	// IsTokenBlocked returns the expiry of the blocked token, or ErrNotFound.
	IsTokenBlocked(ctx context.Context, tokenID string) (time.Time, error)
}

// OrganizationStore holds the invitation and membership data consulted during login.
type OrganizationStore interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	CreateInvitation(ctx context.Context, inv *Invitation) error
	// AcceptInvitation inserts the membership and marks the invitation accepted in one transaction.
	AcceptInvitation(ctx context.Context, invitationID string, principal *Principal) (*Membership, error)
	// GetMembership returns the principal's earliest membership, or ErrNotFound.
	GetMembership(ctx context.Context, principalID string) (*Membership, error)
}

// Store is the full relational store.
type Store interface {
	PrincipalStore
	WalletStore
	P2PIdentityStore
	SessionStore
	OrganizationStore
	Close() error
}
