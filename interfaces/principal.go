package interfaces

import (
	"time"
)

// ActivationState is the lifecycle state of a principal.
type ActivationState string

const (
	Inactive ActivationState = "inactive"
	Active   ActivationState = "active"
)

// Principal is an end user or claimed organization known to the platform.
// A principal is Active only while both its wallet and its P2P identity exist.
type Principal struct {
	ID        string
	Subject   string
	Email     string
	Name      string
	AvatarURL string
	State     ActivationState
	CreatedAt time.Time
}

// IsActive reports whether the principal completed provisioning.
func (p *Principal) IsActive() bool {
	return p.State == Active
}

// EncryptedBlob is authenticated ciphertext laid out as nonce||tag||ciphertext.
type EncryptedBlob []byte

// WalletRecord is the persisted custody record of a principal's wallet.
// The seed is stored only as ciphertext under a DEK which itself is wrapped by a root key.
type WalletRecord struct {
	PrincipalID         string
	Address             string
	CompressedPublicKey []byte
	EncryptedSeed       EncryptedBlob
	WrappedDEK          WrappedDEK
	CreatedAt           time.Time
}

// RootKeyID returns the identifier of the root key wrapping the seed's DEK.
func (w *WalletRecord) RootKeyID() string {
	return w.WrappedDEK.RootKeyID
}

// P2PIdentityRecord is the persisted custody record of a principal's network identity.
// The private key is encrypted under a key derived from the principal's subject and Salt.
type P2PIdentityRecord struct {
	PrincipalID         string
	PublicKey           []byte
	PeerID              string
	EncryptedPrivateKey EncryptedBlob
	Salt                []byte
	CreatedAt           time.Time
}

// SessionToken is the persisted half of a refresh token. Only a one-way hash is kept.
type SessionToken struct {
	ID          string
	PrincipalID string
	TokenHash   string
	Revoked     bool
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// InvitationStatus tracks whether an organization invitation has been used.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
)

// Organization is a claimed organization that principals can join by invitation.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Invitation invites a principal (identified by email) into an organization with a role.
type Invitation struct {
	ID             string
	OrganizationID string
	Email          string
	Role           string
	Status         InvitationStatus
	CreatedAt      time.Time
}

// Membership links a principal to an organization.
type Membership struct {
	PrincipalID    string
	OrganizationID string
	Role           string
	CreatedAt      time.Time
}

// IdentityClaims is the outward identity embedded into access tokens.
type IdentityClaims struct {
	PrincipalID      string `json:"principal_id"`
	OrganizationID   string `json:"org_id,omitempty"`
	Role             string `json:"role,omitempty"`
	PeerID           string `json:"peer_id"`
	WalletAddress    string `json:"wallet_address"`
	WalletPublicKey  string `json:"wallet_public_key"`
	NetworkPublicKey string `json:"network_public_key"`
}
