// Package interfaces defines the domain types, store contracts and error taxonomy of
// the identity custody service.
//
// # Domain types
//
// Principal, WalletRecord, P2PIdentityRecord, SessionToken, Organization, Invitation
// and Membership mirror the persisted data model. IdentityClaims is the outward
// identity embedded in access tokens.
//
// # Root keys
//
// RootKeyService is the contract of a key custodian (AWS KMS, Vault Transit, a local
// master key). WrappedDEK records which strategy and root key wrapped a data key.
//
// # Errors
//
// Sentinel errors (ErrConflict, ErrNotFound, ErrUnauthorized, ErrProvisioningFailed,
// ...) are matched with errors.Is. EnvelopeError and ProvisioningError carry the
// failing operation or saga step together with the upstream cause.
package interfaces
