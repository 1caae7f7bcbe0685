// Package provisioning runs the login saga: it makes sure a principal has a wallet
// and a P2P identity, activates it, and issues its session tokens.
//
// The saga steps are not wrapped in one transaction. Every step is conflict-safe,
// so a failed or concurrent login is resumed by simply logging in again:
//
//	principal (Inactive) -> wallet -> p2p identity -> Active -> tokens -> notifications
//
// A principal is activated only after both resources exist. Downstream notifications
// are dispatched in the background after the tokens are issued.
package provisioning

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/ruteri/identity-custody-backend/metrics"
	"github.com/ruteri/identity-custody-backend/notify"
	"github.com/ruteri/identity-custody-backend/p2pidentity"
	"github.com/ruteri/identity-custody-backend/session"
	"github.com/ruteri/identity-custody-backend/wallet"
)

// Saga step names reported in ProvisioningError and metrics.
const (
	StepPrincipal   = "principal"
	StepWallet      = "wallet"
	StepP2PIdentity = "p2p-identity"
	StepActivate    = "activate"
	StepInvitation  = "invitation"
)

// ErrRegistrationIncomplete is the cause reported for Inactive principals when retries are disabled.
var ErrRegistrationIncomplete = errors.New("principal is inactive")

type WalletCustody interface {
	CreateWallet(ctx context.Context, principalID string) (*wallet.Wallet, error)
	Get(ctx context.Context, principalID string) (*wallet.Wallet, error)
	PrivateKey(ctx context.Context, principalID string) (*ecdsa.PrivateKey, error)
}

type IdentityCustody interface {
	CreateIdentity(ctx context.Context, principalID, subject string) (*p2pidentity.Identity, error)
	Get(ctx context.Context, principalID string) (*p2pidentity.Identity, error)
}

type Sessions interface {
	Issue(ctx context.Context, claims interfaces.IdentityClaims) (*session.TokenPair, error)
	Rotate(ctx context.Context, principalID, refreshToken string, claims interfaces.IdentityClaims) (*session.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) error
	Block(ctx context.Context, tokenID string, expiresAt time.Time) error
	Verify(ctx context.Context, accessToken string) (*session.Claims, error)
	ParseAccessToken(accessToken string) (*session.Claims, error)
}

type Dispatcher interface {
	Dispatch(kind string, task notify.Task) bool
}

type Config struct {
	// RetryInactive lets a returning Inactive principal resume provisioning.
	// When false such a login fails with ErrProvisioningFailed.
	RetryInactive bool
	// PlatformSigningKey is the operational signing key served to internal callers.
	PlatformSigningKey *ecdsa.PrivateKey
}

// Collaborators are the downstream services notified after login.
type Collaborators struct {
	RoleGrants interfaces.RoleGrantEnqueuer
	Sites      interfaces.SiteNotifier
}

// LoginResult is returned by Login.
type LoginResult struct {
	Principal  *interfaces.Principal
	Claims     interfaces.IdentityClaims
	Tokens     *session.TokenPair
	Membership *interfaces.Membership
}

type Orchestrator struct {
	principals    interfaces.PrincipalStore
	organizations interfaces.OrganizationStore
	wallets       WalletCustody
	identities    IdentityCustody
	sessions      Sessions
	collaborators Collaborators
	dispatcher    Dispatcher
	cfg           Config
	log           *slog.Logger
}

func NewOrchestrator(
	principals interfaces.PrincipalStore,
	organizations interfaces.OrganizationStore,
	wallets WalletCustody,
	identities IdentityCustody,
	sessions Sessions,
	collaborators Collaborators,
	dispatcher Dispatcher,
	cfg Config,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		principals:    principals,
		organizations: organizations,
		wallets:       wallets,
		identities:    identities,
		sessions:      sessions,
		collaborators: collaborators,
		dispatcher:    dispatcher,
		cfg:           cfg,
		log:           log,
	}
}

// Login provisions the authenticated principal if needed and issues a token pair.
// invitationID is optional; failing to accept it does not fail the login.
func (o *Orchestrator) Login(ctx context.Context, auth AuthResult, invitationID string) (*LoginResult, error) {
	if auth.Subject == "" {
		return nil, interfaces.ErrUnauthorized
	}

	principal, created, err := o.ensurePrincipal(ctx, auth)
	if err != nil {
		return nil, o.stepFailed("", StepPrincipal, err)
	}

	if !created && !principal.IsActive() && !o.cfg.RetryInactive {
		o.log.Warn("Rejecting login of inactive principal", "principal", principal.ID)
		return nil, &interfaces.ProvisioningError{PrincipalID: principal.ID, Step: StepActivate, Err: ErrRegistrationIncomplete}
	}

	w, err := o.ensureWallet(ctx, principal.ID)
	if err != nil {
		o.deactivate(ctx, principal)
		return nil, o.stepFailed(principal.ID, StepWallet, err)
	}

	identity, err := o.ensureIdentity(ctx, principal.ID, principal.Subject)
	if err != nil {
		o.deactivate(ctx, principal)
		return nil, o.stepFailed(principal.ID, StepP2PIdentity, err)
	}

	if !principal.IsActive() {
		if err := o.principals.SetPrincipalState(ctx, principal.ID, interfaces.Active); err != nil {
			return nil, o.stepFailed(principal.ID, StepActivate, err)
		}
		principal.State = interfaces.Active
		metrics.ProvisioningSteps.WithLabelValues(StepActivate, metrics.ResultOK).Inc()
		o.log.Info("Principal activated", "principal", principal.ID, "address", w.Address, "peerId", identity.PeerID)
	}

	var accepted *interfaces.Membership
	if invitationID != "" {
		accepted, err = o.organizations.AcceptInvitation(ctx, invitationID, principal)
		metrics.ProvisioningSteps.WithLabelValues(StepInvitation, metrics.Result(err)).Inc()
		if err != nil {
			o.log.Warn("Failed to accept invitation", "principal", principal.ID, "invitation", invitationID, "err", err)
		}
	}

	membership := accepted
	if membership == nil {
		membership = o.membership(ctx, principal.ID)
	}

	claims := buildClaims(principal.ID, w, identity, membership)
	tokens, err := o.sessions.Issue(ctx, claims)
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	o.notifySiteOpen(principal.ID, identity.PeerID)
	if accepted != nil {
		o.notifyRoleGrant(*accepted, w.Address)
	}

	return &LoginResult{
		Principal:  principal,
		Claims:     claims,
		Tokens:     tokens,
		Membership: membership,
	}, nil
}

// Refresh rotates a refresh token of an Active principal.
// Unknown principals and every token failure yield ErrUnauthorized.
func (o *Orchestrator) Refresh(ctx context.Context, principalID, refreshToken string) (*session.TokenPair, error) {
	principal, err := o.principals.GetPrincipal(ctx, principalID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			o.log.Error("Failed to load principal for refresh", "principal", principalID, "err", err)
		}
		return nil, interfaces.ErrUnauthorized
	}
	if !principal.IsActive() {
		return nil, interfaces.ErrUnauthorized
	}

	w, err := o.wallets.Get(ctx, principalID)
	if err != nil {
		o.log.Error("Active principal has no wallet", "principal", principalID, "err", err)
		return nil, interfaces.ErrUnauthorized
	}
	identity, err := o.identities.Get(ctx, principalID)
	if err != nil {
		o.log.Error("Active principal has no p2p identity", "principal", principalID, "err", err)
		return nil, interfaces.ErrUnauthorized
	}

	return o.sessions.Rotate(ctx, principalID, refreshToken, buildClaims(principalID, w, identity, o.membership(ctx, principalID)))
}

// Logout revokes the refresh token and, when given, blocks the access token until it expires.
func (o *Orchestrator) Logout(ctx context.Context, refreshToken, accessToken string) error {
	if refreshToken != "" {
		if err := o.sessions.Revoke(ctx, refreshToken); err != nil {
			return err
		}
	}

	if accessToken == "" {
		return nil
	}
	claims, err := o.sessions.ParseAccessToken(accessToken)
	if err != nil {
		// Expired or foreign access tokens need no blocking.
		return nil
	}
	return o.sessions.Block(ctx, claims.ID, claims.ExpiresAt.Time)
}

// Session validates an access token, honoring logouts.
func (o *Orchestrator) Session(ctx context.Context, accessToken string) (*session.Claims, error) {
	return o.sessions.Verify(ctx, accessToken)
}

// WalletPrivateKey serves trusted internal callers only.
func (o *Orchestrator) WalletPrivateKey(ctx context.Context, principalID string) (*ecdsa.PrivateKey, error) {
	key, err := o.wallets.PrivateKey(ctx, principalID)
	if err != nil {
		return nil, err
	}
	o.log.Info("Wallet private key released", "principal", principalID)
	return key, nil
}

// PlatformSigningKey returns the configured operational signing key, or ErrNotFound.
func (o *Orchestrator) PlatformSigningKey() (*ecdsa.PrivateKey, error) {
	if o.cfg.PlatformSigningKey == nil {
		return nil, interfaces.ErrNotFound
	}
	return o.cfg.PlatformSigningKey, nil
}

// ensurePrincipal returns the principal for auth.Subject, creating an Inactive one when unknown.
func (o *Orchestrator) ensurePrincipal(ctx context.Context, auth AuthResult) (*interfaces.Principal, bool, error) {
	p, err := o.principals.GetPrincipalBySubject(ctx, auth.Subject)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, false, err
	}

	p = &interfaces.Principal{
		ID:        uuid.NewString(),
		Subject:   auth.Subject,
		Email:     auth.Email,
		Name:      auth.Name,
		AvatarURL: auth.AvatarURL,
		State:     interfaces.Inactive,
		CreatedAt: time.Now(),
	}
	err = o.principals.CreatePrincipal(ctx, p)
	if errors.Is(err, interfaces.ErrConflict) {
		// Lost a concurrent first login
		p, err = o.principals.GetPrincipalBySubject(ctx, auth.Subject)
		return p, false, err
	}
	if err != nil {
		return nil, false, err
	}

	metrics.ProvisioningSteps.WithLabelValues(StepPrincipal, metrics.ResultOK).Inc()
	o.log.Info("Principal created", "principal", p.ID)
	return p, true, nil
}

func (o *Orchestrator) ensureWallet(ctx context.Context, principalID string) (*wallet.Wallet, error) {
	w, err := o.wallets.Get(ctx, principalID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	w, err = o.wallets.CreateWallet(ctx, principalID)
	if errors.Is(err, interfaces.ErrConflict) {
		return o.wallets.Get(ctx, principalID)
	}
	if err != nil {
		return nil, err
	}
	metrics.ProvisioningSteps.WithLabelValues(StepWallet, metrics.ResultOK).Inc()
	return w, nil
}

func (o *Orchestrator) ensureIdentity(ctx context.Context, principalID, subject string) (*p2pidentity.Identity, error) {
	identity, err := o.identities.Get(ctx, principalID)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	identity, err = o.identities.CreateIdentity(ctx, principalID, subject)
	if errors.Is(err, interfaces.ErrConflict) {
		return o.identities.Get(ctx, principalID)
	}
	if err != nil {
		return nil, err
	}
	metrics.ProvisioningSteps.WithLabelValues(StepP2PIdentity, metrics.ResultOK).Inc()
	return identity, nil
}

func (o *Orchestrator) membership(ctx context.Context, principalID string) *interfaces.Membership {
	m, err := o.organizations.GetMembership(ctx, principalID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			o.log.Warn("Failed to load membership", "principal", principalID, "err", err)
		}
		return nil
	}
	return m
}

// deactivate demotes an Active principal whose missing resources could not be
// re-provisioned, so that Active keeps implying both records exist.
func (o *Orchestrator) deactivate(ctx context.Context, principal *interfaces.Principal) {
	if !principal.IsActive() {
		return
	}
	if err := o.principals.SetPrincipalState(ctx, principal.ID, interfaces.Inactive); err != nil {
		o.log.Error("Failed to deactivate principal", "principal", principal.ID, "err", err)
		return
	}
	principal.State = interfaces.Inactive
	o.log.Warn("Principal deactivated after failed re-provisioning", "principal", principal.ID)
}

func (o *Orchestrator) stepFailed(principalID, step string, err error) error {
	metrics.ProvisioningSteps.WithLabelValues(step, metrics.ResultError).Inc()
	o.log.Error("Provisioning step failed",
		"principal", principalID,
		"step", step,
		"transient", interfaces.IsTransient(err),
		"err", err)
	return &interfaces.ProvisioningError{PrincipalID: principalID, Step: step, Err: err}
}

func (o *Orchestrator) notifySiteOpen(principalID, peerID string) {
	if o.collaborators.Sites == nil {
		return
	}
	o.dispatcher.Dispatch("site-open", func(ctx context.Context) error {
		return o.collaborators.Sites.NotifySiteOpen(ctx, principalID, peerID)
	})
}

func (o *Orchestrator) notifyRoleGrant(membership interfaces.Membership, walletAddress string) {
	if o.collaborators.RoleGrants == nil {
		return
	}
	o.dispatcher.Dispatch("role-grant", func(ctx context.Context) error {
		return o.collaborators.RoleGrants.EnqueueRoleGrant(ctx, membership, walletAddress)
	})
}

func buildClaims(principalID string, w *wallet.Wallet, identity *p2pidentity.Identity, membership *interfaces.Membership) interfaces.IdentityClaims {
	claims := interfaces.IdentityClaims{
		PrincipalID:      principalID,
		PeerID:           identity.PeerID,
		WalletAddress:    w.Address,
		WalletPublicKey:  hexutil.Encode(w.CompressedPublicKey),
		NetworkPublicKey: hexutil.Encode(identity.PublicKey),
	}
	if membership != nil {
		claims.OrganizationID = membership.OrganizationID
		claims.Role = membership.Role
	}
	return claims
}
