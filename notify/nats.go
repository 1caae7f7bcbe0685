package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/ruteri/identity-custody-backend/interfaces"
)

// FundingRequest asks the funding worker to send initial funds to a new wallet.
type FundingRequest struct {
	PrincipalID string    `json:"principal_id"`
	Address     string    `json:"address"`
	RequestedAt time.Time `json:"requested_at"`
}

// RoleGrantJob asks the chain worker to grant an organization role to a wallet.
type RoleGrantJob struct {
	PrincipalID    string    `json:"principal_id"`
	OrganizationID string    `json:"org_id"`
	Role           string    `json:"role"`
	WalletAddress  string    `json:"wallet_address"`
	RequestedAt    time.Time `json:"requested_at"`
}

// FundingIdempotencyKey deduplicates funding requests per address.
func FundingIdempotencyKey(address string) string {
	return "funding:" + address
}

// RoleGrantIdempotencyKey deduplicates role grants per membership.
func RoleGrantIdempotencyKey(principalID, organizationID string) string {
	return fmt.Sprintf("role-grant:%s:%s", principalID, organizationID)
}

// Publisher is the subset of nats.JetStreamContext used for enqueueing.
type Publisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSQueue enqueues funding and role-grant jobs on JetStream.
// The stream deduplicates on the Nats-Msg-Id header within its duplicate window.
type NATSQueue struct {
	js               Publisher
	fundingSubject   string
	roleGrantSubject string
	log              *slog.Logger
}

// NATSConfig configures the JetStream connection and subjects.
type NATSConfig struct {
	URL              string
	CredentialsFile  string
	FundingSubject   string
	RoleGrantSubject string
}

// ConnectNATS connects to NATS with reconnect handling.
func ConnectNATS(cfg NATSConfig, log *slog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("identity-custody"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

func NewNATSQueue(js Publisher, cfg NATSConfig, log *slog.Logger) *NATSQueue {
	return &NATSQueue{
		js:               js,
		fundingSubject:   cfg.FundingSubject,
		roleGrantSubject: cfg.RoleGrantSubject,
		log:              log,
	}
}

func (q *NATSQueue) EnqueueFunding(ctx context.Context, principalID, address string) error {
	return q.publish(ctx, q.fundingSubject, FundingIdempotencyKey(address), FundingRequest{
		PrincipalID: principalID,
		Address:     address,
		RequestedAt: time.Now().UTC(),
	})
}

func (q *NATSQueue) EnqueueRoleGrant(ctx context.Context, membership interfaces.Membership, walletAddress string) error {
	return q.publish(ctx, q.roleGrantSubject, RoleGrantIdempotencyKey(membership.PrincipalID, membership.OrganizationID), RoleGrantJob{
		PrincipalID:    membership.PrincipalID,
		OrganizationID: membership.OrganizationID,
		Role:           membership.Role,
		WalletAddress:  walletAddress,
		RequestedAt:    time.Now().UTC(),
	})
}

func (q *NATSQueue) publish(ctx context.Context, subject, msgID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, msgID)

	ack, err := q.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	q.log.Debug("Job enqueued",
		slog.String("subject", subject),
		slog.String("msgId", msgID),
		slog.Bool("duplicate", ack != nil && ack.Duplicate))
	return nil
}
