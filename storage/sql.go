package storage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/ruteri/identity-custody-backend/interfaces"
	_ "modernc.org/sqlite"
)

// Driver names registered by the imported database/sql drivers.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Binary columns are stored as base64 TEXT and timestamps as unix milliseconds so that
// the same statements run unchanged on PostgreSQL and SQLite.
const schema = `
CREATE TABLE IF NOT EXISTS principals (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS wallets (
	principal_id TEXT PRIMARY KEY REFERENCES principals(id),
	address TEXT NOT NULL,
	compressed_public_key TEXT NOT NULL,
	encrypted_seed TEXT NOT NULL,
	wrapped_dek TEXT NOT NULL,
	root_key_id TEXT NOT NULL,
	strategy TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS p2p_identities (
	principal_id TEXT PRIMARY KEY REFERENCES principals(id),
	public_key TEXT NOT NULL,
	peer_id TEXT NOT NULL,
	encrypted_private_key TEXT NOT NULL,
	salt TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL REFERENCES principals(id),
	token_hash TEXT NOT NULL UNIQUE,
	revoked BOOLEAN NOT NULL,
	expires_at BIGINT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS blocked_tokens (
	token_id TEXT PRIMARY KEY,
	expires_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS invitations (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	email TEXT NOT NULL,
	role TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS memberships (
	principal_id TEXT NOT NULL REFERENCES principals(id),
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	role TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	PRIMARY KEY (principal_id, organization_id)
);
`

// SQLStore implements interfaces.Store over database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
	log    *slog.Logger
}

// NewSQLStore opens the database and applies the schema.
// For an in-memory SQLite database the pool is limited to one connection,
// otherwise every connection would see its own empty database.
func NewSQLStore(ctx context.Context, driver, dsn string, log *slog.Logger) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite && (strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")) {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info("Database ready", "driver", driver)
	return &SQLStore{db: db, driver: driver, log: log}, nil
}

// sqliteDSN adds the pragmas every pooled SQLite connection runs on open.
func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + sqlitePragmas
}

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func encodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodeBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("corrupt binary column: %w", err)
	}
	return b, nil
}

// insertUnique runs an INSERT ... ON CONFLICT DO NOTHING and maps "no row inserted" to ErrConflict.
func insertUnique(ctx context.Context, exec interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, query string, args ...any) error {
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrConflict
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	return err
}

// Principals

func (s *SQLStore) CreatePrincipal(ctx context.Context, p *interfaces.Principal) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	err := insertUnique(ctx, s.db, `
		INSERT INTO principals (id, subject, email, name, avatar_url, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`,
		p.ID, p.Subject, p.Email, p.Name, p.AvatarURL, string(p.State), toMillis(p.CreatedAt))
	if err != nil && !errors.Is(err, interfaces.ErrConflict) {
		return fmt.Errorf("failed to insert principal: %w", err)
	}
	return err
}

const principalColumns = `id, subject, email, name, avatar_url, state, created_at`

func scanPrincipal(row *sql.Row) (*interfaces.Principal, error) {
	var (
		p       interfaces.Principal
		state   string
		created int64
	)
	if err := row.Scan(&p.ID, &p.Subject, &p.Email, &p.Name, &p.AvatarURL, &state, &created); err != nil {
		return nil, notFound(err)
	}
	p.State = interfaces.ActivationState(state)
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

func (s *SQLStore) GetPrincipal(ctx context.Context, id string) (*interfaces.Principal, error) {
	return scanPrincipal(s.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = $1`, id))
}

func (s *SQLStore) GetPrincipalBySubject(ctx context.Context, subject string) (*interfaces.Principal, error) {
	return scanPrincipal(s.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE subject = $1`, subject))
}

func (s *SQLStore) SetPrincipalState(ctx context.Context, id string, state interfaces.ActivationState) error {
	res, err := s.db.ExecContext(ctx, `UPDATE principals SET state = $1 WHERE id = $2`, string(state), id)
	if err != nil {
		return fmt.Errorf("failed to update principal state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// Wallets

func (s *SQLStore) InsertWallet(ctx context.Context, rec *interfaces.WalletRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	err := insertUnique(ctx, s.db, `
		INSERT INTO wallets (principal_id, address, compressed_public_key, encrypted_seed, wrapped_dek, root_key_id, strategy, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		rec.PrincipalID,
		rec.Address,
		encodeBytes(rec.CompressedPublicKey),
		encodeBytes(rec.EncryptedSeed),
		encodeBytes(rec.WrappedDEK.Ciphertext),
		rec.WrappedDEK.RootKeyID,
		rec.WrappedDEK.Strategy,
		toMillis(rec.CreatedAt))
	if err != nil && !errors.Is(err, interfaces.ErrConflict) {
		return fmt.Errorf("failed to insert wallet: %w", err)
	}
	return err
}

func (s *SQLStore) GetWallet(ctx context.Context, principalID string) (*interfaces.WalletRecord, error) {
	var (
		rec                   interfaces.WalletRecord
		pubKey, seed, wrapped string
		created               int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT principal_id, address, compressed_public_key, encrypted_seed, wrapped_dek, root_key_id, strategy, created_at
		FROM wallets WHERE principal_id = $1`, principalID).
		Scan(&rec.PrincipalID, &rec.Address, &pubKey, &seed, &wrapped, &rec.WrappedDEK.RootKeyID, &rec.WrappedDEK.Strategy, &created)
	if err != nil {
		return nil, notFound(err)
	}

	if rec.CompressedPublicKey, err = decodeBytes(pubKey); err != nil {
		return nil, err
	}
	if rec.EncryptedSeed, err = decodeBytes(seed); err != nil {
		return nil, err
	}
	if rec.WrappedDEK.Ciphertext, err = decodeBytes(wrapped); err != nil {
		return nil, err
	}
	rec.CreatedAt = fromMillis(created)
	return &rec, nil
}

// P2P identities

func (s *SQLStore) InsertP2PIdentity(ctx context.Context, rec *interfaces.P2PIdentityRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	err := insertUnique(ctx, s.db, `
		INSERT INTO p2p_identities (principal_id, public_key, peer_id, encrypted_private_key, salt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		rec.PrincipalID,
		encodeBytes(rec.PublicKey),
		rec.PeerID,
		encodeBytes(rec.EncryptedPrivateKey),
		encodeBytes(rec.Salt),
		toMillis(rec.CreatedAt))
	if err != nil && !errors.Is(err, interfaces.ErrConflict) {
		return fmt.Errorf("failed to insert p2p identity: %w", err)
	}
	return err
}

func (s *SQLStore) GetP2PIdentity(ctx context.Context, principalID string) (*interfaces.P2PIdentityRecord, error) {
	var (
		rec                  interfaces.P2PIdentityRecord
		pubKey, encKey, salt string
		created              int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT principal_id, public_key, peer_id, encrypted_private_key, salt, created_at
		FROM p2p_identities WHERE principal_id = $1`, principalID).
		Scan(&rec.PrincipalID, &pubKey, &rec.PeerID, &encKey, &salt, &created)
	if err != nil {
		return nil, notFound(err)
	}

	if rec.PublicKey, err = decodeBytes(pubKey); err != nil {
		return nil, err
	}
	if rec.EncryptedPrivateKey, err = decodeBytes(encKey); err != nil {
		return nil, err
	}
	if rec.Salt, err = decodeBytes(salt); err != nil {
		return nil, err
	}
	rec.CreatedAt = fromMillis(created)
	return &rec, nil
}

// Sessions

func (s *SQLStore) InsertSession(ctx context.Context, st *interfaces.SessionToken) error {
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	err := insertUnique(ctx, s.db, `
		INSERT INTO sessions (id, principal_id, token_hash, revoked, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		st.ID, st.PrincipalID, st.TokenHash, st.Revoked, toMillis(st.ExpiresAt), toMillis(st.CreatedAt))
	if err != nil && !errors.Is(err, interfaces.ErrConflict) {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return err
}

func (s *SQLStore) GetSessionByHash(ctx context.Context, tokenHash string) (*interfaces.SessionToken, error) {
	var (
		st               interfaces.SessionToken
		expires, created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, principal_id, token_hash, revoked, expires_at, created_at
		FROM sessions WHERE token_hash = $1`, tokenHash).
		Scan(&st.ID, &st.PrincipalID, &st.TokenHash, &st.Revoked, &expires, &created)
	if err != nil {
		return nil, notFound(err)
	}
	st.ExpiresAt = fromMillis(expires)
	st.CreatedAt = fromMillis(created)
	return &st, nil
}

func (s *SQLStore) RevokeSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = $1 WHERE id = $2 AND revoked = $3`, true, id, false)
	if err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) BlockToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocked_tokens (token_id, expires_at) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, tokenID, toMillis(expiresAt))
	if err != nil {
		return fmt.Errorf("failed to block token: %w", err)
	}
	return nil
}

func (s *SQLStore) IsTokenBlocked(ctx context.Context, tokenID string) (time.Time, error) {
	var expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM blocked_tokens WHERE token_id = $1`, tokenID).Scan(&expires)
	if err != nil {
		return time.Time{}, notFound(err)
	}
	return fromMillis(expires), nil
}

// PurgeExpired deletes blocked tokens and sessions that expired before now.
func (s *SQLStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM blocked_tokens WHERE expires_at < $1`,
		`DELETE FROM sessions WHERE expires_at < $1`,
	} {
		res, err := s.db.ExecContext(ctx, q, toMillis(now))
		if err != nil {
			return total, fmt.Errorf("failed to purge expired rows: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Organizations

func (s *SQLStore) CreateOrganization(ctx context.Context, org *interfaces.Organization) error {
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now()
	}
	err := insertUnique(ctx, s.db, `
		INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, org.ID, org.Name, toMillis(org.CreatedAt))
	if err != nil && !errors.Is(err, interfaces.ErrConflict) {
		return fmt.Errorf("failed to insert organization: %w", err)
	}
	return err
}

func (s *SQLStore) CreateInvitation(ctx context.Context, inv *interfaces.Invitation) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	if inv.Status == "" {
		inv.Status = interfaces.InvitationPending
	}
	err := insertUnique(ctx, s.db, `
		INSERT INTO invitations (id, organization_id, email, role, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		inv.ID, inv.OrganizationID, inv.Email, inv.Role, string(inv.Status), toMillis(inv.CreatedAt))
	if err != nil && !errors.Is(err, interfaces.ErrConflict) {
		return fmt.Errorf("failed to insert invitation: %w", err)
	}
	return err
}

// AcceptInvitation adds the membership and marks the invitation accepted atomically.
// Returns ErrNotFound for an unknown invitation, ErrConflict when it was already used
// and ErrUnauthorized when it was issued to another email address.
func (s *SQLStore) AcceptInvitation(ctx context.Context, invitationID string, principal *interfaces.Principal) (*interfaces.Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		inv    interfaces.Invitation
		status string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, organization_id, email, role, status FROM invitations WHERE id = $1`, invitationID).
		Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &status)
	if err != nil {
		return nil, notFound(err)
	}
	if interfaces.InvitationStatus(status) != interfaces.InvitationPending {
		return nil, interfaces.ErrConflict
	}
	if inv.Email != "" && !strings.EqualFold(inv.Email, principal.Email) {
		return nil, interfaces.ErrUnauthorized
	}

	membership := &interfaces.Membership{
		PrincipalID:    principal.ID,
		OrganizationID: inv.OrganizationID,
		Role:           inv.Role,
		CreatedAt:      time.Now(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memberships (principal_id, organization_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
		membership.PrincipalID, membership.OrganizationID, membership.Role, toMillis(membership.CreatedAt)); err != nil {
		return nil, fmt.Errorf("failed to insert membership: %w", err)
	}

	if err := markInvitationAccepted(ctx, tx, invitationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation acceptance: %w", err)
	}
	return membership, nil
}

// markInvitationAccepted flips a pending invitation to accepted; a concurrent acceptance yields ErrConflict.
func markInvitationAccepted(ctx context.Context, tx *sql.Tx, invitationID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE invitations SET status = $1 WHERE id = $2 AND status = $3`,
		string(interfaces.InvitationAccepted), invitationID, string(interfaces.InvitationPending))
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrConflict
	}
	return nil
}

func (s *SQLStore) GetMembership(ctx context.Context, principalID string) (*interfaces.Membership, error) {
	var (
		m       interfaces.Membership
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT principal_id, organization_id, role, created_at
		FROM memberships WHERE principal_id = $1
		ORDER BY created_at ASC LIMIT 1`, principalID).
		Scan(&m.PrincipalID, &m.OrganizationID, &m.Role, &created)
	if err != nil {
		return nil, notFound(err)
	}
	m.CreatedAt = fromMillis(created)
	return &m, nil
}
