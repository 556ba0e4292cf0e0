// Package postgres implements the store.Store port against PostgreSQL.
// Plain database/sql with lib/pq; no ORM. Multi-entity operations run in
// explicit transactions.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/sgunadhya/oxidesk/internal/domain"
)

// Store is the Postgres-backed persistence layer.
type Store struct{ db *sql.DB }

// New wraps an open database handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Open connects and verifies the database is reachable.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// ── users & agents ──────────────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, type, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
	`, u.ID, u.Email, u.Type)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return domain.Conflictf("user %s already exists as %s", u.Email, u.Type)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u := &domain.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, type, created_at, updated_at, deleted_at, deleted_by
		FROM users WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(&u.ID, &u.Email, &u.Type, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt, &u.DeletedBy)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("user %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string, typ domain.UserType) (*domain.User, error) {
	u := &domain.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, type, created_at, updated_at, deleted_at, deleted_by
		FROM users WHERE email = $1 AND type = $2 AND deleted_at IS NULL
	`, domain.FoldEmail(email), typ).Scan(&u.ID, &u.Email, &u.Type, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt, &u.DeletedBy)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("user %s (%s) not found", email, typ)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *Store) SoftDeleteUser(ctx context.Context, id, deletedBy string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE users SET deleted_at = NOW(), deleted_by = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, deletedBy)
	if err != nil {
		return fmt.Errorf("soft delete user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("user %s not found", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("delete agent rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("delete contact rows: %w", err)
	}
	return tx.Commit()
}

func (s *Store) CreateAgent(ctx context.Context, a *domain.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, user_id, first_name, last_name, password_hash, availability, api_key, api_secret_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.UserID, a.FirstName, a.LastName, a.PasswordHash, a.Availability, a.APIKey, a.APISecretHash)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

const agentCols = `id, user_id, first_name, last_name, password_hash, availability,
       last_login_at, last_activity_at, away_since, api_key, api_secret_hash`

func scanAgent(row interface{ Scan(...interface{}) error }) (*domain.Agent, error) {
	a := &domain.Agent{}
	err := row.Scan(&a.ID, &a.UserID, &a.FirstName, &a.LastName, &a.PasswordHash,
		&a.Availability, &a.LastLoginAt, &a.LastActivityAt, &a.AwaySince,
		&a.APIKey, &a.APISecretHash)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentCols+` FROM agents WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("agent %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Store) GetAgentByUserID(ctx context.Context, userID string) (*domain.Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentCols+` FROM agents WHERE user_id = $1`, userID))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("agent for user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent by user: %w", err)
	}
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentCols+` FROM agents ORDER BY first_name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	var out []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) FindAgentUsersByHandles(ctx context.Context, handles []string) ([]domain.User, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	lowered := make([]string, len(handles))
	for i, h := range handles {
		lowered[i] = strings.ToLower(h)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, type, created_at, updated_at, deleted_at, deleted_by
		FROM users
		WHERE type = 'agent' AND deleted_at IS NULL
		  AND lower(split_part(email, '@', 1)) = ANY($1)
	`, pq.Array(lowered))
	if err != nil {
		return nil, fmt.Errorf("find agents by handles: %w", err)
	}
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Type, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt, &u.DeletedBy); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAgentAvailability(ctx context.Context, agentID string, a domain.Availability, awaySince *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET availability = $2, away_since = $3 WHERE id = $1
	`, agentID, a, awaySince)
	if err != nil {
		return fmt.Errorf("update availability: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("agent %s not found", agentID)
	}
	return nil
}

func (s *Store) UpdateAgentActivity(ctx context.Context, agentID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_activity_at = $2 WHERE id = $1`, agentID, at)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("agent %s not found", agentID)
	}
	return nil
}

func (s *Store) UpdateAgentLogin(ctx context.Context, agentID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_login_at = $2, last_activity_at = $2 WHERE id = $1`, agentID, at)
	if err != nil {
		return fmt.Errorf("update login: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("agent %s not found", agentID)
	}
	return nil
}

func (s *Store) ListIdleOnlineAgents(ctx context.Context, cutoff time.Time) ([]domain.Agent, error) {
	return s.listAgentsWhere(ctx, `
		SELECT `+agentCols+` FROM agents
		WHERE availability = 'online' AND last_activity_at < $1
	`, cutoff)
}

func (s *Store) ListOverdueAwayAgents(ctx context.Context, cutoff time.Time) ([]domain.Agent, error) {
	return s.listAgentsWhere(ctx, `
		SELECT `+agentCols+` FROM agents
		WHERE availability = 'away' AND away_since < $1
	`, cutoff)
}

func (s *Store) listAgentsWhere(ctx context.Context, q string, args ...interface{}) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	var out []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) ResetPasswordAtomic(ctx context.Context, userID, newHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE agents SET password_hash = $2 WHERE user_id = $1`, userID, newHash)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("agent for user %s not found", userID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return tx.Commit()
}

// ── contacts ────────────────────────────────────────────────────────────

func (s *Store) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	c := &domain.Contact{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, first_name FROM contacts WHERE id = $1`, id).
		Scan(&c.ID, &c.UserID, &c.FirstName)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("contact %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func (s *Store) GetContactByUserID(ctx context.Context, userID string) (*domain.Contact, error) {
	c := &domain.Contact{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, first_name FROM contacts WHERE user_id = $1`, userID).
		Scan(&c.ID, &c.UserID, &c.FirstName)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("contact for user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact by user: %w", err)
	}
	return c, nil
}

func (s *Store) GetContactByChannel(ctx context.Context, inboxID, email string) (*domain.Contact, error) {
	c := &domain.Contact{}
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.user_id, c.first_name
		FROM contacts c
		JOIN contact_channels ch ON ch.contact_id = c.id
		WHERE ch.inbox_id = $1 AND ch.email = $2
	`, inboxID, domain.FoldEmail(email)).Scan(&c.ID, &c.UserID, &c.FirstName)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("contact for %s in inbox %s not found", email, inboxID)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact by channel: %w", err)
	}
	return c, nil
}

func (s *Store) GetContactChannel(ctx context.Context, contactID, inboxID string) (*domain.ContactChannel, error) {
	ch := &domain.ContactChannel{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, contact_id, inbox_id, email FROM contact_channels
		WHERE contact_id = $1 AND inbox_id = $2
	`, contactID, inboxID).Scan(&ch.ID, &ch.ContactID, &ch.InboxID, &ch.Email)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("channel for contact %s in inbox %s not found", contactID, inboxID)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact channel: %w", err)
	}
	return ch, nil
}

func (s *Store) CreateContactWithChannel(ctx context.Context, u *domain.User, c *domain.Contact, ch *domain.ContactChannel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, type, created_at, updated_at)
		VALUES ($1, $2, 'contact', NOW(), NOW())
	`, u.ID, u.Email); err != nil {
		return fmt.Errorf("create contact user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO contacts (id, user_id, first_name) VALUES ($1, $2, $3)
	`, c.ID, c.UserID, c.FirstName); err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO contact_channels (id, contact_id, inbox_id, email)
		VALUES ($1, $2, $3, $4)
	`, ch.ID, ch.ContactID, ch.InboxID, domain.FoldEmail(ch.Email)); err != nil {
		return fmt.Errorf("create contact channel: %w", err)
	}
	return tx.Commit()
}

func (s *Store) CreateContactChannel(ctx context.Context, ch *domain.ContactChannel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contact_channels (id, contact_id, inbox_id, email)
		VALUES ($1, $2, $3, $4)
	`, ch.ID, ch.ContactID, ch.InboxID, domain.FoldEmail(ch.Email))
	if err != nil {
		return fmt.Errorf("create contact channel: %w", err)
	}
	return nil
}

// ── inboxes ─────────────────────────────────────────────────────────────

func (s *Store) CreateInbox(ctx context.Context, in *domain.Inbox) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inboxes (id, name, channel_type) VALUES ($1, $2, $3)
	`, in.ID, in.Name, in.ChannelType)
	if err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	return nil
}

func (s *Store) GetInbox(ctx context.Context, id string) (*domain.Inbox, error) {
	in := &domain.Inbox{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, channel_type, deleted_at, deleted_by
		FROM inboxes WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(&in.ID, &in.Name, &in.ChannelType, &in.DeletedAt, &in.DeletedBy)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("inbox %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get inbox: %w", err)
	}
	return in, nil
}

func (s *Store) ListInboxes(ctx context.Context) ([]domain.Inbox, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, channel_type, deleted_at, deleted_by
		FROM inboxes WHERE deleted_at IS NULL ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list inboxes: %w", err)
	}
	defer rows.Close()
	var out []domain.Inbox
	for rows.Next() {
		var in domain.Inbox
		if err := rows.Scan(&in.ID, &in.Name, &in.ChannelType, &in.DeletedAt, &in.DeletedBy); err != nil {
			return nil, fmt.Errorf("scan inbox: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

const inboxConfigCols = `inbox_id, imap_host, imap_port, imap_username, imap_password_enc,
       imap_use_tls, folder, poll_interval_seconds, smtp_host, smtp_port,
       smtp_username, smtp_password_enc, from_name, from_address, last_poll_at, last_uid`

func scanInboxConfig(row interface{ Scan(...interface{}) error }) (*domain.InboxConfig, error) {
	cfg := &domain.InboxConfig{}
	err := row.Scan(&cfg.InboxID, &cfg.IMAPHost, &cfg.IMAPPort, &cfg.IMAPUsername,
		&cfg.IMAPPasswordEnc, &cfg.IMAPUseTLS, &cfg.Folder, &cfg.PollIntervalSeconds,
		&cfg.SMTPHost, &cfg.SMTPPort, &cfg.SMTPUsername, &cfg.SMTPPasswordEnc,
		&cfg.FromName, &cfg.FromAddress, &cfg.LastPollAt, &cfg.LastUID)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *Store) GetInboxConfig(ctx context.Context, inboxID string) (*domain.InboxConfig, error) {
	cfg, err := scanInboxConfig(s.db.QueryRowContext(ctx,
		`SELECT `+inboxConfigCols+` FROM inbox_configs WHERE inbox_id = $1`, inboxID))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("inbox config %s not found", inboxID)
	}
	if err != nil {
		return nil, fmt.Errorf("get inbox config: %w", err)
	}
	return cfg, nil
}

func (s *Store) PutInboxConfig(ctx context.Context, cfg *domain.InboxConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_configs (`+inboxConfigCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (inbox_id) DO UPDATE SET
			imap_host = $2, imap_port = $3, imap_username = $4, imap_password_enc = $5,
			imap_use_tls = $6, folder = $7, poll_interval_seconds = $8,
			smtp_host = $9, smtp_port = $10, smtp_username = $11, smtp_password_enc = $12,
			from_name = $13, from_address = $14
	`, cfg.InboxID, cfg.IMAPHost, cfg.IMAPPort, cfg.IMAPUsername, cfg.IMAPPasswordEnc,
		cfg.IMAPUseTLS, cfg.Folder, cfg.PollIntervalSeconds, cfg.SMTPHost, cfg.SMTPPort,
		cfg.SMTPUsername, cfg.SMTPPasswordEnc, cfg.FromName, cfg.FromAddress,
		cfg.LastPollAt, cfg.LastUID)
	if err != nil {
		return fmt.Errorf("put inbox config: %w", err)
	}
	return nil
}

func (s *Store) ListInboxConfigs(ctx context.Context) ([]domain.InboxConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+inboxConfigCols+` FROM inbox_configs`)
	if err != nil {
		return nil, fmt.Errorf("list inbox configs: %w", err)
	}
	defer rows.Close()
	var out []domain.InboxConfig
	for rows.Next() {
		cfg, err := scanInboxConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inbox config: %w", err)
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

func (s *Store) UpdateInboxCursor(ctx context.Context, inboxID string, lastPollAt time.Time, lastUID uint32) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inbox_configs SET last_poll_at = $2, last_uid = $3 WHERE inbox_id = $1
	`, inboxID, lastPollAt, lastUID)
	if err != nil {
		return fmt.Errorf("update inbox cursor: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("inbox config %s not found", inboxID)
	}
	return nil
}
