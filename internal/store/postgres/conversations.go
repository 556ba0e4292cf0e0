package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sgunadhya/oxidesk/internal/domain"
)

// ── conversations ───────────────────────────────────────────────────────

func (s *Store) NextReferenceNumber(ctx context.Context) (int64, error) {
	var ref int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT nextval('conversation_reference_seq')`).Scan(&ref); err != nil {
		return 0, fmt.Errorf("next reference number: %w", err)
	}
	return ref, nil
}

const conversationCols = `id, reference_number, status, inbox_id, contact_id, subject,
       resolved_at, closed_at, snoozed_until, assigned_user_id, assigned_team_id,
       assigned_at, assigned_by, priority, tags, last_message_at, last_reply_at,
       version, created_at, updated_at`

func scanConversation(row interface{ Scan(...interface{}) error }) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := row.Scan(&c.ID, &c.ReferenceNumber, &c.Status, &c.InboxID, &c.ContactID,
		&c.Subject, &c.ResolvedAt, &c.ClosedAt, &c.SnoozedUntil,
		&c.AssignedUserID, &c.AssignedTeamID, &c.AssignedAt, &c.AssignedBy,
		&c.Priority, pq.Array(&c.Tags), &c.LastMessageAt, &c.LastReplyAt,
		&c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, reference_number, status, inbox_id, contact_id, subject,
			 assigned_user_id, assigned_team_id, priority, tags, version,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`, c.ID, c.ReferenceNumber, c.Status, c.InboxID, c.ContactID, c.Subject,
		c.AssignedUserID, c.AssignedTeamID, c.Priority, pq.Array(c.Tags), c.Version)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("conversation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *Store) GetConversationByReference(ctx context.Context, inboxID string, ref int64) (*domain.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx, `
		SELECT `+conversationCols+` FROM conversations
		WHERE inbox_id = $1 AND reference_number = $2
	`, inboxID, ref))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("conversation #%d not found in inbox %s", ref, inboxID)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation by reference: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateConversation(ctx context.Context, c *domain.Conversation) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET
			status = $3, subject = $4, resolved_at = $5, closed_at = $6,
			snoozed_until = $7, assigned_user_id = $8, assigned_team_id = $9,
			assigned_at = $10, assigned_by = $11, priority = $12, tags = $13,
			version = version + 1, updated_at = $14
		WHERE id = $1 AND version = $2
	`, c.ID, c.Version, c.Status, c.Subject, c.ResolvedAt, c.ClosedAt,
		c.SnoozedUntil, c.AssignedUserID, c.AssignedTeamID, c.AssignedAt,
		c.AssignedBy, c.Priority, pq.Array(c.Tags), now)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Distinguish a stale version from a missing row.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		if !exists {
			return domain.NotFoundf("conversation %s not found", c.ID)
		}
		return domain.ErrOptimisticConflict
	}
	c.Version++
	c.UpdatedAt = now
	return nil
}

func (s *Store) ReplaceConversationTags(ctx context.Context, id string, version int64, tags []string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET tags = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, id, version, pq.Array(tags))
	if err != nil {
		return fmt.Errorf("replace tags: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("replace tags: %w", err)
		}
		if !exists {
			return domain.NotFoundf("conversation %s not found", id)
		}
		return domain.ErrOptimisticConflict
	}
	return nil
}

func (s *Store) UpdateConversationMessageTimestamps(ctx context.Context, id string, lastMessageAt time.Time, lastReplyAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_at = $2, last_reply_at = COALESCE($3, last_reply_at)
		WHERE id = $1
	`, id, lastMessageAt, lastReplyAt)
	if err != nil {
		return fmt.Errorf("update message timestamps: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("conversation %s not found", id)
	}
	return nil
}

func (s *Store) ListConversationsAssignedToUser(ctx context.Context, userID string, statuses []domain.ConversationStatus) ([]domain.Conversation, error) {
	q := `SELECT ` + conversationCols + ` FROM conversations WHERE assigned_user_id = $1`
	args := []interface{}{userID}
	if len(statuses) > 0 {
		ss := make([]string, len(statuses))
		for i, st := range statuses {
			ss[i] = string(st)
		}
		q += ` AND status = ANY($2)`
		args = append(args, pq.Array(ss))
	}
	q += ` ORDER BY reference_number`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list assigned conversations: %w", err)
	}
	defer rows.Close()
	var out []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) AppendAssignmentHistory(ctx context.Context, h *domain.AssignmentHistory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignment_history
			(id, conversation_id, assignee_user_id, assignee_team_id, assigned_by, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, h.ID, h.ConversationID, h.AssigneeUserID, h.AssigneeTeamID, h.AssignedBy)
	if err != nil {
		return fmt.Errorf("append assignment history: %w", err)
	}
	return nil
}

func (s *Store) ListAssignmentHistory(ctx context.Context, conversationID string) ([]domain.AssignmentHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, assignee_user_id, assignee_team_id, assigned_by, created_at
		FROM assignment_history WHERE conversation_id = $1 ORDER BY created_at
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list assignment history: %w", err)
	}
	defer rows.Close()
	var out []domain.AssignmentHistory
	for rows.Next() {
		var h domain.AssignmentHistory
		if err := rows.Scan(&h.ID, &h.ConversationID, &h.AssigneeUserID,
			&h.AssigneeTeamID, &h.AssignedBy, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ── messages ────────────────────────────────────────────────────────────

const messageCols = `id, conversation_id, direction, status, content, author_id,
       is_immutable, retry_count, source_id, provider_id, inbox_id,
       created_at, sent_at, updated_at`

func scanMessage(row interface{ Scan(...interface{}) error }) (*domain.Message, error) {
	m := &domain.Message{}
	err := row.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Status, &m.Content,
		&m.AuthorID, &m.IsImmutable, &m.RetryCount, &m.SourceID, &m.ProviderID,
		&m.InboxID, &m.CreatedAt, &m.SentAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *domain.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
			(id, conversation_id, direction, status, content, author_id,
			 is_immutable, source_id, provider_id, inbox_id, created_at, sent_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), $11, NOW())
	`, m.ID, m.ConversationID, m.Direction, m.Status, m.Content, m.AuthorID,
		m.IsImmutable, m.SourceID, m.ProviderID, m.InboxID, m.SentAt)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *Store) CreateMessageWithAttachments(ctx context.Context, m *domain.Message, atts []domain.MessageAttachment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages
			(id, conversation_id, direction, status, content, author_id,
			 is_immutable, source_id, provider_id, inbox_id, created_at, sent_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), $11, NOW())
	`, m.ID, m.ConversationID, m.Direction, m.Status, m.Content, m.AuthorID,
		m.IsImmutable, m.SourceID, m.ProviderID, m.InboxID, m.SentAt); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	for _, a := range atts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_attachments
				(id, message_id, filename, content_type, file_size, file_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, a.ID, a.MessageID, a.Filename, a.ContentType, a.FileSize, a.FileKey); err != nil {
			return fmt.Errorf("create attachment: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("message %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *Store) GetMessageBySourceID(ctx context.Context, inboxID, sourceID string) (*domain.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `
		SELECT `+messageCols+` FROM messages WHERE inbox_id = $1 AND source_id = $2
	`, inboxID, sourceID))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("message %s not found in inbox %s", sourceID, inboxID)
	}
	if err != nil {
		return nil, fmt.Errorf("get message by source id: %w", err)
	}
	return m, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domain.Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageCols+` FROM messages
		WHERE conversation_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, total, rows.Err()
}

func (s *Store) UpdateMessageStatus(ctx context.Context, id string, status domain.MessageStatus, sentAt *time.Time, providerID *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			status = $2,
			sent_at = COALESCE($3, sent_at),
			provider_id = COALESCE($4, provider_id),
			is_immutable = ($2 IN ('received', 'sent')),
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('received', 'sent')
	`, id, status, sentAt, providerID)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var cur domain.MessageStatus
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM messages WHERE id = $1`, id).Scan(&cur)
		if err == sql.ErrNoRows {
			return domain.NotFoundf("message %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("update message status: %w", err)
		}
		return domain.NewError(domain.KindImmutability, "message %s is immutable in status %s", id, cur)
	}
	return nil
}

func (s *Store) IncrementMessageRetry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET retry_count = retry_count + 1, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment message retry: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("message %s not found", id)
	}
	return nil
}

func (s *Store) ListMessageAttachments(ctx context.Context, messageID string) ([]domain.MessageAttachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, filename, content_type, file_size, file_key, created_at
		FROM message_attachments WHERE message_id = $1 ORDER BY created_at
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()
	var out []domain.MessageAttachment
	for rows.Next() {
		var a domain.MessageAttachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.ContentType,
			&a.FileSize, &a.FileKey, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) GetAttachmentByID(ctx context.Context, id string) (*domain.MessageAttachment, error) {
	a := &domain.MessageAttachment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, filename, content_type, file_size, file_key, created_at
		FROM message_attachments WHERE id = $1
	`, id).Scan(&a.ID, &a.MessageID, &a.Filename, &a.ContentType, &a.FileSize, &a.FileKey, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("attachment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}

func (s *Store) DeleteAttachment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM message_attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("attachment %s not found", id)
	}
	return nil
}
