package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sgunadhya/oxidesk/internal/domain"
)

// ── automation rules ────────────────────────────────────────────────────

func (s *Store) CreateRule(ctx context.Context, r *domain.AutomationRule) error {
	cond, err := json.Marshal(r.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}
	action, err := json.Marshal(r.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	events := make([]string, len(r.EventSubscription))
	for i, e := range r.EventSubscription {
		events[i] = string(e)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_rules
			(id, name, enabled, rule_type, event_subscription, condition, action, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, r.ID, r.Name, r.Enabled, r.RuleType, pq.Array(events), cond, action, r.Priority)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

func scanRule(row interface{ Scan(...interface{}) error }) (*domain.AutomationRule, error) {
	r := &domain.AutomationRule{}
	var events []string
	var cond, action []byte
	err := row.Scan(&r.ID, &r.Name, &r.Enabled, &r.RuleType, pq.Array(&events),
		&cond, &action, &r.Priority, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		r.EventSubscription = append(r.EventSubscription, domain.EventType(e))
	}
	if err := json.Unmarshal(cond, &r.Condition); err != nil {
		return nil, fmt.Errorf("unmarshal condition: %w", err)
	}
	if err := json.Unmarshal(action, &r.Action); err != nil {
		return nil, fmt.Errorf("unmarshal action: %w", err)
	}
	return r, nil
}

const ruleCols = `id, name, enabled, rule_type, event_subscription, condition, action, priority, created_at, updated_at`

func (s *Store) GetRule(ctx context.Context, id string) (*domain.AutomationRule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx,
		`SELECT `+ruleCols+` FROM automation_rules WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("rule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

func (s *Store) UpdateRule(ctx context.Context, r *domain.AutomationRule) error {
	cond, err := json.Marshal(r.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}
	action, err := json.Marshal(r.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	events := make([]string, len(r.EventSubscription))
	for i, e := range r.EventSubscription {
		events[i] = string(e)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules SET
			name = $2, enabled = $3, rule_type = $4, event_subscription = $5,
			condition = $6, action = $7, priority = $8, updated_at = NOW()
		WHERE id = $1
	`, r.ID, r.Name, r.Enabled, r.RuleType, pq.Array(events), cond, action, r.Priority)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("rule %s not found", r.ID)
	}
	return nil
}

func (s *Store) ListEnabledRulesByEvent(ctx context.Context, t domain.EventType) ([]domain.AutomationRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleCols+` FROM automation_rules
		WHERE enabled = true AND $1 = ANY(event_subscription)
		ORDER BY priority DESC
	`, string(t))
	if err != nil {
		return nil, fmt.Errorf("list rules by event: %w", err)
	}
	defer rows.Close()
	var out []domain.AutomationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) AppendRuleEvaluationLog(ctx context.Context, l *domain.RuleEvaluationLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_evaluation_logs
			(id, rule_id, event_type, conversation_id, matched, condition_result,
			 action_executed, action_result, error_message, evaluation_time_ms,
			 cascade_depth, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, l.ID, l.RuleID, l.EventType, l.ConversationID, l.Matched, l.ConditionResult,
		l.ActionExecuted, l.ActionResult, l.ErrorMessage, l.EvaluationTimeMs,
		l.CascadeDepth, l.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("append rule log: %w", err)
	}
	return nil
}

func (s *Store) ListRuleEvaluationLogs(ctx context.Context, ruleID string, limit int) ([]domain.RuleEvaluationLog, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
		SELECT id, rule_id, event_type, conversation_id, matched, condition_result,
		       action_executed, action_result, error_message, evaluation_time_ms,
		       cascade_depth, evaluated_at
		FROM rule_evaluation_logs`
	args := []interface{}{}
	if ruleID != "" {
		q += ` WHERE rule_id = $1 ORDER BY evaluated_at DESC LIMIT $2`
		args = append(args, ruleID, limit)
	} else {
		q += ` ORDER BY evaluated_at DESC LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list rule logs: %w", err)
	}
	defer rows.Close()
	var out []domain.RuleEvaluationLog
	for rows.Next() {
		var l domain.RuleEvaluationLog
		if err := rows.Scan(&l.ID, &l.RuleID, &l.EventType, &l.ConversationID,
			&l.Matched, &l.ConditionResult, &l.ActionExecuted, &l.ActionResult,
			&l.ErrorMessage, &l.EvaluationTimeMs, &l.CascadeDepth, &l.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("scan rule log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ── SLA ─────────────────────────────────────────────────────────────────

func (s *Store) CreateSLAPolicy(ctx context.Context, p *domain.SLAPolicy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sla_policies (id, name, first_response_time, resolution_time, next_response_time)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.Name, p.FirstResponseTime, p.ResolutionTime, p.NextResponseTime)
	if err != nil {
		return fmt.Errorf("create sla policy: %w", err)
	}
	return nil
}

func (s *Store) GetSLAPolicy(ctx context.Context, id string) (*domain.SLAPolicy, error) {
	p := &domain.SLAPolicy{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, first_response_time, resolution_time, next_response_time
		FROM sla_policies WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.FirstResponseTime, &p.ResolutionTime, &p.NextResponseTime)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("sla policy %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sla policy: %w", err)
	}
	return p, nil
}

func (s *Store) CreateAppliedSLA(ctx context.Context, a *domain.AppliedSLA, events []domain.SLAEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO applied_slas
			(id, conversation_id, policy_id, first_response_deadline, resolution_deadline, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, a.ID, a.ConversationID, a.PolicyID, a.FirstResponseDeadline, a.ResolutionDeadline, a.Status); err != nil {
		return fmt.Errorf("create applied sla: %w", err)
	}
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sla_events (id, applied_sla_id, type, deadline, status)
			VALUES ($1, $2, $3, $4, $5)
		`, e.ID, e.AppliedSLAID, e.Type, e.Deadline, e.Status); err != nil {
			return fmt.Errorf("create sla event: %w", err)
		}
	}
	return tx.Commit()
}

const appliedSLACols = `id, conversation_id, policy_id, first_response_deadline, resolution_deadline, status, created_at`

func scanAppliedSLA(row interface{ Scan(...interface{}) error }) (*domain.AppliedSLA, error) {
	a := &domain.AppliedSLA{}
	err := row.Scan(&a.ID, &a.ConversationID, &a.PolicyID,
		&a.FirstResponseDeadline, &a.ResolutionDeadline, &a.Status, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) GetActiveAppliedSLA(ctx context.Context, conversationID string) (*domain.AppliedSLA, error) {
	a, err := scanAppliedSLA(s.db.QueryRowContext(ctx, `
		SELECT `+appliedSLACols+` FROM applied_slas
		WHERE conversation_id = $1 AND status = 'active'
	`, conversationID))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("no active sla for conversation %s", conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get active applied sla: %w", err)
	}
	return a, nil
}

func (s *Store) GetAppliedSLA(ctx context.Context, id string) (*domain.AppliedSLA, error) {
	a, err := scanAppliedSLA(s.db.QueryRowContext(ctx,
		`SELECT `+appliedSLACols+` FROM applied_slas WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("applied sla %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get applied sla: %w", err)
	}
	return a, nil
}

func (s *Store) CancelAppliedSLA(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE applied_slas SET status = 'cancelled' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("cancel applied sla: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("applied sla %s not found", id)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sla_events WHERE applied_sla_id = $1 AND status = 'pending'`, id); err != nil {
		return fmt.Errorf("cancel pending sla events: %w", err)
	}
	return tx.Commit()
}

func (s *Store) CreateSLAEvent(ctx context.Context, e *domain.SLAEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sla_events (id, applied_sla_id, type, deadline, status)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.AppliedSLAID, e.Type, e.Deadline, e.Status)
	if err != nil {
		return fmt.Errorf("create sla event: %w", err)
	}
	return nil
}

const slaEventCols = `id, applied_sla_id, type, deadline, status, met_at, breached_at`

func scanSLAEvent(row interface{ Scan(...interface{}) error }) (*domain.SLAEvent, error) {
	e := &domain.SLAEvent{}
	err := row.Scan(&e.ID, &e.AppliedSLAID, &e.Type, &e.Deadline, &e.Status, &e.MetAt, &e.BreachedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) GetSLAEvent(ctx context.Context, id string) (*domain.SLAEvent, error) {
	e, err := scanSLAEvent(s.db.QueryRowContext(ctx,
		`SELECT `+slaEventCols+` FROM sla_events WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("sla event %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sla event: %w", err)
	}
	return e, nil
}

func (s *Store) GetPendingSLAEvent(ctx context.Context, appliedSLAID string, typ domain.SLAEventType) (*domain.SLAEvent, error) {
	e, err := scanSLAEvent(s.db.QueryRowContext(ctx, `
		SELECT `+slaEventCols+` FROM sla_events
		WHERE applied_sla_id = $1 AND type = $2 AND status = 'pending'
	`, appliedSLAID, typ))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("no pending %s event for applied sla %s", typ, appliedSLAID)
	}
	if err != nil {
		return nil, fmt.Errorf("get pending sla event: %w", err)
	}
	return e, nil
}

func (s *Store) ListPendingSLAEventsBefore(ctx context.Context, now time.Time, limit int) ([]domain.SLAEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+slaEventCols+` FROM sla_events
		WHERE status = 'pending' AND deadline < $1
		ORDER BY deadline LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending sla events: %w", err)
	}
	defer rows.Close()
	var out []domain.SLAEvent
	for rows.Next() {
		e, err := scanSLAEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sla event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) MarkSLAEventMet(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sla_events SET status = 'met', met_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark sla event met: %w", err)
	}
	return nil
}

func (s *Store) UpdateSLAEventDeadline(ctx context.Context, id string, deadline time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sla_events SET deadline = $2
		WHERE id = $1 AND status = 'pending'
	`, id, deadline)
	if err != nil {
		return fmt.Errorf("update sla event deadline: %w", err)
	}
	return nil
}

func (s *Store) MarkSLAEventBreached(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sla_events SET status = 'breached', breached_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark sla event breached: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ListHolidays(ctx context.Context) ([]domain.Holiday, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, date, recurring FROM holidays ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	defer rows.Close()
	var out []domain.Holiday
	for rows.Next() {
		var h domain.Holiday
		if err := rows.Scan(&h.ID, &h.Name, &h.Date, &h.Recurring); err != nil {
			return nil, fmt.Errorf("scan holiday: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) CreateHoliday(ctx context.Context, h *domain.Holiday) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, name, date, recurring) VALUES ($1, $2, $3, $4)
	`, h.ID, h.Name, h.Date, h.Recurring)
	if err != nil {
		return fmt.Errorf("create holiday: %w", err)
	}
	return nil
}

// ── webhooks ────────────────────────────────────────────────────────────

func (s *Store) CreateWebhook(ctx context.Context, w *domain.Webhook) error {
	events := make([]string, len(w.SubscribedEvents))
	for i, e := range w.SubscribedEvents {
		events[i] = string(e)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, name, url, subscribed_events, secret, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, w.ID, w.Name, w.URL, pq.Array(events), w.Secret, w.IsActive, w.CreatedBy)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

func scanWebhook(row interface{ Scan(...interface{}) error }) (*domain.Webhook, error) {
	w := &domain.Webhook{}
	var events []string
	err := row.Scan(&w.ID, &w.Name, &w.URL, pq.Array(&events), &w.Secret, &w.IsActive, &w.CreatedBy)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		w.SubscribedEvents = append(w.SubscribedEvents, domain.EventType(e))
	}
	return w, nil
}

func (s *Store) GetWebhook(ctx context.Context, id string) (*domain.Webhook, error) {
	w, err := scanWebhook(s.db.QueryRowContext(ctx, `
		SELECT id, name, url, subscribed_events, secret, is_active, created_by
		FROM webhooks WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("webhook %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return w, nil
}

func (s *Store) ListActiveWebhooksByEvent(ctx context.Context, t domain.EventType) ([]domain.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url, subscribed_events, secret, is_active, created_by
		FROM webhooks WHERE is_active = true AND $1 = ANY(subscribed_events)
	`, string(t))
	if err != nil {
		return nil, fmt.Errorf("list webhooks by event: %w", err)
	}
	defer rows.Close()
	var out []domain.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

const deliveryCols = `id, webhook_id, event_type, payload, signature, status,
       http_status, error_message, retry_count, next_retry_at, created_at, updated_at`

func scanDelivery(row interface{ Scan(...interface{}) error }) (*domain.WebhookDelivery, error) {
	d := &domain.WebhookDelivery{}
	err := row.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.Payload, &d.Signature,
		&d.Status, &d.HTTPStatus, &d.ErrorMessage, &d.RetryCount, &d.NextRetryAt,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) CreateWebhookDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries
			(id, webhook_id, event_type, payload, signature, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, d.ID, d.WebhookID, d.EventType, d.Payload, d.Signature, d.Status, d.RetryCount)
	if err != nil {
		return fmt.Errorf("create webhook delivery: %w", err)
	}
	return nil
}

func (s *Store) GetWebhookDelivery(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	d, err := scanDelivery(s.db.QueryRowContext(ctx,
		`SELECT `+deliveryCols+` FROM webhook_deliveries WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("webhook delivery %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook delivery: %w", err)
	}
	return d, nil
}

func (s *Store) UpdateWebhookDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET
			status = $2, http_status = $3, error_message = $4,
			retry_count = $5, next_retry_at = $6, updated_at = NOW()
		WHERE id = $1
	`, d.ID, d.Status, d.HTTPStatus, d.ErrorMessage, d.RetryCount, d.NextRetryAt)
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("webhook delivery %s not found", d.ID)
	}
	return nil
}

// ── jobs ────────────────────────────────────────────────────────────────

const jobCols = `id, job_type, payload, status, dedup_key, run_at, attempts,
       max_attempts, last_error, locked_until, created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*domain.Job, error) {
	j := &domain.Job{}
	err := row.Scan(&j.ID, &j.JobType, &j.Payload, &j.Status, &j.DedupKey,
		&j.RunAt, &j.Attempts, &j.MaxAttempts, &j.LastError, &j.LockedUntil,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) EnqueueJob(ctx context.Context, j *domain.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs
			(id, job_type, payload, status, dedup_key, run_at, attempts, max_attempts, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW()
		WHERE $5::text IS NULL OR NOT EXISTS (
			SELECT 1 FROM jobs
			WHERE job_type = $2 AND dedup_key = $5
			  AND status IN ('pending', 'processing')
		)
	`, j.ID, j.JobType, j.Payload, j.Status, j.DedupKey, j.RunAt, j.Attempts, j.MaxAttempts)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (s *Store) FetchNextJob(ctx context.Context, now, leaseUntil time.Time) (*domain.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = 'processing', locked_until = $2, updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND run_at <= $1
			ORDER BY run_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobCols, now, leaseUntil))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch next job: %w", err)
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobCols+` FROM jobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *Store) UpdateJob(ctx context.Context, j *domain.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = $2, run_at = $3, attempts = $4, last_error = $5,
			locked_until = $6, updated_at = NOW()
		WHERE id = $1
	`, j.ID, j.Status, j.RunAt, j.Attempts, j.LastError, j.LockedUntil)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("job %s not found", j.ID)
	}
	return nil
}

func (s *Store) RecoverExpiredJobs(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', locked_until = NULL, updated_at = NOW()
		WHERE status = 'processing' AND locked_until < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("recover expired jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ── leases ──────────────────────────────────────────────────────────────

func (s *Store) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (key, owner, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 second')
		ON CONFLICT (key) DO UPDATE SET owner = $2, expires_at = NOW() + $3 * INTERVAL '1 second'
		WHERE leases.expires_at < NOW() OR leases.owner = $2
	`, key, owner, int(ttl.Seconds()))
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ReleaseLease(ctx context.Context, key, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE key = $1 AND owner = $2`, key, owner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// ── notifications ───────────────────────────────────────────────────────

func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications
			(id, user_id, type, conversation_id, message_id, actor_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, NOW())
	`, n.ID, n.UserID, n.Type, n.ConversationID, n.MessageID, n.ActorID)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]domain.Notification, int, error) {
	where := `WHERE user_id = $1`
	if unreadOnly {
		where += ` AND is_read = false`
	}
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications `+where, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, conversation_id, message_id, actor_id, is_read, created_at
		FROM notifications `+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.ConversationID,
			&n.MessageID, &n.ActorID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("notification %s not found", id)
	}
	return nil
}

// ── email logs, settings, teams, sessions ───────────────────────────────

func (s *Store) AppendEmailLog(ctx context.Context, l *domain.EmailProcessingLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_processing_logs
			(id, inbox_id, message_id, status, conversation_id, error_message, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.ID, l.InboxID, l.MessageID, l.Status, l.ConversationID, l.ErrorMessage, l.ProcessedAt)
	if err != nil {
		return fmt.Errorf("append email log: %w", err)
	}
	return nil
}

func (s *Store) HasSuccessfulEmailLog(ctx context.Context, inboxID, messageID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM email_processing_logs
			WHERE inbox_id = $1 AND message_id = $2 AND status = 'success'
		)
	`, inboxID, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email log: %w", err)
	}
	return exists, nil
}

func (s *Store) ListEmailLogs(ctx context.Context, inboxID string, limit int) ([]domain.EmailProcessingLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, inbox_id, message_id, status, conversation_id, error_message, processed_at
		FROM email_processing_logs
		WHERE inbox_id = $1 ORDER BY processed_at DESC LIMIT $2
	`, inboxID, limit)
	if err != nil {
		return nil, fmt.Errorf("list email logs: %w", err)
	}
	defer rows.Close()
	var out []domain.EmailProcessingLog
	for rows.Next() {
		var l domain.EmailProcessingLog
		if err := rows.Scan(&l.ID, &l.InboxID, &l.MessageID, &l.Status,
			&l.ConversationID, &l.ErrorMessage, &l.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan email log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = $1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", domain.NotFoundf("setting %s not found", key)
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return v, nil
}

func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = $2
	`, key, value)
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

func (s *Store) CreateTeam(ctx context.Context, t *domain.Team) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (id, name, sla_policy_id) VALUES ($1, $2, $3)
	`, t.ID, t.Name, t.SLAPolicyID)
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	t := &domain.Team{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, sla_policy_id FROM teams WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.SLAPolicyID)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("team %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	return t, nil
}

func (s *Store) AddTeamMember(ctx context.Context, m *domain.TeamMembership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_memberships (team_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (team_id, user_id) DO UPDATE SET role = $3
	`, m.TeamID, m.UserID, m.Role)
	if err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

func (s *Store) ListTeamMembers(ctx context.Context, teamID string) ([]domain.TeamMembership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT team_id, user_id, role FROM team_memberships WHERE team_id = $1`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()
	var out []domain.TeamMembership
	for rows.Next() {
		var m domain.TeamMembership
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Role); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
			(id, user_id, token, csrf_token, auth_method, provider_name, expires_at, created_at, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, sess.ID, sess.UserID, sess.Token, sess.CSRFToken, sess.AuthMethod, sess.ProviderName, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (*domain.Session, error) {
	sess := &domain.Session{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token, csrf_token, auth_method, provider_name,
		       expires_at, created_at, last_accessed_at
		FROM sessions WHERE token = $1
	`, token).Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.CSRFToken,
		&sess.AuthMethod, &sess.ProviderName, &sess.ExpiresAt, &sess.CreatedAt, &sess.LastAccessedAt)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_accessed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFoundf("session %s not found", id)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
