package memory

import (
	"context"
	"sort"
	"time"

	"github.com/sgunadhya/oxidesk/internal/domain"
)

// ── automation rules ────────────────────────────────────────────────────

func (s *Store) CreateRule(_ context.Context, r *domain.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rules[cp.ID] = &cp
	return nil
}

func (s *Store) GetRule(_ context.Context, id string) (*domain.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, domain.NotFoundf("rule %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) UpdateRule(_ context.Context, r *domain.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return domain.NotFoundf("rule %s not found", r.ID)
	}
	cp := *r
	s.rules[cp.ID] = &cp
	return nil
}

func (s *Store) ListEnabledRulesByEvent(_ context.Context, t domain.EventType) ([]domain.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AutomationRule
	for _, r := range s.rules {
		if !r.Enabled {
			continue
		}
		for _, et := range r.EventSubscription {
			if et == t {
				out = append(out, *r)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (s *Store) AppendRuleEvaluationLog(_ context.Context, l *domain.RuleEvaluationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ruleLogs = append(s.ruleLogs, *l)
	return nil
}

func (s *Store) ListRuleEvaluationLogs(_ context.Context, ruleID string, limit int) ([]domain.RuleEvaluationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RuleEvaluationLog
	for _, l := range s.ruleLogs {
		if ruleID == "" || l.RuleID == ruleID {
			out = append(out, l)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ── SLA ─────────────────────────────────────────────────────────────────

func (s *Store) CreateSLAPolicy(_ context.Context, p *domain.SLAPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.slaPolicies[cp.ID] = &cp
	return nil
}

func (s *Store) GetSLAPolicy(_ context.Context, id string) (*domain.SLAPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.slaPolicies[id]
	if !ok {
		return nil, domain.NotFoundf("sla policy %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) CreateAppliedSLA(_ context.Context, a *domain.AppliedSLA, events []domain.SLAEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.appliedSLAs[cp.ID] = &cp
	for _, e := range events {
		ec := e
		s.slaEvents[ec.ID] = &ec
	}
	return nil
}

func (s *Store) GetActiveAppliedSLA(_ context.Context, conversationID string) (*domain.AppliedSLA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.appliedSLAs {
		if a.ConversationID == conversationID && a.Status == domain.AppliedSLAActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("no active sla for conversation %s", conversationID)
}

func (s *Store) CancelAppliedSLA(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appliedSLAs[id]
	if !ok {
		return domain.NotFoundf("applied sla %s not found", id)
	}
	a.Status = domain.AppliedSLACancelled
	for _, e := range s.slaEvents {
		if e.AppliedSLAID == id && e.Status == domain.SLAPending {
			delete(s.slaEvents, e.ID)
		}
	}
	return nil
}

func (s *Store) CreateSLAEvent(_ context.Context, e *domain.SLAEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.slaEvents[cp.ID] = &cp
	return nil
}

func (s *Store) GetPendingSLAEvent(_ context.Context, appliedSLAID string, typ domain.SLAEventType) (*domain.SLAEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.slaEvents {
		if e.AppliedSLAID == appliedSLAID && e.Type == typ && e.Status == domain.SLAPending {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("no pending %s event for applied sla %s", typ, appliedSLAID)
}

func (s *Store) ListPendingSLAEventsBefore(_ context.Context, now time.Time, limit int) ([]domain.SLAEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SLAEvent
	for _, e := range s.slaEvents {
		if e.Status == domain.SLAPending && e.Deadline.Before(now) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkSLAEventMet(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.slaEvents[id]
	if !ok || e.Status != domain.SLAPending {
		return nil
	}
	e.Status = domain.SLAMet
	e.MetAt = &at
	return nil
}

func (s *Store) UpdateSLAEventDeadline(_ context.Context, id string, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.slaEvents[id]
	if !ok || e.Status != domain.SLAPending {
		return nil
	}
	e.Deadline = deadline
	return nil
}

func (s *Store) MarkSLAEventBreached(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.slaEvents[id]
	if !ok || e.Status != domain.SLAPending {
		return false, nil
	}
	e.Status = domain.SLABreachedEvt
	e.BreachedAt = &at
	return true, nil
}

func (s *Store) GetSLAEvent(_ context.Context, id string) (*domain.SLAEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.slaEvents[id]
	if !ok {
		return nil, domain.NotFoundf("sla event %s not found", id)
	}
	cp := *e
	return &cp, nil
}

func (s *Store) GetAppliedSLA(_ context.Context, id string) (*domain.AppliedSLA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appliedSLAs[id]
	if !ok {
		return nil, domain.NotFoundf("applied sla %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListHolidays(_ context.Context) ([]domain.Holiday, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Holiday(nil), s.holidays...), nil
}

func (s *Store) CreateHoliday(_ context.Context, h *domain.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holidays = append(s.holidays, *h)
	return nil
}

// ── webhooks ────────────────────────────────────────────────────────────

func (s *Store) CreateWebhook(_ context.Context, w *domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.webhooks[cp.ID] = &cp
	return nil
}

func (s *Store) GetWebhook(_ context.Context, id string) (*domain.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok {
		return nil, domain.NotFoundf("webhook %s not found", id)
	}
	cp := *w
	return &cp, nil
}

func (s *Store) ListActiveWebhooksByEvent(_ context.Context, t domain.EventType) ([]domain.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Webhook
	for _, w := range s.webhooks {
		if w.IsActive && w.SubscribesTo(t) {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s *Store) CreateWebhookDelivery(_ context.Context, d *domain.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	cp.Payload = append([]byte(nil), d.Payload...)
	s.deliveries[cp.ID] = &cp
	return nil
}

func (s *Store) GetWebhookDelivery(_ context.Context, id string) (*domain.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, domain.NotFoundf("webhook delivery %s not found", id)
	}
	cp := *d
	cp.Payload = append([]byte(nil), d.Payload...)
	return &cp, nil
}

func (s *Store) UpdateWebhookDelivery(_ context.Context, d *domain.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; !ok {
		return domain.NotFoundf("webhook delivery %s not found", d.ID)
	}
	cp := *d
	cp.Payload = append([]byte(nil), d.Payload...)
	cp.UpdatedAt = time.Now()
	s.deliveries[cp.ID] = &cp
	return nil
}

// ── jobs ────────────────────────────────────────────────────────────────

func (s *Store) EnqueueJob(_ context.Context, j *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.DedupKey != nil {
		for _, existing := range s.jobs {
			if existing.JobType == j.JobType && existing.DedupKey != nil &&
				*existing.DedupKey == *j.DedupKey &&
				(existing.Status == domain.JobPending || existing.Status == domain.JobProcessing) {
				return nil
			}
		}
	}
	cp := *j
	cp.Payload = append([]byte(nil), j.Payload...)
	s.jobs[cp.ID] = &cp
	return nil
}

func (s *Store) FetchNextJob(_ context.Context, now, leaseUntil time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *domain.Job
	for _, j := range s.jobs {
		if j.Status != domain.JobPending || j.RunAt.After(now) {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	next.Status = domain.JobProcessing
	lu := leaseUntil
	next.LockedUntil = &lu
	next.UpdatedAt = time.Now()
	cp := *next
	cp.Payload = append([]byte(nil), next.Payload...)
	return &cp, nil
}

func (s *Store) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.NotFoundf("job %s not found", id)
	}
	cp := *j
	cp.Payload = append([]byte(nil), j.Payload...)
	return &cp, nil
}

func (s *Store) UpdateJob(_ context.Context, j *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return domain.NotFoundf("job %s not found", j.ID)
	}
	cp := *j
	cp.Payload = append([]byte(nil), j.Payload...)
	cp.UpdatedAt = time.Now()
	s.jobs[cp.ID] = &cp
	return nil
}

func (s *Store) RecoverExpiredJobs(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == domain.JobProcessing && j.LockedUntil != nil && j.LockedUntil.Before(now) {
			j.Status = domain.JobPending
			j.LockedUntil = nil
			n++
		}
	}
	return n, nil
}

// ── leases ──────────────────────────────────────────────────────────────

func (s *Store) AcquireLease(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if l, ok := s.leases[key]; ok && l.expiresAt.After(now) && l.owner != owner {
		return false, nil
	}
	s.leases[key] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *Store) ReleaseLease(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[key]; ok && l.owner == owner {
		delete(s.leases, key)
	}
	return nil
}

// ── notifications ───────────────────────────────────────────────────────

func (s *Store) CreateNotification(_ context.Context, n *domain.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.notifications[cp.ID] = &cp
	return nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, unreadOnly bool, limit, offset int) ([]domain.Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Notification
	for _, n := range s.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.IsRead {
			continue
		}
		all = append(all, *n)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return domain.NotFoundf("notification %s not found", id)
	}
	n.IsRead = true
	return nil
}

// ── email logs, settings, teams, sessions ───────────────────────────────

func (s *Store) AppendEmailLog(_ context.Context, l *domain.EmailProcessingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emailLogs = append(s.emailLogs, *l)
	return nil
}

func (s *Store) HasSuccessfulEmailLog(_ context.Context, inboxID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.emailLogs {
		if l.InboxID == inboxID && l.MessageID == messageID && l.Status == domain.EmailProcessed {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListEmailLogs(_ context.Context, inboxID string, limit int) ([]domain.EmailProcessingLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EmailProcessingLog
	for i := len(s.emailLogs) - 1; i >= 0; i-- {
		if s.emailLogs[i].InboxID == inboxID {
			out = append(out, s.emailLogs[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	if !ok {
		return "", domain.NotFoundf("setting %s not found", key)
	}
	return v, nil
}

func (s *Store) PutSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *Store) CreateTeam(_ context.Context, t *domain.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.teams[cp.ID] = &cp
	return nil
}

func (s *Store) GetTeam(_ context.Context, id string) (*domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[id]
	if !ok {
		return nil, domain.NotFoundf("team %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) AddTeamMember(_ context.Context, m *domain.TeamMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = append(s.memberships, *m)
	return nil
}

func (s *Store) ListTeamMembers(_ context.Context, teamID string) ([]domain.TeamMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TeamMembership
	for _, m := range s.memberships {
		if m.TeamID == teamID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) CreateSession(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[cp.ID] = &cp
	return nil
}

func (s *Store) GetSessionByToken(_ context.Context, token string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Token == token {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("session not found")
}

func (s *Store) TouchSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.NotFoundf("session %s not found", id)
	}
	sess.LastAccessedAt = at
	return nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
