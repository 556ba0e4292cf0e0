// Package memory is an in-memory Store implementation. It backs unit tests
// and local development; production uses the postgres implementation.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sgunadhya/oxidesk/internal/domain"
)

// Store keeps every entity in maps guarded by one mutex. Good enough for
// tests; not meant for load.
type Store struct {
	mu sync.Mutex

	users    map[string]*domain.User
	agents   map[string]*domain.Agent
	contacts map[string]*domain.Contact
	channels map[string]*domain.ContactChannel

	inboxes      map[string]*domain.Inbox
	inboxConfigs map[string]*domain.InboxConfig

	refCounter    int64
	conversations map[string]*domain.Conversation
	history       []domain.AssignmentHistory

	messages    map[string]*domain.Message
	attachments map[string]*domain.MessageAttachment

	rules    map[string]*domain.AutomationRule
	ruleLogs []domain.RuleEvaluationLog

	slaPolicies map[string]*domain.SLAPolicy
	appliedSLAs map[string]*domain.AppliedSLA
	slaEvents   map[string]*domain.SLAEvent
	holidays    []domain.Holiday

	webhooks   map[string]*domain.Webhook
	deliveries map[string]*domain.WebhookDelivery

	jobs map[string]*domain.Job

	leases map[string]lease

	notifications map[string]*domain.Notification
	emailLogs     []domain.EmailProcessingLog
	settings      map[string]string

	teams       map[string]*domain.Team
	memberships []domain.TeamMembership
	sessions    map[string]*domain.Session
}

type lease struct {
	owner     string
	expiresAt time.Time
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		users:         make(map[string]*domain.User),
		agents:        make(map[string]*domain.Agent),
		contacts:      make(map[string]*domain.Contact),
		channels:      make(map[string]*domain.ContactChannel),
		inboxes:       make(map[string]*domain.Inbox),
		inboxConfigs:  make(map[string]*domain.InboxConfig),
		conversations: make(map[string]*domain.Conversation),
		messages:      make(map[string]*domain.Message),
		attachments:   make(map[string]*domain.MessageAttachment),
		rules:         make(map[string]*domain.AutomationRule),
		slaPolicies:   make(map[string]*domain.SLAPolicy),
		appliedSLAs:   make(map[string]*domain.AppliedSLA),
		slaEvents:     make(map[string]*domain.SLAEvent),
		webhooks:      make(map[string]*domain.Webhook),
		deliveries:    make(map[string]*domain.WebhookDelivery),
		jobs:          make(map[string]*domain.Job),
		leases:        make(map[string]lease),
		notifications: make(map[string]*domain.Notification),
		settings:      make(map[string]string),
		teams:         make(map[string]*domain.Team),
		sessions:      make(map[string]*domain.Session),
	}
}

// ── users & agents ──────────────────────────────────────────────────────

func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.DeletedAt == nil && existing.Email == u.Email && existing.Type == u.Type {
			return domain.Conflictf("user %s already exists as %s", u.Email, u.Type)
		}
	}
	cp := *u
	s.users[cp.ID] = &cp
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, domain.NotFoundf("user %s not found", id)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string, typ domain.UserType) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = domain.FoldEmail(email)
	for _, u := range s.users {
		if u.DeletedAt == nil && u.Email == email && u.Type == typ {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("user %s (%s) not found", email, typ)
}

func (s *Store) SoftDeleteUser(_ context.Context, id, deletedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return domain.NotFoundf("user %s not found", id)
	}
	now := time.Now()
	u.DeletedAt = &now
	u.DeletedBy = &deletedBy
	for aid, a := range s.agents {
		if a.UserID == id {
			delete(s.agents, aid)
		}
	}
	for cid, c := range s.contacts {
		if c.UserID == id {
			delete(s.contacts, cid)
		}
	}
	return nil
}

func (s *Store) CreateAgent(_ context.Context, a *domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.agents[cp.ID] = &cp
	return nil
}

func (s *Store) GetAgent(_ context.Context, id string) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, domain.NotFoundf("agent %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetAgentByUserID(_ context.Context, userID string) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.UserID == userID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("agent for user %s not found", userID)
}

func (s *Store) ListAgents(_ context.Context) ([]domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *a)
	}
	return out, nil
}

func (s *Store) FindAgentUsersByHandles(_ context.Context, handles []string) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		want[strings.ToLower(h)] = struct{}{}
	}
	var out []domain.User
	for _, u := range s.users {
		if u.DeletedAt != nil || u.Type != domain.UserTypeAgent {
			continue
		}
		local := u.Email
		if i := strings.Index(local, "@"); i >= 0 {
			local = local[:i]
		}
		if _, ok := want[strings.ToLower(local)]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *Store) UpdateAgentAvailability(_ context.Context, agentID string, a domain.Availability, awaySince *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ag, ok := s.agents[agentID]
	if !ok {
		return domain.NotFoundf("agent %s not found", agentID)
	}
	ag.Availability = a
	ag.AwaySince = awaySince
	return nil
}

func (s *Store) UpdateAgentActivity(_ context.Context, agentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ag, ok := s.agents[agentID]
	if !ok {
		return domain.NotFoundf("agent %s not found", agentID)
	}
	ag.LastActivityAt = &at
	return nil
}

func (s *Store) UpdateAgentLogin(_ context.Context, agentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ag, ok := s.agents[agentID]
	if !ok {
		return domain.NotFoundf("agent %s not found", agentID)
	}
	ag.LastLoginAt = &at
	ag.LastActivityAt = &at
	return nil
}

func (s *Store) ListIdleOnlineAgents(_ context.Context, cutoff time.Time) ([]domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Agent
	for _, a := range s.agents {
		if a.Availability == domain.AvailabilityOnline &&
			a.LastActivityAt != nil && a.LastActivityAt.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *Store) ListOverdueAwayAgents(_ context.Context, cutoff time.Time) ([]domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Agent
	for _, a := range s.agents {
		if a.Availability == domain.AvailabilityAway &&
			a.AwaySince != nil && a.AwaySince.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *Store) ResetPasswordAtomic(_ context.Context, userID, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found bool
	for _, a := range s.agents {
		if a.UserID == userID {
			a.PasswordHash = newHash
			found = true
		}
	}
	if !found {
		return domain.NotFoundf("agent for user %s not found", userID)
	}
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}

// ── contacts ────────────────────────────────────────────────────────────

func (s *Store) GetContact(_ context.Context, id string) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, domain.NotFoundf("contact %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) GetContactByUserID(_ context.Context, userID string) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.UserID == userID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("contact for user %s not found", userID)
}

func (s *Store) GetContactByChannel(_ context.Context, inboxID, email string) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = domain.FoldEmail(email)
	for _, ch := range s.channels {
		if ch.InboxID == inboxID && ch.Email == email {
			if c, ok := s.contacts[ch.ContactID]; ok {
				cp := *c
				return &cp, nil
			}
		}
	}
	return nil, domain.NotFoundf("contact for %s in inbox %s not found", email, inboxID)
}

func (s *Store) GetContactChannel(_ context.Context, contactID, inboxID string) (*domain.ContactChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		if ch.ContactID == contactID && ch.InboxID == inboxID {
			cp := *ch
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("channel for contact %s in inbox %s not found", contactID, inboxID)
}

func (s *Store) CreateContactWithChannel(_ context.Context, u *domain.User, c *domain.Contact, ch *domain.ContactChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	uc, cc, chc := *u, *c, *ch
	chc.Email = domain.FoldEmail(chc.Email)
	s.users[uc.ID] = &uc
	s.contacts[cc.ID] = &cc
	s.channels[chc.ID] = &chc
	return nil
}

func (s *Store) CreateContactChannel(_ context.Context, ch *domain.ContactChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ch
	cp.Email = domain.FoldEmail(cp.Email)
	s.channels[cp.ID] = &cp
	return nil
}

// ── inboxes ─────────────────────────────────────────────────────────────

func (s *Store) CreateInbox(_ context.Context, in *domain.Inbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *in
	s.inboxes[cp.ID] = &cp
	return nil
}

func (s *Store) GetInbox(_ context.Context, id string) (*domain.Inbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.inboxes[id]
	if !ok || in.DeletedAt != nil {
		return nil, domain.NotFoundf("inbox %s not found", id)
	}
	cp := *in
	return &cp, nil
}

func (s *Store) ListInboxes(_ context.Context) ([]domain.Inbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Inbox
	for _, in := range s.inboxes {
		if in.DeletedAt == nil {
			out = append(out, *in)
		}
	}
	return out, nil
}

func (s *Store) GetInboxConfig(_ context.Context, inboxID string) (*domain.InboxConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.inboxConfigs[inboxID]
	if !ok {
		return nil, domain.NotFoundf("inbox config %s not found", inboxID)
	}
	cp := *cfg
	return &cp, nil
}

func (s *Store) PutInboxConfig(_ context.Context, cfg *domain.InboxConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.inboxConfigs[cp.InboxID] = &cp
	return nil
}

func (s *Store) ListInboxConfigs(_ context.Context) ([]domain.InboxConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.InboxConfig, 0, len(s.inboxConfigs))
	for _, cfg := range s.inboxConfigs {
		out = append(out, *cfg)
	}
	return out, nil
}

func (s *Store) UpdateInboxCursor(_ context.Context, inboxID string, lastPollAt time.Time, lastUID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.inboxConfigs[inboxID]
	if !ok {
		return domain.NotFoundf("inbox config %s not found", inboxID)
	}
	cfg.LastPollAt = &lastPollAt
	cfg.LastUID = lastUID
	return nil
}
