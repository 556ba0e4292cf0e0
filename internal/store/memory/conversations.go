package memory

import (
	"context"
	"sort"
	"time"

	"github.com/sgunadhya/oxidesk/internal/domain"
)

// ── conversations ───────────────────────────────────────────────────────

func (s *Store) NextReferenceNumber(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refCounter == 0 {
		s.refCounter = domain.FirstReferenceNumber
	} else {
		s.refCounter++
	}
	return s.refCounter, nil
}

func (s *Store) CreateConversation(_ context.Context, c *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.Tags = append([]string(nil), c.Tags...)
	s.conversations[cp.ID] = &cp
	return nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, domain.NotFoundf("conversation %s not found", id)
	}
	return cloneConversation(c), nil
}

func (s *Store) GetConversationByReference(_ context.Context, inboxID string, ref int64) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.InboxID == inboxID && c.ReferenceNumber == ref {
			return cloneConversation(c), nil
		}
	}
	return nil, domain.NotFoundf("conversation #%d not found in inbox %s", ref, inboxID)
}

func (s *Store) UpdateConversation(_ context.Context, c *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.conversations[c.ID]
	if !ok {
		return domain.NotFoundf("conversation %s not found", c.ID)
	}
	if cur.Version != c.Version {
		return domain.ErrOptimisticConflict
	}
	cp := *c
	cp.Tags = append([]string(nil), c.Tags...)
	cp.Version++
	cp.UpdatedAt = time.Now()
	s.conversations[cp.ID] = &cp
	c.Version = cp.Version
	c.UpdatedAt = cp.UpdatedAt
	return nil
}

func (s *Store) ReplaceConversationTags(_ context.Context, id string, version int64, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.conversations[id]
	if !ok {
		return domain.NotFoundf("conversation %s not found", id)
	}
	if cur.Version != version {
		return domain.ErrOptimisticConflict
	}
	cur.Tags = append([]string(nil), tags...)
	cur.Version++
	cur.UpdatedAt = time.Now()
	return nil
}

func (s *Store) UpdateConversationMessageTimestamps(_ context.Context, id string, lastMessageAt time.Time, lastReplyAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.conversations[id]
	if !ok {
		return domain.NotFoundf("conversation %s not found", id)
	}
	cur.LastMessageAt = &lastMessageAt
	if lastReplyAt != nil {
		cur.LastReplyAt = lastReplyAt
	}
	return nil
}

func (s *Store) ListConversationsAssignedToUser(_ context.Context, userID string, statuses []domain.ConversationStatus) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed := make(map[domain.ConversationStatus]struct{}, len(statuses))
	for _, st := range statuses {
		allowed[st] = struct{}{}
	}
	var out []domain.Conversation
	for _, c := range s.conversations {
		if c.AssignedUserID == nil || *c.AssignedUserID != userID {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[c.Status]; !ok {
				continue
			}
		}
		out = append(out, *cloneConversation(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReferenceNumber < out[j].ReferenceNumber })
	return out, nil
}

func (s *Store) AppendAssignmentHistory(_ context.Context, h *domain.AssignmentHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *h)
	return nil
}

func (s *Store) ListAssignmentHistory(_ context.Context, conversationID string) ([]domain.AssignmentHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AssignmentHistory
	for _, h := range s.history {
		if h.ConversationID == conversationID {
			out = append(out, h)
		}
	}
	return out, nil
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	cp.Tags = append([]string(nil), c.Tags...)
	return &cp
}

// ── messages ────────────────────────────────────────────────────────────

func (s *Store) CreateMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[cp.ID] = &cp
	return nil
}

func (s *Store) CreateMessageWithAttachments(_ context.Context, m *domain.Message, atts []domain.MessageAttachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[cp.ID] = &cp
	for _, a := range atts {
		ac := a
		s.attachments[ac.ID] = &ac
	}
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, domain.NotFoundf("message %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (s *Store) GetMessageBySourceID(_ context.Context, inboxID, sourceID string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.InboxID == inboxID && m.SourceID != nil && *m.SourceID == sourceID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("message %s not found in inbox %s", sourceID, inboxID)
}

func (s *Store) ListMessages(_ context.Context, conversationID string, limit, offset int) ([]domain.Message, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			all = append(all, *m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
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

func (s *Store) UpdateMessageStatus(_ context.Context, id string, status domain.MessageStatus, sentAt *time.Time, providerID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return domain.NotFoundf("message %s not found", id)
	}
	if m.Status.Terminal() {
		return domain.NewError(domain.KindImmutability, "message %s is immutable in status %s", id, m.Status)
	}
	m.Status = status
	if sentAt != nil {
		m.SentAt = sentAt
	}
	if providerID != nil {
		m.ProviderID = providerID
	}
	if status.Terminal() {
		m.IsImmutable = true
	}
	m.UpdatedAt = time.Now()
	return nil
}

func (s *Store) IncrementMessageRetry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return domain.NotFoundf("message %s not found", id)
	}
	m.RetryCount++
	return nil
}

func (s *Store) ListMessageAttachments(_ context.Context, messageID string) ([]domain.MessageAttachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MessageAttachment
	for _, a := range s.attachments {
		if a.MessageID == messageID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *Store) GetAttachmentByID(_ context.Context, id string) (*domain.MessageAttachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attachments[id]
	if !ok {
		return nil, domain.NotFoundf("attachment %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) DeleteAttachment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attachments[id]; !ok {
		return domain.NotFoundf("attachment %s not found", id)
	}
	delete(s.attachments, id)
	return nil
}
