package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// Permissions checked by the assignment operations. The engine receives a
// decided permission set on the principal; it never evaluates role policy.
const (
	PermSelfAssign         = "conversations:self_assign"
	PermUpdateUserAssignee = "conversations:update_user_assignee"
	PermUpdateTeamAssignee = "conversations:update_team_assignee"
)

// maxWriteRetries bounds internal re-read-and-retry on optimistic conflicts
// before the conflict is surfaced to the caller.
const maxWriteRetries = 3

// Service is the conversation lifecycle engine.
type Service struct {
	store store.Store
	bus   *bus.Bus

	// depth tags published events with the automation cascade depth.
	// Zero for direct user actions.
	depth int
}

// New creates the conversation engine.
func New(st store.Store, b *bus.Bus) *Service {
	return &Service{store: st, bus: b}
}

// AtDepth returns a copy of the service whose events carry the given cascade
// depth. Automation actions re-enter the engine through this.
func (s *Service) AtDepth(depth int) *Service {
	cp := *s
	cp.depth = depth
	return &cp
}

// CreateInput carries the fields for a new conversation.
type CreateInput struct {
	InboxID   string
	ContactID string
	Subject   *string
	Priority  *domain.Priority
	Tags      []string
}

// Create opens a new conversation in status Open with the next reference
// number. The contact and inbox must exist.
func (s *Service) Create(ctx context.Context, actor domain.Principal, in CreateInput) (*domain.Conversation, error) {
	if in.ContactID == "" {
		return nil, domain.Validationf("contact id is required")
	}
	if in.InboxID == "" {
		return nil, domain.Validationf("inbox id is required")
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return nil, domain.Validationf("invalid priority %q", *in.Priority)
	}
	if _, err := s.store.GetContact(ctx, in.ContactID); err != nil {
		return nil, err
	}
	inbox, err := s.store.GetInbox(ctx, in.InboxID)
	if err != nil {
		return nil, err
	}
	if inbox.DeletedAt != nil {
		return nil, domain.Validationf("inbox %s is deleted", in.InboxID)
	}

	ref, err := s.store.NextReferenceNumber(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:              uuid.New().String(),
		ReferenceNumber: ref,
		Status:          domain.ConversationOpen,
		InboxID:         in.InboxID,
		ContactID:       in.ContactID,
		Subject:         in.Subject,
		Priority:        in.Priority,
		Tags:            dedupTags(in.Tags),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateConversation(ctx, c); err != nil {
		return nil, err
	}

	s.publish(domain.EventConversationCreated, actor, c, nil)
	return c, nil
}

// Get returns one conversation.
func (s *Service) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// GetByReference resolves a conversation by inbox and reference number.
func (s *Service) GetByReference(ctx context.Context, inboxID string, ref int64) (*domain.Conversation, error) {
	return s.store.GetConversationByReference(ctx, inboxID, ref)
}

// UpdateStatus drives the status state machine. Snoozing requires a positive
// duration; every other transition ignores it.
//
// Side effects by transition:
//
//	-> Snoozed   snoozedUntil = now + duration
//	-> Resolved  resolvedAt = now
//	Resolved -> Open  resolvedAt cleared
//	Snoozed  -> Open  snoozedUntil cleared
func (s *Service) UpdateStatus(ctx context.Context, actor domain.Principal, id string, next domain.ConversationStatus, snoozeFor time.Duration) (*domain.Conversation, error) {
	if !next.Valid() {
		return nil, domain.Validationf("invalid status %q", next)
	}
	if next == domain.ConversationSnoozed && snoozeFor <= 0 {
		return nil, domain.Validationf("snooze requires a positive duration")
	}

	var prev domain.ConversationStatus
	c, err := s.mutate(ctx, id, func(c *domain.Conversation) (bool, error) {
		prev = c.Status
		if !c.Status.CanTransitionTo(next) {
			return false, domain.Validationf("cannot transition conversation from %s to %s", c.Status, next)
		}
		if c.Status == next && next != domain.ConversationSnoozed {
			// Reflexive writes other than re-snoozing change nothing.
			return false, nil
		}
		now := time.Now().UTC()
		switch next {
		case domain.ConversationSnoozed:
			until := now.Add(snoozeFor)
			c.SnoozedUntil = &until
		case domain.ConversationResolved:
			c.ResolvedAt = &now
			c.SnoozedUntil = nil
		case domain.ConversationOpen:
			c.ResolvedAt = nil
			c.SnoozedUntil = nil
		}
		c.Status = next
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if prev != c.Status || next == domain.ConversationSnoozed {
		s.publish(domain.EventConversationStatusChanged, actor, c, map[string]any{
			"previous_status": string(prev),
			"new_status":      string(c.Status),
		})
	}
	return c, nil
}

// AssignUser sets or clears the user assignee. A nil userID unassigns.
// Self-assignment needs conversations:self_assign; assigning or unassigning
// anyone else needs conversations:update_user_assignee.
func (s *Service) AssignUser(ctx context.Context, actor domain.Principal, id string, userID *string) (*domain.Conversation, error) {
	assigningSelf := userID != nil && *userID == actor.UserID
	if assigningSelf {
		if !actor.Can(PermSelfAssign) && !actor.Can(PermUpdateUserAssignee) {
			return nil, domain.Forbidden(PermSelfAssign)
		}
	} else if !actor.Can(PermUpdateUserAssignee) {
		return nil, domain.Forbidden(PermUpdateUserAssignee)
	}
	if userID != nil {
		u, err := s.store.GetUser(ctx, *userID)
		if err != nil {
			return nil, err
		}
		if u.Type != domain.UserTypeAgent || u.DeletedAt != nil {
			return nil, domain.Validationf("assignee %s is not an active agent", *userID)
		}
	}

	var prevUser *string
	c, err := s.mutate(ctx, id, func(c *domain.Conversation) (bool, error) {
		prevUser = c.AssignedUserID
		if equalPtr(c.AssignedUserID, userID) {
			return false, nil
		}
		now := time.Now().UTC()
		c.AssignedUserID = userID
		c.AssignedAt = &now
		by := actor.UserID
		c.AssignedBy = &by
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if equalPtr(prevUser, userID) {
		return c, nil
	}

	s.recordAssignment(ctx, actor, c)
	if userID == nil {
		s.publish(domain.EventConversationUnassigned, actor, c, map[string]any{
			"previous_user_id": deref(prevUser),
		})
	} else {
		s.publish(domain.EventConversationAssigned, actor, c, map[string]any{
			"assignee_user_id": *userID,
			"previous_user_id": deref(prevUser),
		})
	}
	return c, nil
}

// AssignTeam sets or clears the team assignee. Requires
// conversations:update_team_assignee in both directions.
func (s *Service) AssignTeam(ctx context.Context, actor domain.Principal, id string, teamID *string) (*domain.Conversation, error) {
	if !actor.Can(PermUpdateTeamAssignee) {
		return nil, domain.Forbidden(PermUpdateTeamAssignee)
	}
	if teamID != nil {
		if _, err := s.store.GetTeam(ctx, *teamID); err != nil {
			return nil, err
		}
	}

	var prevTeam *string
	c, err := s.mutate(ctx, id, func(c *domain.Conversation) (bool, error) {
		prevTeam = c.AssignedTeamID
		if equalPtr(c.AssignedTeamID, teamID) {
			return false, nil
		}
		now := time.Now().UTC()
		c.AssignedTeamID = teamID
		c.AssignedAt = &now
		by := actor.UserID
		c.AssignedBy = &by
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if equalPtr(prevTeam, teamID) {
		return c, nil
	}

	s.recordAssignment(ctx, actor, c)
	if teamID == nil {
		s.publish(domain.EventConversationUnassigned, actor, c, map[string]any{
			"previous_team_id": deref(prevTeam),
		})
	} else {
		s.publish(domain.EventConversationAssigned, actor, c, map[string]any{
			"assignee_team_id": *teamID,
			"previous_team_id": deref(prevTeam),
		})
	}
	return c, nil
}

// AddTags adds the given tag ids. Tags already present are ignored; when
// nothing changes no write happens and no event is published.
func (s *Service) AddTags(ctx context.Context, actor domain.Principal, id string, tags []string) (*domain.Conversation, error) {
	return s.mutateTags(ctx, actor, id, func(current []string) []string {
		next := append([]string(nil), current...)
		for _, t := range dedupTags(tags) {
			if !contains(next, t) {
				next = append(next, t)
			}
		}
		return next
	})
}

// RemoveTag removes one tag id. Removing an absent tag is a no-op.
func (s *Service) RemoveTag(ctx context.Context, actor domain.Principal, id, tag string) (*domain.Conversation, error) {
	return s.mutateTags(ctx, actor, id, func(current []string) []string {
		next := make([]string, 0, len(current))
		for _, t := range current {
			if t != tag {
				next = append(next, t)
			}
		}
		return next
	})
}

// ReplaceTags swaps the whole tag set.
func (s *Service) ReplaceTags(ctx context.Context, actor domain.Principal, id string, tags []string) (*domain.Conversation, error) {
	return s.mutateTags(ctx, actor, id, func([]string) []string {
		return dedupTags(tags)
	})
}

// SetPriority updates the priority. A nil priority clears it.
func (s *Service) SetPriority(ctx context.Context, actor domain.Principal, id string, p *domain.Priority) (*domain.Conversation, error) {
	if p != nil && !p.Valid() {
		return nil, domain.Validationf("invalid priority %q", *p)
	}
	var prev *domain.Priority
	c, err := s.mutate(ctx, id, func(c *domain.Conversation) (bool, error) {
		prev = c.Priority
		if equalPriority(c.Priority, p) {
			return false, nil
		}
		c.Priority = p
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !equalPriority(prev, c.Priority) {
		s.publish(domain.EventConversationPriorityChanged, actor, c, map[string]any{
			"previous_priority": priorityString(prev),
			"new_priority":      priorityString(c.Priority),
		})
	}
	return c, nil
}

// ListAssignedTo returns the caller-visible conversations assigned to a user,
// optionally filtered by status.
func (s *Service) ListAssignedTo(ctx context.Context, userID string, statuses []domain.ConversationStatus) ([]domain.Conversation, error) {
	return s.store.ListConversationsAssignedToUser(ctx, userID, statuses)
}

// AssignmentHistory returns the append-only assignment record.
func (s *Service) AssignmentHistory(ctx context.Context, id string) ([]domain.AssignmentHistory, error) {
	if _, err := s.store.GetConversation(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListAssignmentHistory(ctx, id)
}

// mutate runs the read-apply-write loop with conflict retries. apply returns
// false to skip the write (idempotent no-op); it must not publish.
func (s *Service) mutate(ctx context.Context, id string, apply func(*domain.Conversation) (bool, error)) (*domain.Conversation, error) {
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		c, err := s.store.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := apply(c)
		if err != nil {
			return nil, err
		}
		if !changed {
			return c, nil
		}
		err = s.store.UpdateConversation(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, domain.ErrOptimisticConflict) {
			return nil, err
		}
	}
	return nil, domain.Conflictf("conversation %s is being modified concurrently", id)
}

func (s *Service) mutateTags(ctx context.Context, actor domain.Principal, id string, next func([]string) []string) (*domain.Conversation, error) {
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		c, err := s.store.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		newTags := next(c.Tags)
		if sameSet(c.Tags, newTags) {
			return c, nil
		}
		prev := c.Tags
		err = s.store.ReplaceConversationTags(ctx, id, c.Version, newTags)
		if err == nil {
			c.Tags = newTags
			c.Version++
			s.publish(domain.EventConversationTagsChanged, actor, c, map[string]any{
				"previous_tags": prev,
				"new_tags":      newTags,
			})
			return c, nil
		}
		if !errors.Is(err, domain.ErrOptimisticConflict) {
			return nil, err
		}
	}
	return nil, domain.Conflictf("conversation %s is being modified concurrently", id)
}

func (s *Service) recordAssignment(ctx context.Context, actor domain.Principal, c *domain.Conversation) {
	h := &domain.AssignmentHistory{
		ID:             uuid.New().String(),
		ConversationID: c.ID,
		AssigneeUserID: c.AssignedUserID,
		AssigneeTeamID: c.AssignedTeamID,
		AssignedBy:     actor.UserID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AppendAssignmentHistory(ctx, h); err != nil {
		// History is audit, not source of truth; the assignment itself
		// already committed.
		logger.Error("append assignment history failed", "conversation_id", c.ID, "error", err)
	}
}

func (s *Service) publish(t domain.EventType, actor domain.Principal, c *domain.Conversation, payload map[string]any) {
	snapshot := *c
	snapshot.Tags = append([]string(nil), c.Tags...)
	s.bus.Publish(domain.Event{
		Type:         t,
		OccurredAt:   time.Now().UTC(),
		Conversation: &snapshot,
		ActorID:      actor.UserID,
		CascadeDepth: s.depth,
		Payload:      payload,
	})
}

func dedupTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" && !contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		if !contains(b, x) {
			return false
		}
	}
	return true
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalPriority(a, b *domain.Priority) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func priorityString(p *domain.Priority) string {
	if p == nil {
		return ""
	}
	return string(*p)
}
