package sla

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// Service applies policies and advances deadline state from events.
type Service struct {
	store store.Store
	bus   *bus.Bus
}

// New creates the SLA service.
func New(st store.Store, b *bus.Bus) *Service {
	return &Service{store: st, bus: b}
}

// Attach subscribes the deadline progression hooks to the bus.
func (s *Service) Attach(b *bus.Bus) {
	b.Subscribe("sla", s.handleEvent,
		domain.EventConversationCreated,
		domain.EventMessageSent,
		domain.EventMessageReceived,
		domain.EventConversationStatusChanged,
	)
}

// CreatePolicy validates and stores a policy.
func (s *Service) CreatePolicy(ctx context.Context, p *domain.SLAPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return s.store.CreateSLAPolicy(ctx, p)
}

// GetPolicy returns one policy.
func (s *Service) GetPolicy(ctx context.Context, id string) (*domain.SLAPolicy, error) {
	return s.store.GetSLAPolicy(ctx, id)
}

// Apply binds a policy to a conversation, computing deadlines from now.
// An already-active applied SLA on the conversation is superseded: it and
// its pending deadlines are cancelled before the new one is created.
// Business-hours mode (the sla.business_hours setting) skips weekends and
// holidays in the deadline math.
func (s *Service) Apply(ctx context.Context, conversationID, policyID string) (*domain.AppliedSLA, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	policy, err := s.store.GetSLAPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}

	if active, err := s.store.GetActiveAppliedSLA(ctx, conv.ID); err == nil {
		if err := s.store.CancelAppliedSLA(ctx, active.ID); err != nil {
			return nil, err
		}
	} else if !domain.IsKind(err, domain.KindNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	calc, err := s.deadlineCalculator(ctx)
	if err != nil {
		return nil, err
	}

	applied := &domain.AppliedSLA{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		PolicyID:       policy.ID,
		Status:         domain.AppliedSLAActive,
		CreatedAt:      now,
	}
	var events []domain.SLAEvent
	if policy.FirstResponseTime != "" {
		d, err := domain.ParseDuration(policy.FirstResponseTime)
		if err != nil {
			return nil, err
		}
		deadline := calc(now, d)
		applied.FirstResponseDeadline = &deadline
		events = append(events, domain.SLAEvent{
			ID: uuid.New().String(), AppliedSLAID: applied.ID,
			Type: domain.SLAFirstResponse, Deadline: deadline, Status: domain.SLAPending,
		})
	}
	if policy.ResolutionTime != "" {
		d, err := domain.ParseDuration(policy.ResolutionTime)
		if err != nil {
			return nil, err
		}
		deadline := calc(now, d)
		applied.ResolutionDeadline = &deadline
		events = append(events, domain.SLAEvent{
			ID: uuid.New().String(), AppliedSLAID: applied.ID,
			Type: domain.SLAResolution, Deadline: deadline, Status: domain.SLAPending,
		})
	}
	if err := s.store.CreateAppliedSLA(ctx, applied, events); err != nil {
		return nil, err
	}
	return applied, nil
}

// Active returns the conversation's active applied SLA.
func (s *Service) Active(ctx context.Context, conversationID string) (*domain.AppliedSLA, error) {
	return s.store.GetActiveAppliedSLA(ctx, conversationID)
}

func (s *Service) handleEvent(ctx context.Context, evt domain.Event) {
	if evt.Conversation == nil {
		return
	}
	switch evt.Type {
	case domain.EventConversationCreated:
		s.onConversationCreated(ctx, evt.Conversation)
	case domain.EventMessageSent:
		s.onAgentReply(ctx, evt.Conversation)
	case domain.EventMessageReceived:
		s.onCustomerMessage(ctx, evt.Conversation)
	case domain.EventConversationStatusChanged:
		if evt.Conversation.Status == domain.ConversationResolved {
			s.onResolved(ctx, evt.Conversation)
		}
	}
}

// onConversationCreated applies the policy configured for the conversation's
// team, falling back to the instance-wide default policy setting. No
// configured policy means the conversation tracks no SLA until one is
// applied explicitly.
func (s *Service) onConversationCreated(ctx context.Context, conv *domain.Conversation) {
	policyID := ""
	if conv.AssignedTeamID != nil {
		team, err := s.store.GetTeam(ctx, *conv.AssignedTeamID)
		if err != nil {
			logger.Error("load team for sla failed", "team_id", *conv.AssignedTeamID, "error", err)
			return
		}
		if team.SLAPolicyID != nil {
			policyID = *team.SLAPolicyID
		}
	}
	if policyID == "" {
		v, err := s.store.GetSetting(ctx, domain.SettingDefaultSLAPolicy)
		if err != nil {
			if !domain.IsKind(err, domain.KindNotFound) {
				logger.Error("load default sla policy setting failed", "error", err)
			}
			return
		}
		policyID = v
	}
	if policyID == "" {
		return
	}
	if _, err := s.Apply(ctx, conv.ID, policyID); err != nil {
		logger.Error("apply sla on conversation create failed",
			"conversation_id", conv.ID, "policy_id", policyID, "error", err)
	}
}

// onAgentReply marks the pending first-response deadline met, and with it
// any open rolling next-response deadline.
func (s *Service) onAgentReply(ctx context.Context, conv *domain.Conversation) {
	applied, err := s.store.GetActiveAppliedSLA(ctx, conv.ID)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	s.markMet(ctx, applied.ID, domain.SLAFirstResponse, now)
	s.markMet(ctx, applied.ID, domain.SLANextResponse, now)
}

// onCustomerMessage opens a rolling next-response deadline once the
// conversation has at least one agent reply. Each customer message restarts
// the clock: a still-pending next-response deadline is recomputed from now.
func (s *Service) onCustomerMessage(ctx context.Context, conv *domain.Conversation) {
	if conv.LastReplyAt == nil {
		// First response is still owed; the first-response deadline covers it.
		return
	}
	applied, err := s.store.GetActiveAppliedSLA(ctx, conv.ID)
	if err != nil {
		return
	}
	policy, err := s.store.GetSLAPolicy(ctx, applied.PolicyID)
	if err != nil || policy.NextResponseTime == "" {
		return
	}
	d, err := domain.ParseDuration(policy.NextResponseTime)
	if err != nil {
		return
	}
	calc, err := s.deadlineCalculator(ctx)
	if err != nil {
		return
	}
	deadline := calc(time.Now().UTC(), d)
	if pending, err := s.store.GetPendingSLAEvent(ctx, applied.ID, domain.SLANextResponse); err == nil {
		if err := s.store.UpdateSLAEventDeadline(ctx, pending.ID, deadline); err != nil {
			logger.Error("reset next-response deadline failed", "conversation_id", conv.ID, "error", err)
		}
		return
	}
	e := &domain.SLAEvent{
		ID: uuid.New().String(), AppliedSLAID: applied.ID,
		Type: domain.SLANextResponse, Deadline: deadline, Status: domain.SLAPending,
	}
	if err := s.store.CreateSLAEvent(ctx, e); err != nil {
		logger.Error("create next-response deadline failed", "conversation_id", conv.ID, "error", err)
	}
}

// onResolved marks the pending resolution deadline met, and closes any open
// response deadlines with it.
func (s *Service) onResolved(ctx context.Context, conv *domain.Conversation) {
	applied, err := s.store.GetActiveAppliedSLA(ctx, conv.ID)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	s.markMet(ctx, applied.ID, domain.SLAResolution, now)
	s.markMet(ctx, applied.ID, domain.SLAFirstResponse, now)
	s.markMet(ctx, applied.ID, domain.SLANextResponse, now)
}

func (s *Service) markMet(ctx context.Context, appliedID string, typ domain.SLAEventType, at time.Time) {
	e, err := s.store.GetPendingSLAEvent(ctx, appliedID, typ)
	if err != nil {
		return
	}
	if err := s.store.MarkSLAEventMet(ctx, e.ID, at); err != nil {
		logger.Error("mark sla event met failed", "sla_event_id", e.ID, "error", err)
	}
}

// deadlineCalculator returns the deadline function for the current
// business-hours setting. Plain mode is simple addition; business-hours mode
// lands deadlines on business days, skipping weekends and stored holidays.
func (s *Service) deadlineCalculator(ctx context.Context) (func(time.Time, time.Duration) time.Time, error) {
	mode, err := s.store.GetSetting(ctx, domain.SettingBusinessHoursMode)
	if err != nil && !domain.IsKind(err, domain.KindNotFound) {
		return nil, err
	}
	enabled, _ := strconv.ParseBool(mode)
	if !enabled {
		return func(start time.Time, d time.Duration) time.Time { return start.Add(d) }, nil
	}
	holidays, err := s.store.ListHolidays(ctx)
	if err != nil {
		return nil, err
	}
	return func(start time.Time, d time.Duration) time.Time {
		return addBusinessDuration(start, d, holidays)
	}, nil
}

// addBusinessDuration advances start by d, consuming time only on business
// days. Weekends and holidays are skipped at day granularity.
func addBusinessDuration(start time.Time, d time.Duration, holidays []domain.Holiday) time.Time {
	deadline := start
	remaining := d
	for remaining > 0 {
		step := remaining
		if step > 24*time.Hour {
			step = 24 * time.Hour
		}
		deadline = deadline.Add(step)
		remaining -= step
		for !isBusinessDay(deadline, holidays) {
			deadline = deadline.Add(24 * time.Hour)
		}
	}
	return deadline
}

func isBusinessDay(day time.Time, holidays []domain.Holiday) bool {
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	for _, h := range holidays {
		if h.Matches(day) {
			return false
		}
	}
	return true
}
