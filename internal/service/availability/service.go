package availability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// heartbeatDebounce bounds activity writes to one per agent per minute.
const heartbeatDebounce = time.Minute

// Sweep defaults, overridable through settings read at sweep time.
const (
	DefaultIdleOnlineTimeout = 15 * time.Minute
	DefaultMaxIdleThreshold  = 2 * time.Hour
	DefaultSweepInterval     = time.Minute
)

// Transition reasons carried in AgentAvailabilityChanged payloads.
const (
	ReasonActivity   = "activity"
	ReasonInactivity = "inactivity_timeout"
	ReasonMaxIdle    = "max_idle_threshold"
	ReasonManual     = "manual"
	ReasonLogin      = "login"
	ReasonLogout     = "logout"
)

// Service is the agent availability controller.
type Service struct {
	store store.Store
	bus   *bus.Bus

	// lastTick debounces heartbeat writes per agent.
	mu       sync.Mutex
	lastTick map[string]time.Time
}

// New creates the availability controller.
func New(st store.Store, b *bus.Bus) *Service {
	return &Service{store: st, bus: b, lastTick: make(map[string]time.Time)}
}

// Heartbeat records agent activity. Writes are debounced to one per agent
// per minute. Activity while in plain away flips the agent back online
// immediately, debounce notwithstanding.
func (s *Service) Heartbeat(ctx context.Context, userID string) error {
	agent, err := s.store.GetAgentByUserID(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	if agent.Availability == domain.AvailabilityAway {
		if err := s.transition(ctx, agent, domain.AvailabilityOnline, ReasonActivity, now); err != nil {
			return err
		}
	}

	s.mu.Lock()
	last, seen := s.lastTick[agent.ID]
	if seen && now.Sub(last) < heartbeatDebounce {
		s.mu.Unlock()
		return nil
	}
	s.lastTick[agent.ID] = now
	s.mu.Unlock()

	return s.store.UpdateAgentActivity(ctx, agent.ID, now)
}

// SetAvailability applies an explicit presence change. Entering
// away_and_reassigning additionally bulk-unassigns the agent's open and
// snoozed conversations.
func (s *Service) SetAvailability(ctx context.Context, actor domain.Principal, userID string, next domain.Availability) error {
	if !next.Valid() {
		return domain.Validationf("invalid availability %q", next)
	}
	agent, err := s.store.GetAgentByUserID(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.transition(ctx, agent, next, ReasonManual, now); err != nil {
		return err
	}
	if next == domain.AvailabilityAwayAndReassigning {
		return s.unassignAll(ctx, actor, userID)
	}
	return nil
}

// MarkLoggedIn flips the agent online on login.
func (s *Service) MarkLoggedIn(ctx context.Context, userID string) error {
	agent, err := s.store.GetAgentByUserID(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.store.UpdateAgentLogin(ctx, agent.ID, now); err != nil {
		return err
	}
	return s.transition(ctx, agent, domain.AvailabilityOnline, ReasonLogin, now)
}

// MarkLoggedOut flips the agent offline on logout.
func (s *Service) MarkLoggedOut(ctx context.Context, userID string) error {
	agent, err := s.store.GetAgentByUserID(ctx, userID)
	if err != nil {
		return err
	}
	return s.transition(ctx, agent, domain.AvailabilityOffline, ReasonLogout, time.Now().UTC())
}

// transition writes the availability change and publishes the event. Writing
// the current state is a no-op.
func (s *Service) transition(ctx context.Context, agent *domain.Agent, next domain.Availability, reason string, now time.Time) error {
	if agent.Availability == next {
		return nil
	}
	var awaySince *time.Time
	if next.IsAway() {
		awaySince = &now
	}
	if err := s.store.UpdateAgentAvailability(ctx, agent.ID, next, awaySince); err != nil {
		return err
	}
	prev := agent.Availability
	agent.Availability = next
	agent.AwaySince = awaySince

	s.bus.Publish(domain.Event{
		Type:       domain.EventAgentAvailabilityChanged,
		OccurredAt: now,
		ActorID:    agent.UserID,
		Payload: map[string]any{
			"user_id":  agent.UserID,
			"previous": string(prev),
			"new":      string(next),
			"reason":   reason,
		},
	})
	return nil
}

// unassignAll clears the user assignment on every open or snoozed
// conversation assigned to the agent. Team assignments stay. Each row gets
// its own unassigned event and history entry.
func (s *Service) unassignAll(ctx context.Context, actor domain.Principal, userID string) error {
	convs, err := s.store.ListConversationsAssignedToUser(ctx, userID,
		[]domain.ConversationStatus{domain.ConversationOpen, domain.ConversationSnoozed})
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range convs {
		c := &convs[i]
		prev := c.AssignedUserID
		c.AssignedUserID = nil
		by := actor.UserID
		c.AssignedBy = &by
		c.AssignedAt = &now
		if err := s.store.UpdateConversation(ctx, c); err != nil {
			logger.Error("bulk unassign failed", "conversation_id", c.ID, "error", err)
			continue
		}
		h := &domain.AssignmentHistory{
			ID:             uuid.New().String(),
			ConversationID: c.ID,
			AssigneeTeamID: c.AssignedTeamID,
			AssignedBy:     actor.UserID,
			CreatedAt:      now,
		}
		if err := s.store.AppendAssignmentHistory(ctx, h); err != nil {
			logger.Error("append assignment history failed", "conversation_id", c.ID, "error", err)
		}
		snapshot := *c
		s.bus.Publish(domain.Event{
			Type:         domain.EventConversationUnassigned,
			OccurredAt:   now,
			Conversation: &snapshot,
			ActorID:      actor.UserID,
			Payload: map[string]any{
				"previous_user_id": derefOr(prev),
				"reason":           "away_and_reassigning",
			},
		})
	}
	logger.Info("bulk unassigned conversations", "user_id", userID, "count", len(convs))
	return nil
}

// SweepOnce runs one inactivity plus max-idle pass, reading thresholds from
// settings. The sweeper calls this per tick; operators can trigger it
// directly.
func (s *Service) SweepOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.sweepInactive(ctx, now)
	s.sweepMaxIdle(ctx, now)
}

// sweepInactive moves idle online agents to away.
func (s *Service) sweepInactive(ctx context.Context, now time.Time) {
	timeout := s.durationSetting(ctx, domain.SettingIdleOnlineTimeout, DefaultIdleOnlineTimeout)
	agents, err := s.store.ListIdleOnlineAgents(ctx, now.Add(-timeout))
	if err != nil {
		logger.Error("[AvailabilitySweeper] list idle agents failed", "error", err)
		return
	}
	for i := range agents {
		if err := s.transition(ctx, &agents[i], domain.AvailabilityAway, ReasonInactivity, now); err != nil {
			logger.Error("[AvailabilitySweeper] idle transition failed", "agent_id", agents[i].ID, "error", err)
		}
	}
}

// sweepMaxIdle moves long-away agents to offline. Only plain away agents
// age out; manual away states are explicit choices.
func (s *Service) sweepMaxIdle(ctx context.Context, now time.Time) {
	threshold := s.durationSetting(ctx, domain.SettingMaxIdleThreshold, DefaultMaxIdleThreshold)
	agents, err := s.store.ListOverdueAwayAgents(ctx, now.Add(-threshold))
	if err != nil {
		logger.Error("[AvailabilitySweeper] list overdue away agents failed", "error", err)
		return
	}
	for i := range agents {
		if err := s.transition(ctx, &agents[i], domain.AvailabilityOffline, ReasonMaxIdle, now); err != nil {
			logger.Error("[AvailabilitySweeper] max-idle transition failed", "agent_id", agents[i].ID, "error", err)
		}
	}
}

// durationSetting reads a duration setting at sweep time so runtime
// reconfiguration takes effect on the next tick.
func (s *Service) durationSetting(ctx context.Context, key string, def time.Duration) time.Duration {
	v, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return def
	}
	d, err := domain.ParseDuration(v)
	if err != nil {
		logger.Warn("invalid duration setting", "key", key, "value", v)
		return def
	}
	return d
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
