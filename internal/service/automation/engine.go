package automation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/service/conversation"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// MaxCascadeDepth bounds rule-triggered-rule chains. Events at depths up to
// and including the cap are evaluated; anything deeper is skipped.
const MaxCascadeDepth = 3

// Evaluation and action execution time limits.
const (
	ConditionTimeout = 5 * time.Second
	ActionTimeout    = 10 * time.Second
)

// Engine is the automation rule engine.
type Engine struct {
	store store.Store
	convs *conversation.Service
}

// NewEngine creates the rule engine.
func NewEngine(st store.Store, convs *conversation.Service) *Engine {
	return &Engine{store: st, convs: convs}
}

// Attach subscribes the engine to every event type on the bus.
func (e *Engine) Attach(b *bus.Bus) {
	b.Subscribe("automation", e.HandleEvent)
}

// CreateRule validates and stores a rule.
func (e *Engine) CreateRule(ctx context.Context, r *domain.AutomationRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	return e.store.CreateRule(ctx, r)
}

// UpdateRule validates and replaces a rule.
func (e *Engine) UpdateRule(ctx context.Context, r *domain.AutomationRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	return e.store.UpdateRule(ctx, r)
}

// GetRule returns one rule.
func (e *Engine) GetRule(ctx context.Context, id string) (*domain.AutomationRule, error) {
	return e.store.GetRule(ctx, id)
}

// EvaluationLogs returns the most recent audit rows for a rule.
func (e *Engine) EvaluationLogs(ctx context.Context, ruleID string, limit int) ([]domain.RuleEvaluationLog, error) {
	return e.store.ListRuleEvaluationLogs(ctx, ruleID, limit)
}

// HandleEvent runs every enabled rule subscribed to the event, highest
// priority first. Rules are independent: one failing rule never blocks the
// rest.
func (e *Engine) HandleEvent(ctx context.Context, evt domain.Event) {
	if evt.CascadeDepth > MaxCascadeDepth {
		logger.Warn("automation cascade depth limit reached, event skipped",
			"event_type", string(evt.Type), "cascade_depth", evt.CascadeDepth)
		return
	}
	rules, err := e.store.ListEnabledRulesByEvent(ctx, evt.Type)
	if err != nil {
		logger.Error("list rules failed", "event_type", string(evt.Type), "error", err)
		return
	}
	for i := range rules {
		e.evaluate(ctx, &rules[i], evt)
	}
}

func (e *Engine) evaluate(ctx context.Context, rule *domain.AutomationRule, evt domain.Event) {
	start := time.Now()
	entry := &domain.RuleEvaluationLog{
		ID:           uuid.New().String(),
		RuleID:       rule.ID,
		EventType:    evt.Type,
		CascadeDepth: evt.CascadeDepth,
		EvaluatedAt:  start.UTC(),
	}
	if evt.Conversation != nil {
		id := evt.Conversation.ID
		entry.ConversationID = &id
	}

	condCtx, cancel := context.WithTimeout(ctx, ConditionTimeout)
	matched, err := evalCondition(condCtx, rule.Condition, evt.Conversation)
	cancel()
	switch {
	case err != nil:
		entry.ConditionResult = domain.ConditionError
		msg := err.Error()
		entry.ErrorMessage = &msg
	case matched:
		entry.Matched = true
		entry.ConditionResult = domain.ConditionTrue
	default:
		entry.ConditionResult = domain.ConditionFalse
	}

	if entry.Matched {
		actCtx, cancel := context.WithTimeout(ctx, ActionTimeout)
		actErr := e.execute(actCtx, rule.Action, evt)
		cancel()
		entry.ActionExecuted = true
		if actErr != nil {
			entry.ActionResult = domain.ActionError
			msg := actErr.Error()
			entry.ErrorMessage = &msg
			logger.Error("rule action failed", "rule_id", rule.ID, "rule_name", rule.Name, "error", actErr)
		} else {
			entry.ActionResult = domain.ActionSuccess
		}
	}

	entry.EvaluationTimeMs = time.Since(start).Milliseconds()
	if err := e.store.AppendRuleEvaluationLog(ctx, entry); err != nil {
		logger.Error("append rule evaluation log failed", "rule_id", rule.ID, "error", err)
	}
}

// execute runs the action through the conversation engine at the next
// cascade depth, acting as the system principal.
func (e *Engine) execute(ctx context.Context, a domain.Action, evt domain.Event) error {
	if evt.Conversation == nil {
		return domain.Validationf("event carries no conversation")
	}
	convID := evt.Conversation.ID
	svc := e.convs.AtDepth(evt.CascadeDepth + 1)
	system := domain.SystemPrincipal()

	var err error
	switch a.Type {
	case domain.ActionSetPriority:
		_, err = svc.SetPriority(ctx, system, convID, a.Priority)
	case domain.ActionAssignToUser:
		_, err = svc.AssignUser(ctx, system, convID, a.UserID)
	case domain.ActionAssignToTeam:
		_, err = svc.AssignTeam(ctx, system, convID, a.TeamID)
	case domain.ActionAddTag:
		_, err = svc.AddTags(ctx, system, convID, []string{*a.Tag})
	case domain.ActionRemoveTag:
		_, err = svc.RemoveTag(ctx, system, convID, *a.Tag)
	case domain.ActionChangeStatus:
		var snooze time.Duration
		if *a.Status == domain.ConversationSnoozed {
			snooze, err = domain.ParseDuration(*a.SnoozeDuration)
			if err != nil {
				return err
			}
		}
		_, err = svc.UpdateStatus(ctx, system, convID, *a.Status, snooze)
	default:
		err = domain.Validationf("unknown action type %q", a.Type)
	}
	return err
}
