package automation_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/service/automation"
	"github.com/sgunadhya/oxidesk/internal/service/conversation"
	"github.com/sgunadhya/oxidesk/internal/store/memory"
)

type fixture struct {
	store  *memory.Store
	bus    *bus.Bus
	convs  *conversation.Service
	engine *automation.Engine
	convID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	b := bus.New()
	t.Cleanup(b.Close)
	convs := conversation.New(st, b)

	ctx := context.Background()
	st.CreateInbox(ctx, &domain.Inbox{ID: "inbox-1", Name: "Support", ChannelType: domain.ChannelEmail})
	cu := &domain.User{ID: "user-c", Email: "jo@example.com", Type: domain.UserTypeContact}
	st.CreateContactWithChannel(ctx, cu,
		&domain.Contact{ID: "contact-1", UserID: cu.ID},
		&domain.ContactChannel{ID: "ch-1", ContactID: "contact-1", InboxID: "inbox-1", Email: cu.Email})
	st.CreateUser(ctx, &domain.User{ID: "user-a", Email: "alice@oxidesk.test", Type: domain.UserTypeAgent})
	st.CreateAgent(ctx, &domain.Agent{ID: "agent-a", UserID: "user-a", FirstName: "alice", Availability: domain.AvailabilityOnline})

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID: "conv-1", ReferenceNumber: 100, Status: domain.ConversationOpen,
		InboxID: "inbox-1", ContactID: "contact-1", Tags: []string{"vip"},
		Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	st.CreateConversation(ctx, conv)

	return &fixture{store: st, bus: b, convs: convs, engine: automation.NewEngine(st, convs), convID: conv.ID}
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func (f *fixture) event(t *testing.T, typ domain.EventType, depth int) domain.Event {
	t.Helper()
	conv, err := f.store.GetConversation(context.Background(), f.convID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	return domain.Event{Type: typ, OccurredAt: time.Now().UTC(), Conversation: conv, ActorID: "user-a", CascadeDepth: depth}
}

func simpleRule(t *testing.T, f *fixture, cond domain.Condition, act domain.Action) *domain.AutomationRule {
	t.Helper()
	r := &domain.AutomationRule{
		Name: "rule", Enabled: true, RuleType: "event",
		EventSubscription: []domain.EventType{domain.EventMessageReceived},
		Condition:         cond, Action: act, Priority: 100,
	}
	if err := f.engine.CreateRule(context.Background(), r); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return r
}

func TestMatchedRuleExecutesAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	high := domain.PriorityHigh
	r := simpleRule(t, f,
		domain.Condition{Kind: domain.CondSimple, Attribute: domain.AttrTags, Op: domain.OpContains, Value: raw(t, "vip")},
		domain.Action{Type: domain.ActionSetPriority, Priority: &high})

	f.engine.HandleEvent(ctx, f.event(t, domain.EventMessageReceived, 0))

	conv, _ := f.store.GetConversation(ctx, f.convID)
	if conv.Priority == nil || *conv.Priority != domain.PriorityHigh {
		t.Fatalf("expected priority high, got %v", conv.Priority)
	}

	logs, err := f.engine.EvaluationLogs(ctx, r.ID, 10)
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected 1 log row, got %v %v", logs, err)
	}
	l := logs[0]
	if !l.Matched || l.ConditionResult != domain.ConditionTrue || l.ActionResult != domain.ActionSuccess {
		t.Fatalf("unexpected log row %+v", l)
	}
}

func TestUnmatchedRuleIsLoggedWithoutAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	high := domain.PriorityHigh
	r := simpleRule(t, f,
		domain.Condition{Kind: domain.CondSimple, Attribute: domain.AttrTags, Op: domain.OpContains, Value: raw(t, "enterprise")},
		domain.Action{Type: domain.ActionSetPriority, Priority: &high})

	f.engine.HandleEvent(ctx, f.event(t, domain.EventMessageReceived, 0))

	conv, _ := f.store.GetConversation(ctx, f.convID)
	if conv.Priority != nil {
		t.Fatalf("expected no action, priority %v", conv.Priority)
	}
	logs, _ := f.engine.EvaluationLogs(ctx, r.ID, 10)
	if len(logs) != 1 || logs[0].Matched || logs[0].ActionExecuted {
		t.Fatalf("expected unmatched log row, got %+v", logs)
	}
}

func TestCompositeConditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// (tags contains vip AND status = open) AND NOT priority = high
	cond := domain.Condition{
		Kind: domain.CondAnd,
		Conditions: []domain.Condition{
			{Kind: domain.CondSimple, Attribute: domain.AttrTags, Op: domain.OpContains, Value: raw(t, "vip")},
			{Kind: domain.CondSimple, Attribute: domain.AttrStatus, Op: domain.OpEquals, Value: raw(t, "open")},
			{Kind: domain.CondNot, Conditions: []domain.Condition{
				{Kind: domain.CondSimple, Attribute: domain.AttrPriority, Op: domain.OpEquals, Value: raw(t, "high")},
			}},
		},
	}
	tag := "escalate"
	r := simpleRule(t, f, cond, domain.Action{Type: domain.ActionAddTag, Tag: &tag})

	f.engine.HandleEvent(ctx, f.event(t, domain.EventMessageReceived, 0))
	conv, _ := f.store.GetConversation(ctx, f.convID)
	if !conv.HasTag("escalate") {
		t.Fatalf("expected escalate tag, got %v", conv.Tags)
	}
	logs, _ := f.engine.EvaluationLogs(ctx, r.ID, 10)
	if len(logs) != 1 || !logs[0].Matched {
		t.Fatalf("expected matched log, got %+v", logs)
	}
}

func TestPriorityComparisonOperators(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	med := domain.PriorityMedium
	if _, err := f.convs.SetPriority(ctx, domain.SystemPrincipal(), f.convID, &med); err != nil {
		t.Fatalf("seed priority: %v", err)
	}

	tag := "needs-attention"
	r := simpleRule(t, f,
		domain.Condition{Kind: domain.CondSimple, Attribute: domain.AttrPriority, Op: domain.OpGreaterThan, Value: raw(t, "low")},
		domain.Action{Type: domain.ActionAddTag, Tag: &tag})

	f.engine.HandleEvent(ctx, f.event(t, domain.EventMessageReceived, 0))
	conv, _ := f.store.GetConversation(ctx, f.convID)
	if !conv.HasTag(tag) {
		t.Fatalf("expected tag from greater_than match, got %v", conv.Tags)
	}
	logs, _ := f.engine.EvaluationLogs(ctx, r.ID, 10)
	if len(logs) != 1 || !logs[0].Matched {
		t.Fatalf("expected matched, got %+v", logs)
	}
}

func TestCascadeDepthLimitSkipsEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tag := "looped"
	r := simpleRule(t, f,
		domain.Condition{Kind: domain.CondSimple, Attribute: domain.AttrTags, Op: domain.OpContains, Value: raw(t, "vip")},
		domain.Action{Type: domain.ActionAddTag, Tag: &tag})

	f.engine.HandleEvent(ctx, f.event(t, domain.EventMessageReceived, automation.MaxCascadeDepth+1))

	conv, _ := f.store.GetConversation(ctx, f.convID)
	if conv.HasTag(tag) {
		t.Fatal("expected event past the cascade cap to be skipped")
	}
	logs, _ := f.engine.EvaluationLogs(ctx, r.ID, 10)
	if len(logs) != 0 {
		t.Fatalf("expected no evaluation past the cascade cap, got %+v", logs)
	}
}

func TestCascadeDepthAtCapStillEvaluates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tag := "deep"
	r := simpleRule(t, f,
		domain.Condition{Kind: domain.CondSimple, Attribute: domain.AttrStatus, Op: domain.OpEquals, Value: raw(t, "open")},
		domain.Action{Type: domain.ActionAddTag, Tag: &tag})

	f.engine.HandleEvent(ctx, f.event(t, domain.EventMessageReceived, automation.MaxCascadeDepth))

	conv, _ := f.store.GetConversation(ctx, f.convID)
	if !conv.HasTag(tag) {
		t.Fatal("expected event at the cascade cap to execute")
	}
	logs, _ := f.engine.EvaluationLogs(ctx, r.ID, 10)
	if len(logs) != 1 || !logs[0].Matched {
		t.Fatalf("expected one matched evaluation at the cap, got %+v", logs)
	}
}

func TestActionErrorIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	missing := "no-such-user"
	r := simpleRule(t, f,
		domain.Condition{Kind: domain.CondSimple, Attribute: domain.AttrStatus, Op: domain.OpEquals, Value: raw(t, "open")},
		domain.Action{Type: domain.ActionAssignToUser, UserID: &missing})

	f.engine.HandleEvent(ctx, f.event(t, domain.EventMessageReceived, 0))

	logs, _ := f.engine.EvaluationLogs(ctx, r.ID, 10)
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	l := logs[0]
	if l.ActionResult != domain.ActionError || l.ErrorMessage == nil {
		t.Fatalf("expected action error recorded, got %+v", l)
	}
}

func TestRuleValidationAtCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	high := domain.PriorityHigh
	bad := &domain.AutomationRule{
		Name: "bad", Enabled: true,
		EventSubscription: []domain.EventType{"nonsense"},
		Condition:         domain.Condition{Kind: domain.CondSimple, Attribute: domain.AttrTags, Op: domain.OpContains, Value: raw(t, "x")},
		Action:            domain.Action{Type: domain.ActionSetPriority, Priority: &high},
		Priority:          100,
	}
	if err := f.engine.CreateRule(ctx, bad); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	bad.EventSubscription = []domain.EventType{domain.EventMessageReceived}
	bad.Priority = 0
	if err := f.engine.CreateRule(ctx, bad); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error for priority, got %v", err)
	}
}

func TestEngineOnBusAppliesRuleChains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.Attach(f.bus)

	// Rule 1: a message on a vip conversation escalates the tag set.
	// Rule 2: the tag change sets priority. The chain runs within the
	// cascade budget.
	tag := "escalate"
	simpleRule(t, f,
		domain.Condition{Kind: domain.CondSimple, Attribute: domain.AttrTags, Op: domain.OpContains, Value: raw(t, "vip")},
		domain.Action{Type: domain.ActionAddTag, Tag: &tag})

	high := domain.PriorityHigh
	r2 := &domain.AutomationRule{
		Name: "escalation priority", Enabled: true, RuleType: "event",
		EventSubscription: []domain.EventType{domain.EventConversationTagsChanged},
		Condition:         domain.Condition{Kind: domain.CondSimple, Attribute: domain.AttrTags, Op: domain.OpContains, Value: raw(t, "escalate")},
		Action:            domain.Action{Type: domain.ActionSetPriority, Priority: &high},
		Priority:          200,
	}
	if err := f.engine.CreateRule(ctx, r2); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	f.bus.Publish(f.event(t, domain.EventMessageReceived, 0))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conv, _ := f.store.GetConversation(ctx, f.convID)
		if conv.HasTag("escalate") && conv.Priority != nil && *conv.Priority == domain.PriorityHigh {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("rule chain did not complete")
}
