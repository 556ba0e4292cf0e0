package sla_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/distlock"
	"github.com/sgunadhya/oxidesk/internal/service/sla"
	"github.com/sgunadhya/oxidesk/internal/store/memory"
)

type fixture struct {
	store  *memory.Store
	bus    *bus.Bus
	svc    *sla.Service
	convID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	b := bus.New()
	t.Cleanup(b.Close)

	ctx := context.Background()
	st.CreateInbox(ctx, &domain.Inbox{ID: "inbox-1", Name: "Support", ChannelType: domain.ChannelEmail})
	cu := &domain.User{ID: "user-c", Email: "jo@example.com", Type: domain.UserTypeContact}
	st.CreateContactWithChannel(ctx, cu,
		&domain.Contact{ID: "contact-1", UserID: cu.ID},
		&domain.ContactChannel{ID: "ch-1", ContactID: "contact-1", InboxID: "inbox-1", Email: cu.Email})

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID: "conv-1", ReferenceNumber: 100, Status: domain.ConversationOpen,
		InboxID: "inbox-1", ContactID: "contact-1", Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	st.CreateConversation(ctx, conv)

	svc := sla.New(st, b)
	return &fixture{store: st, bus: b, svc: svc, convID: conv.ID}
}

func (f *fixture) policy(t *testing.T, first, resolution, next string) *domain.SLAPolicy {
	t.Helper()
	p := &domain.SLAPolicy{Name: "standard", FirstResponseTime: first, ResolutionTime: resolution, NextResponseTime: next}
	if err := f.svc.CreatePolicy(context.Background(), p); err != nil {
		t.Fatalf("create policy: %v", err)
	}
	return p
}

func (f *fixture) conv(t *testing.T) *domain.Conversation {
	t.Helper()
	c, err := f.store.GetConversation(context.Background(), f.convID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	return c
}

func TestApplyComputesDeadlines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.policy(t, "2h", "1d", "4h")

	applied, err := f.svc.Apply(ctx, f.convID, p.ID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied.Status != domain.AppliedSLAActive {
		t.Fatalf("expected active, got %s", applied.Status)
	}
	if applied.FirstResponseDeadline == nil || time.Until(*applied.FirstResponseDeadline) < 115*time.Minute {
		t.Fatalf("expected first-response deadline ~2h out, got %v", applied.FirstResponseDeadline)
	}
	if applied.ResolutionDeadline == nil || time.Until(*applied.ResolutionDeadline) < 23*time.Hour {
		t.Fatalf("expected resolution deadline ~1d out, got %v", applied.ResolutionDeadline)
	}

	if _, err := f.store.GetPendingSLAEvent(ctx, applied.ID, domain.SLAFirstResponse); err != nil {
		t.Fatalf("expected pending first-response event: %v", err)
	}
	if _, err := f.store.GetPendingSLAEvent(ctx, applied.ID, domain.SLAResolution); err != nil {
		t.Fatalf("expected pending resolution event: %v", err)
	}
}

func TestApplySupersedesActiveSLA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.policy(t, "2h", "1d", "")
	p2 := &domain.SLAPolicy{Name: "premium", FirstResponseTime: "30m", ResolutionTime: "4h"}
	if err := f.svc.CreatePolicy(ctx, p2); err != nil {
		t.Fatalf("create policy: %v", err)
	}

	first, err := f.svc.Apply(ctx, f.convID, p1.ID)
	if err != nil {
		t.Fatalf("apply first: %v", err)
	}
	second, err := f.svc.Apply(ctx, f.convID, p2.ID)
	if err != nil {
		t.Fatalf("apply second: %v", err)
	}

	old, _ := f.store.GetAppliedSLA(ctx, first.ID)
	if old.Status != domain.AppliedSLACancelled {
		t.Fatalf("expected superseded SLA cancelled, got %s", old.Status)
	}
	if _, err := f.store.GetPendingSLAEvent(ctx, first.ID, domain.SLAFirstResponse); err == nil {
		t.Fatal("expected superseded pending events cancelled")
	}

	active, err := f.svc.Active(ctx, f.convID)
	if err != nil || active.ID != second.ID {
		t.Fatalf("expected second SLA active, got %v %v", active, err)
	}
}

func TestAgentReplyMeetsFirstResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.policy(t, "2h", "1d", "")
	applied, _ := f.svc.Apply(ctx, f.convID, p.ID)
	f.svc.Attach(f.bus)

	f.bus.Publish(domain.Event{Type: domain.EventMessageSent, OccurredAt: time.Now().UTC(), Conversation: f.conv(t)})

	waitFor(t, func() bool {
		_, err := f.store.GetPendingSLAEvent(ctx, applied.ID, domain.SLAFirstResponse)
		return domain.IsKind(err, domain.KindNotFound)
	})
	e, err := f.store.GetPendingSLAEvent(ctx, applied.ID, domain.SLAResolution)
	if err != nil || e.Status != domain.SLAPending {
		t.Fatalf("resolution deadline must stay pending, got %v %v", e, err)
	}
}

func TestIncomingAfterReplyOpensNextResponseDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.policy(t, "2h", "1d", "4h")
	applied, _ := f.svc.Apply(ctx, f.convID, p.ID)
	f.svc.Attach(f.bus)

	// Customer message before any reply: first-response covers it, no
	// rolling deadline yet.
	f.bus.Publish(domain.Event{Type: domain.EventMessageReceived, OccurredAt: time.Now().UTC(), Conversation: f.conv(t)})
	time.Sleep(50 * time.Millisecond)
	if _, err := f.store.GetPendingSLAEvent(ctx, applied.ID, domain.SLANextResponse); err == nil {
		t.Fatal("expected no next-response deadline before the first reply")
	}

	// After an agent reply, the next customer message starts the clock.
	now := time.Now().UTC()
	f.store.UpdateConversationMessageTimestamps(ctx, f.convID, now, &now)
	f.bus.Publish(domain.Event{Type: domain.EventMessageReceived, OccurredAt: now, Conversation: f.conv(t)})

	waitFor(t, func() bool {
		_, err := f.store.GetPendingSLAEvent(ctx, applied.ID, domain.SLANextResponse)
		return err == nil
	})

	// Another customer message restarts the clock on the running deadline.
	e1, _ := f.store.GetPendingSLAEvent(ctx, applied.ID, domain.SLANextResponse)
	time.Sleep(10 * time.Millisecond)
	f.bus.Publish(domain.Event{Type: domain.EventMessageReceived, OccurredAt: time.Now().UTC(), Conversation: f.conv(t)})

	waitFor(t, func() bool {
		e2, err := f.store.GetPendingSLAEvent(ctx, applied.ID, domain.SLANextResponse)
		return err == nil && e2.Deadline.After(e1.Deadline)
	})
	e2, _ := f.store.GetPendingSLAEvent(ctx, applied.ID, domain.SLANextResponse)
	if e1.ID != e2.ID {
		t.Fatal("reset must move the pending deadline, not open a second one")
	}
}

func TestConversationCreatedAppliesTeamPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.policy(t, "2h", "1d", "")
	if err := f.store.CreateTeam(ctx, &domain.Team{ID: "team-1", Name: "Tier 1", SLAPolicyID: &p.ID}); err != nil {
		t.Fatalf("create team: %v", err)
	}
	f.svc.Attach(f.bus)

	conv := f.conv(t)
	teamID := "team-1"
	conv.AssignedTeamID = &teamID
	f.bus.Publish(domain.Event{Type: domain.EventConversationCreated, OccurredAt: time.Now().UTC(), Conversation: conv})

	waitFor(t, func() bool {
		_, err := f.svc.Active(ctx, f.convID)
		return err == nil
	})
	active, _ := f.svc.Active(ctx, f.convID)
	if active.PolicyID != p.ID {
		t.Fatalf("expected team policy %s applied, got %s", p.ID, active.PolicyID)
	}
}

func TestConversationCreatedAppliesDefaultPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.policy(t, "2h", "1d", "")
	f.store.PutSetting(ctx, domain.SettingDefaultSLAPolicy, p.ID)
	f.svc.Attach(f.bus)

	f.bus.Publish(domain.Event{Type: domain.EventConversationCreated, OccurredAt: time.Now().UTC(), Conversation: f.conv(t)})

	waitFor(t, func() bool {
		_, err := f.svc.Active(ctx, f.convID)
		return err == nil
	})
	active, _ := f.svc.Active(ctx, f.convID)
	if active.PolicyID != p.ID {
		t.Fatalf("expected default policy %s applied, got %s", p.ID, active.PolicyID)
	}
}

func TestConversationCreatedWithoutPolicyTracksNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.Attach(f.bus)

	f.bus.Publish(domain.Event{Type: domain.EventConversationCreated, OccurredAt: time.Now().UTC(), Conversation: f.conv(t)})
	time.Sleep(50 * time.Millisecond)

	if _, err := f.svc.Active(ctx, f.convID); !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected no applied sla, got %v", err)
	}
}

func TestResolutionMeetsDeadlines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.policy(t, "2h", "1d", "")
	applied, _ := f.svc.Apply(ctx, f.convID, p.ID)
	f.svc.Attach(f.bus)

	conv := f.conv(t)
	conv.Status = domain.ConversationResolved
	f.bus.Publish(domain.Event{Type: domain.EventConversationStatusChanged, OccurredAt: time.Now().UTC(), Conversation: conv})

	waitFor(t, func() bool {
		_, err := f.store.GetPendingSLAEvent(ctx, applied.ID, domain.SLAResolution)
		return domain.IsKind(err, domain.KindNotFound)
	})
}

func TestBusinessHoursDeadlineLandsOnBusinessDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutSetting(ctx, domain.SettingBusinessHoursMode, "true")
	p := f.policy(t, "", "5d", "")

	applied, err := f.svc.Apply(ctx, f.convID, p.ID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	d := applied.ResolutionDeadline
	if d == nil {
		t.Fatal("expected resolution deadline")
	}
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		t.Fatalf("deadline landed on a weekend: %v", d)
	}
	// Five business days always span at least one weekend.
	if d.Before(time.Now().Add(6 * 24 * time.Hour)) {
		t.Fatalf("expected weekend skip to push the deadline past 6 calendar days, got %v", d)
	}
}

func TestSweeperBreachesOverdueDeadlinesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var breached []domain.Event
	f.bus.Subscribe("recorder", func(_ context.Context, e domain.Event) {
		mu.Lock()
		breached = append(breached, e)
		mu.Unlock()
	}, domain.EventSLABreached)

	// An applied SLA whose first-response deadline already passed.
	applied := &domain.AppliedSLA{
		ID: "applied-1", ConversationID: f.convID, PolicyID: "policy-1",
		Status: domain.AppliedSLAActive, CreatedAt: time.Now().UTC(),
	}
	e := domain.SLAEvent{
		ID: "slae-1", AppliedSLAID: applied.ID, Type: domain.SLAFirstResponse,
		Deadline: time.Now().Add(-time.Minute), Status: domain.SLAPending,
	}
	if err := f.store.CreateAppliedSLA(ctx, applied, []domain.SLAEvent{e}); err != nil {
		t.Fatalf("seed applied sla: %v", err)
	}

	lock := distlock.NewLeaseLock(f.store, "sla-sweep", time.Minute)
	w := sla.NewSweeper(f.store, f.bus, lock, 10*time.Millisecond)
	w.Start(ctx)
	defer w.Stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(breached) == 1
	})

	got, _ := f.store.GetSLAEvent(ctx, e.ID)
	if got.Status != domain.SLABreachedEvt || got.BreachedAt == nil {
		t.Fatalf("expected breached, got %+v", got)
	}

	// Further sweeps must not re-publish.
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	n := len(breached)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly one breach event, got %d", n)
	}
	if breached[0].Payload["sla_event_type"] != string(domain.SLAFirstResponse) {
		t.Fatalf("unexpected payload %v", breached[0].Payload)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
