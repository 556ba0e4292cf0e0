package contact_test

import (
	"context"
	"testing"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/service/contact"
	"github.com/sgunadhya/oxidesk/internal/store/memory"
)

func seedInboxes(t *testing.T, st *memory.Store) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"inbox-1", "inbox-2"} {
		if err := st.CreateInbox(ctx, &domain.Inbox{ID: id, Name: id, ChannelType: domain.ChannelEmail}); err != nil {
			t.Fatalf("seed inbox: %v", err)
		}
	}
}

func TestResolveAutoProvisionsNewSender(t *testing.T) {
	st := memory.New()
	seedInboxes(t, st)
	svc := contact.New(st)
	ctx := context.Background()

	c, err := svc.Resolve(ctx, "inbox-1", "Jo@Example.Com", "Jo Doe")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.FirstName == nil || *c.FirstName != "Jo Doe" {
		t.Fatalf("expected display name captured, got %v", c.FirstName)
	}

	u, err := st.GetUserByEmail(ctx, "jo@example.com", domain.UserTypeContact)
	if err != nil {
		t.Fatalf("expected contact user provisioned: %v", err)
	}
	if u.ID != c.UserID {
		t.Fatalf("contact not linked to user: %s vs %s", u.ID, c.UserID)
	}
	if _, err := st.GetContactChannel(ctx, c.ID, "inbox-1"); err != nil {
		t.Fatalf("expected channel in inbox-1: %v", err)
	}
}

func TestResolveIsIdempotentPerInbox(t *testing.T) {
	st := memory.New()
	seedInboxes(t, st)
	svc := contact.New(st)
	ctx := context.Background()

	first, _ := svc.Resolve(ctx, "inbox-1", "jo@example.com", "")
	second, err := svc.Resolve(ctx, "inbox-1", "JO@example.com", "")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same contact, got %s and %s", first.ID, second.ID)
	}
}

func TestResolveReusesContactAcrossInboxes(t *testing.T) {
	st := memory.New()
	seedInboxes(t, st)
	svc := contact.New(st)
	ctx := context.Background()

	first, _ := svc.Resolve(ctx, "inbox-1", "jo@example.com", "Jo")
	second, err := svc.Resolve(ctx, "inbox-2", "jo@example.com", "")
	if err != nil {
		t.Fatalf("resolve in second inbox: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one contact across inboxes, got %s and %s", first.ID, second.ID)
	}
	if _, err := st.GetContactChannel(ctx, first.ID, "inbox-2"); err != nil {
		t.Fatalf("expected new channel in inbox-2: %v", err)
	}
}

func TestResolveRejectsEmptyEmail(t *testing.T) {
	st := memory.New()
	svc := contact.New(st)
	if _, err := svc.Resolve(context.Background(), "inbox-1", "  ", ""); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
