package message_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/jobs"
	"github.com/sgunadhya/oxidesk/internal/service/message"
	"github.com/sgunadhya/oxidesk/internal/store/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) handle(_ context.Context, e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	store *memory.Store
	svc   *message.Service
	rec   *recorder

	convID    string
	contactID string // contact user id
	agentA    string
	agentB    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	b := bus.New()
	rec := &recorder{}
	b.Subscribe("recorder", rec.handle)
	t.Cleanup(b.Close)

	ctx := context.Background()
	f := &fixture{store: st, rec: rec, svc: message.New(st, b, jobs.NewQueue(st), nil)}

	st.CreateInbox(ctx, &domain.Inbox{ID: "inbox-1", Name: "Support", ChannelType: domain.ChannelEmail})
	cu := &domain.User{ID: "user-c", Email: "jo@example.com", Type: domain.UserTypeContact}
	if err := st.CreateContactWithChannel(ctx, cu,
		&domain.Contact{ID: "contact-1", UserID: cu.ID},
		&domain.ContactChannel{ID: "ch-1", ContactID: "contact-1", InboxID: "inbox-1", Email: cu.Email}); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	f.contactID = cu.ID

	for _, a := range []struct{ user, email string }{
		{"user-a", "alice@oxidesk.test"},
		{"user-b", "bob@oxidesk.test"},
	} {
		st.CreateUser(ctx, &domain.User{ID: a.user, Email: a.email, Type: domain.UserTypeAgent})
		st.CreateAgent(ctx, &domain.Agent{ID: "agent-" + a.user, UserID: a.user, FirstName: a.user, Availability: domain.AvailabilityOnline})
	}
	f.agentA, f.agentB = "user-a", "user-b"

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID: "conv-1", ReferenceNumber: 100, Status: domain.ConversationOpen,
		InboxID: "inbox-1", ContactID: "contact-1", Version: 1,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := st.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	f.convID = conv.ID
	return f
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

func TestCreateIncoming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	src := "<msg-1@example.com>"
	m, err := f.svc.CreateIncoming(ctx, message.IncomingInput{
		ConversationID: f.convID, AuthorID: f.contactID,
		Content: "hello, my invoice is wrong", SourceID: &src,
	})
	if err != nil {
		t.Fatalf("create incoming: %v", err)
	}
	if m.Status != domain.MessageReceived || !m.IsImmutable {
		t.Fatalf("expected received+immutable, got %s immutable=%v", m.Status, m.IsImmutable)
	}

	conv, _ := f.store.GetConversation(ctx, f.convID)
	if conv.LastMessageAt == nil {
		t.Fatal("expected lastMessageAt set")
	}
	if conv.LastReplyAt != nil {
		t.Fatal("incoming must not touch lastReplyAt")
	}
	waitFor(t, func() bool { return f.rec.count(domain.EventMessageReceived) == 1 })
}

func TestCreateIncomingDedupBySourceID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	src := "<msg-1@example.com>"
	in := message.IncomingInput{ConversationID: f.convID, AuthorID: f.contactID, Content: "hi", SourceID: &src}
	first, err := f.svc.CreateIncoming(ctx, in)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.svc.CreateIncoming(ctx, in)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected dedup to return the original message, got %s and %s", first.ID, second.ID)
	}
	_, total, _ := f.store.ListMessages(ctx, f.convID, 50, 0)
	if total != 1 {
		t.Fatalf("expected 1 message, got %d", total)
	}
}

func TestCreateIncomingRejectsClosedConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	closed := &domain.Conversation{
		ID: "conv-closed", ReferenceNumber: 101, Status: domain.ConversationClosed,
		InboxID: "inbox-1", ContactID: "contact-1", Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	f.store.CreateConversation(ctx, closed)

	_, err := f.svc.CreateIncoming(ctx, message.IncomingInput{
		ConversationID: closed.ID, AuthorID: f.contactID, Content: "hi",
	})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestContentBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateIncoming(ctx, message.IncomingInput{
		ConversationID: f.convID, AuthorID: f.contactID, Content: "",
	})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation for empty content, got %v", err)
	}

	_, err = f.svc.CreateIncoming(ctx, message.IncomingInput{
		ConversationID: f.convID, AuthorID: f.contactID,
		Content: strings.Repeat("x", domain.MaxContentLength+1),
	})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation for oversized content, got %v", err)
	}
}

func TestAttachmentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateIncoming(ctx, message.IncomingInput{
		ConversationID: f.convID, AuthorID: f.contactID, Content: "see attached",
		Attachments: []domain.MessageAttachment{
			{Filename: "run.exe", ContentType: "application/x-msdownload", FileSize: 100},
		},
	})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation for disallowed type, got %v", err)
	}

	_, err = f.svc.CreateIncoming(ctx, message.IncomingInput{
		ConversationID: f.convID, AuthorID: f.contactID, Content: "see attached",
		Attachments: []domain.MessageAttachment{
			{Filename: "big.pdf", ContentType: "application/pdf", FileSize: domain.MaxAttachmentSize + 1},
		},
	})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation for oversized attachment, got %v", err)
	}

	m, err := f.svc.CreateIncoming(ctx, message.IncomingInput{
		ConversationID: f.convID, AuthorID: f.contactID, Content: "see attached",
		Attachments: []domain.MessageAttachment{
			{Filename: "a/b:c.pdf", ContentType: "application/pdf", FileSize: 1024, FileKey: "k"},
		},
	})
	if err != nil {
		t.Fatalf("valid attachment rejected: %v", err)
	}
	atts, err := f.svc.Attachments(ctx, m.ID)
	if err != nil || len(atts) != 1 {
		t.Fatalf("attachments: %v %v", atts, err)
	}
	if atts[0].Filename != "a_b_c.pdf" {
		t.Fatalf("expected sanitized filename, got %q", atts[0].Filename)
	}
}

func TestSendRequiresAssignmentOrPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := message.SendInput{ConversationID: f.convID, Content: "on it"}
	_, err := f.svc.Send(ctx, domain.Principal{UserID: f.agentA, Permissions: domain.NewPermissionSet()}, in)
	if !domain.IsKind(err, domain.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// With messages:write the unassigned agent may reply.
	if _, err := f.svc.Send(ctx, domain.Principal{UserID: f.agentA, Permissions: domain.NewPermissionSet(message.PermWrite)}, in); err != nil {
		t.Fatalf("send with permission: %v", err)
	}

	// The assigned agent needs no extra permission.
	conv, _ := f.store.GetConversation(ctx, f.convID)
	conv.AssignedUserID = &f.agentB
	if err := f.store.UpdateConversation(ctx, conv); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := f.svc.Send(ctx, domain.Principal{UserID: f.agentB, Permissions: domain.NewPermissionSet()}, in); err != nil {
		t.Fatalf("send as assignee: %v", err)
	}
}

func TestSendEnqueuesDeliveryAndBumpsReplyTimestamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.Send(ctx, domain.Principal{UserID: f.agentA, Permissions: domain.NewPermissionSet(message.PermWrite)},
		message.SendInput{ConversationID: f.convID, Content: "looking into it"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m.Status != domain.MessagePending || m.Direction != domain.DirectionOutgoing {
		t.Fatalf("expected pending outgoing, got %s %s", m.Status, m.Direction)
	}

	conv, _ := f.store.GetConversation(ctx, f.convID)
	if conv.LastReplyAt == nil || conv.LastMessageAt == nil {
		t.Fatal("expected both message timestamps set")
	}

	now := time.Now()
	j, err := f.store.FetchNextJob(ctx, now, now.Add(domain.JobLeaseDuration))
	if err != nil || j == nil {
		t.Fatalf("expected a queued job: %v %v", j, err)
	}
	if j.JobType != message.JobTypeSendMessage {
		t.Fatalf("expected send_message job, got %s", j.JobType)
	}
}

func TestMentionsNotifyAgentsSkippingSelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, domain.Principal{UserID: f.agentA, Permissions: domain.NewPermissionSet(message.PermWrite)},
		message.SendInput{ConversationID: f.convID, Content: "@bob can you check? cc @alice @bob"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// bob is mentioned twice but gets one notification; alice authored the
	// message so her self-mention is skipped.
	ns, total, err := f.store.ListNotifications(ctx, f.agentB, false, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || ns[0].Type != domain.NotificationMention {
		t.Fatalf("expected one mention for bob, got %d", total)
	}
	if _, total, _ = f.store.ListNotifications(ctx, f.agentA, false, 10, 0); total != 0 {
		t.Fatalf("expected no self-mention notification, got %d", total)
	}
}

func TestMarkSentIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, _ := f.svc.Send(ctx, domain.Principal{UserID: f.agentA, Permissions: domain.NewPermissionSet(message.PermWrite)},
		message.SendInput{ConversationID: f.convID, Content: "done"})

	provider := "smtp-123"
	if err := f.svc.MarkSent(ctx, m.ID, &provider); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	got, _ := f.svc.Get(ctx, m.ID)
	if got.Status != domain.MessageSent || !got.IsImmutable || got.SentAt == nil {
		t.Fatalf("expected sent+immutable with sentAt, got %+v", got)
	}

	if err := f.svc.MarkSent(ctx, m.ID, &provider); !domain.IsKind(err, domain.KindImmutability) {
		t.Fatalf("expected immutability error on double send, got %v", err)
	}
	waitFor(t, func() bool { return f.rec.count(domain.EventMessageSent) == 1 })
}

func TestRetryOnlyFromFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := domain.Principal{UserID: f.agentA, Permissions: domain.NewPermissionSet(message.PermWrite)}

	m, _ := f.svc.Send(ctx, actor, message.SendInput{ConversationID: f.convID, Content: "flaky"})
	if _, err := f.svc.Retry(ctx, actor, m.ID); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation retrying a pending message, got %v", err)
	}

	if err := f.svc.MarkFailed(ctx, m.ID, "smtp timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, err := f.svc.Retry(ctx, actor, m.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.Status != domain.MessagePending || got.RetryCount != 1 {
		t.Fatalf("expected pending with retry_count 1, got %s %d", got.Status, got.RetryCount)
	}
	waitFor(t, func() bool { return f.rec.count(domain.EventMessageFailed) == 1 })
}
