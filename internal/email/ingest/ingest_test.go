package ingest_test

import (
	"context"
	"strings"
	"testing"

	"github.com/sgunadhya/oxidesk/internal/blob"
	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/email/ingest"
	"github.com/sgunadhya/oxidesk/internal/jobs"
	"github.com/sgunadhya/oxidesk/internal/service/contact"
	"github.com/sgunadhya/oxidesk/internal/service/conversation"
	"github.com/sgunadhya/oxidesk/internal/service/message"
	"github.com/sgunadhya/oxidesk/internal/store/memory"
)

const multipartEmail = "Message-ID: <abc-123@customer.test>\r\n" +
	"From: Alice Adams <Alice@Customer.test>\r\n" +
	"To: support@example.com\r\n" +
	"Subject: Printer on fire\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=frontier\r\n" +
	"\r\n" +
	"--frontier\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"The printer caught fire again.\r\n" +
	"--frontier\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"\r\n" +
	"%PDF-1.4 fake\r\n" +
	"--frontier\r\n" +
	"Content-Type: application/x-msdownload\r\n" +
	"Content-Disposition: attachment; filename=\"virus.exe\"\r\n" +
	"\r\n" +
	"MZ\r\n" +
	"--frontier--\r\n"

const htmlOnlyEmail = "Message-ID: <html-1@customer.test>\r\n" +
	"From: bob@customer.test\r\n" +
	"To: support@example.com\r\n" +
	"Subject: Hello\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body><p>Help &amp; <b>thanks</b></p><style>p{}</style></body></html>\r\n"

func TestParseMultipart(t *testing.T) {
	pe, err := ingest.Parse(strings.NewReader(multipartEmail))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pe.MessageID != "abc-123@customer.test" {
		t.Fatalf("unexpected message id %q", pe.MessageID)
	}
	if pe.FromAddress != "Alice@Customer.test" || pe.FromName != "Alice Adams" {
		t.Fatalf("unexpected sender %q %q", pe.FromAddress, pe.FromName)
	}
	if pe.Text != "The printer caught fire again." {
		t.Fatalf("unexpected text %q", pe.Text)
	}
	if len(pe.Attachments) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(pe.Attachments))
	}
	if pe.Attachments[0].Filename != "report.pdf" || pe.Attachments[0].ContentType != "application/pdf" {
		t.Fatalf("unexpected attachment %+v", pe.Attachments[0])
	}
}

func TestParsePrefersPlainOverHTML(t *testing.T) {
	pe, err := ingest.Parse(strings.NewReader(htmlOnlyEmail))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pe.Text != "Help & thanks" {
		t.Fatalf("unexpected stripped text %q", pe.Text)
	}
}

func TestExtractReference(t *testing.T) {
	cases := map[string]int64{
		"Re: Printer on fire [#104]":  104,
		"RE: anything [REF#2041] fwd": 2041,
		"no tag here":                 0,
		"[#notanumber]":               0,
	}
	for subject, want := range cases {
		if got := ingest.ExtractReference(subject); got != want {
			t.Fatalf("subject %q: got %d, want %d", subject, got, want)
		}
	}
}

type fixture struct {
	store *memory.Store
	proc  *ingest.Processor
	bus   *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	b := bus.New()
	t.Cleanup(b.Close)
	q := jobs.NewQueue(st)
	blobs, err := blob.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("local blob store: %v", err)
	}
	convs := conversation.New(st, b)
	msgs := message.New(st, b, q, nil)
	contacts := contact.New(st)
	proc := ingest.NewProcessor(st, contacts, convs, msgs, blobs)

	if err := st.CreateInbox(context.Background(), &domain.Inbox{
		ID: "inbox-1", Name: "support", ChannelType: domain.ChannelEmail,
	}); err != nil {
		t.Fatalf("seed inbox: %v", err)
	}
	return &fixture{store: st, proc: proc, bus: b}
}

func parsed(t *testing.T, raw string) *ingest.ParsedEmail {
	t.Helper()
	pe, err := ingest.Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return pe
}

func TestProcessEmailOpensConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pe := parsed(t, multipartEmail)
	if err := f.proc.ProcessEmail(ctx, "inbox-1", pe); err != nil {
		t.Fatalf("process: %v", err)
	}

	logs, err := f.store.ListEmailLogs(ctx, "inbox-1", 10)
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected one log row: %v %d", err, len(logs))
	}
	if logs[0].Status != domain.EmailProcessed || logs[0].ConversationID == nil {
		t.Fatalf("unexpected log %+v", logs[0])
	}

	conv, err := f.store.GetConversation(ctx, *logs[0].ConversationID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.ReferenceNumber != domain.FirstReferenceNumber {
		t.Fatalf("unexpected reference %d", conv.ReferenceNumber)
	}
	if conv.Subject == nil || *conv.Subject != "Printer on fire" {
		t.Fatalf("unexpected subject %v", conv.Subject)
	}

	msgs, total, err := f.store.ListMessages(ctx, conv.ID, 10, 0)
	if err != nil || total != 1 {
		t.Fatalf("expected one message: %v %d", err, total)
	}
	m := msgs[0]
	if m.Status != domain.MessageReceived || !m.IsImmutable {
		t.Fatalf("unexpected message state %+v", m)
	}
	if m.SourceID == nil || *m.SourceID != "abc-123@customer.test" {
		t.Fatalf("unexpected source id %v", m.SourceID)
	}

	// The exe is dropped by the allow-list; only the pdf survives.
	atts, err := f.store.ListMessageAttachments(ctx, m.ID)
	if err != nil || len(atts) != 1 {
		t.Fatalf("expected one attachment: %v %d", err, len(atts))
	}
	if atts[0].Filename != "report.pdf" || atts[0].FileKey == "" {
		t.Fatalf("unexpected attachment %+v", atts[0])
	}

	// The sender was auto-provisioned with a channel in this inbox.
	c, err := f.store.GetContactByChannel(ctx, "inbox-1", "alice@customer.test")
	if err != nil {
		t.Fatalf("contact lookup: %v", err)
	}
	if c.FirstName == nil || *c.FirstName != "Alice Adams" {
		t.Fatalf("unexpected contact %+v", c)
	}
}

func TestProcessEmailDuplicateLogged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pe := parsed(t, multipartEmail)
	if err := f.proc.ProcessEmail(ctx, "inbox-1", pe); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if err := f.proc.ProcessEmail(ctx, "inbox-1", parsed(t, multipartEmail)); err != nil {
		t.Fatalf("second process: %v", err)
	}

	logs, _ := f.store.ListEmailLogs(ctx, "inbox-1", 10)
	if len(logs) != 2 {
		t.Fatalf("expected 2 log rows, got %d", len(logs))
	}
	var duplicates int
	for _, l := range logs {
		if l.Status == domain.EmailDuplicate {
			duplicates++
		}
	}
	if duplicates != 1 {
		t.Fatalf("expected one duplicate row, got %d", duplicates)
	}

	// Still exactly one conversation and one message.
	conv, err := f.store.GetConversationByReference(ctx, "inbox-1", domain.FirstReferenceNumber)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if _, total, _ := f.store.ListMessages(ctx, conv.ID, 10, 0); total != 1 {
		t.Fatalf("expected one message, got %d", total)
	}
}

func TestProcessEmailThreadsTaggedReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.proc.ProcessEmail(ctx, "inbox-1", parsed(t, multipartEmail)); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	reply := "Message-ID: <reply-1@customer.test>\r\n" +
		"From: alice@customer.test\r\n" +
		"To: support@example.com\r\n" +
		"Subject: Re: Printer on fire [#100]\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Still burning.\r\n"
	if err := f.proc.ProcessEmail(ctx, "inbox-1", parsed(t, reply)); err != nil {
		t.Fatalf("process reply: %v", err)
	}

	conv, err := f.store.GetConversationByReference(ctx, "inbox-1", domain.FirstReferenceNumber)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if _, total, _ := f.store.ListMessages(ctx, conv.ID, 10, 0); total != 2 {
		t.Fatalf("expected the reply threaded in, got %d messages", total)
	}
}

func TestProcessEmailBadRefOpensNewConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orphan := "Message-ID: <orphan-1@customer.test>\r\n" +
		"From: alice@customer.test\r\n" +
		"To: support@example.com\r\n" +
		"Subject: Re: old thread [#999]\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Hello?\r\n"
	if err := f.proc.ProcessEmail(ctx, "inbox-1", parsed(t, orphan)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := f.store.GetConversationByReference(ctx, "inbox-1", domain.FirstReferenceNumber); err != nil {
		t.Fatalf("expected a fresh conversation: %v", err)
	}
}

func TestProcessEmailEmptyBodyFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty := "Message-ID: <empty-1@customer.test>\r\n" +
		"From: alice@customer.test\r\n" +
		"To: support@example.com\r\n" +
		"Subject: nothing\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n"
	if err := f.proc.ProcessEmail(ctx, "inbox-1", parsed(t, empty)); err == nil {
		t.Fatal("expected an error for empty content")
	}

	logs, _ := f.store.ListEmailLogs(ctx, "inbox-1", 10)
	if len(logs) != 1 || logs[0].Status != domain.EmailFailed || logs[0].ErrorMessage == nil {
		t.Fatalf("expected a failed log row, got %+v", logs)
	}

	// The rejected email must not leave a conversation behind.
	if _, err := f.store.GetConversationByReference(ctx, "inbox-1", 100); !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected no conversation for the rejected email, got %v", err)
	}
}
