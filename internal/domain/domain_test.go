package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sgunadhya/oxidesk/internal/domain"
)

func TestConversationTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.ConversationStatus
		ok       bool
	}{
		{domain.ConversationOpen, domain.ConversationSnoozed, true},
		{domain.ConversationOpen, domain.ConversationResolved, true},
		{domain.ConversationOpen, domain.ConversationClosed, false},
		{domain.ConversationSnoozed, domain.ConversationOpen, true},
		{domain.ConversationSnoozed, domain.ConversationResolved, false},
		{domain.ConversationResolved, domain.ConversationOpen, true},
		{domain.ConversationResolved, domain.ConversationClosed, false},
		{domain.ConversationClosed, domain.ConversationOpen, false},
		{domain.ConversationClosed, domain.ConversationClosed, false},
		{domain.ConversationOpen, domain.ConversationOpen, true},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.ok {
			t.Errorf("%s -> %s = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"2h", 2 * time.Hour, false},
		{"30m", 30 * time.Minute, false},
		{"1d", 24 * time.Hour, false},
		{"1.5d", 36 * time.Hour, false},
		{"", 0, true},
		{"-1h", 0, true},
		{"0m", 0, true},
		{"soon", 0, true},
	}
	for _, c := range cases {
		got, err := domain.ParseDuration(c.in)
		if c.err {
			if err == nil {
				t.Errorf("ParseDuration(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDuration(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":       "report.pdf",
		"a/b\\c.txt":       "a_b_c.txt",
		`x:*?"<>|.png`:     "x_______.png",
		"clean name.png":   "clean name.png",
		"nul\x00byte.docx": "nul_byte.docx",
	}
	for in, want := range cases {
		if got := domain.SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAttachmentTypeAllowed(t *testing.T) {
	for _, ct := range []string{"application/pdf", "image/png", "text/plain", "Text/Plain; charset=utf-8"} {
		if !domain.AttachmentTypeAllowed(ct) {
			t.Errorf("expected %s allowed", ct)
		}
	}
	for _, ct := range []string{"application/x-msdownload", "text/html", ""} {
		if domain.AttachmentTypeAllowed(ct) {
			t.Errorf("expected %s rejected", ct)
		}
	}
}

func TestConditionValidate(t *testing.T) {
	ok := domain.Condition{
		Kind:      domain.CondSimple,
		Attribute: domain.AttrStatus,
		Op:        domain.OpEquals,
		Value:     json.RawMessage(`"open"`),
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid condition rejected: %v", err)
	}

	if err := (domain.Condition{
		Kind:      domain.CondSimple,
		Attribute: "mood",
		Op:        domain.OpEquals,
		Value:     json.RawMessage(`"grumpy"`),
	}).Validate(); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("unknown attribute should fail validation, got %v", err)
	}

	if err := (domain.Condition{
		Kind:       domain.CondAnd,
		Conditions: []domain.Condition{ok},
	}).Validate(); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("and with one child should fail validation, got %v", err)
	}

	not := domain.Condition{Kind: domain.CondNot, Conditions: []domain.Condition{ok}}
	if err := not.Validate(); err != nil {
		t.Errorf("not with one child should validate: %v", err)
	}
}

func TestDeliveryBackoffSchedule(t *testing.T) {
	want := []time.Duration{
		time.Minute, 5 * time.Minute, 30 * time.Minute, 2 * time.Hour, 12 * time.Hour,
	}
	if len(domain.DeliveryBackoff) != len(want) {
		t.Fatalf("schedule length %d, want %d", len(domain.DeliveryBackoff), len(want))
	}
	for i, d := range want {
		if domain.DeliveryBackoff[i] != d {
			t.Errorf("backoff[%d] = %v, want %v", i, domain.DeliveryBackoff[i], d)
		}
	}
}
