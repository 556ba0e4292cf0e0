// Package provider abstracts outbound email transport. Implementations
// classify failures: a fatal error means the message will never deliver
// (bad address, provider rejection), anything else is worth retrying.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// OutboundEmail is a fully composed reply ready for transport.
type OutboundEmail struct {
	FromName    string
	FromAddress string
	ToAddress   string
	Subject     string
	TextBody    string

	// InReplyTo and References thread the reply under the customer's
	// original email. Message-IDs without angle brackets.
	InReplyTo  string
	References []string
}

// Provider sends one email and returns the provider-side message id.
type Provider interface {
	Send(ctx context.Context, e *OutboundEmail) (providerID string, err error)
}

// Compose renders the RFC 5322 wire form of e and returns the raw bytes
// plus the generated Message-ID (without angle brackets).
func Compose(e *OutboundEmail) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Name: e.FromName, Address: e.FromAddress}})
	h.SetAddressList("To", []*mail.Address{{Address: e.ToAddress}})
	h.SetSubject(e.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("generate message id: %w", err)
	}
	msgID, err := h.MessageID()
	if err != nil {
		return nil, "", fmt.Errorf("read message id: %w", err)
	}
	if e.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{e.InReplyTo})
	}
	if len(e.References) > 0 {
		h.SetMsgIDList("References", e.References)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, e.TextBody); err != nil {
		w.Close()
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), msgID, nil
}
