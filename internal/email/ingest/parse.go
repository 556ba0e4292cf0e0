package ingest

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// referencePattern matches the conversation tag our replies carry in the
// subject, in both the short and long forms.
var referencePattern = regexp.MustCompile(`\[(?:REF)?#(\d+)\]`)

// htmlTagPattern strips markup when an email has no text/plain part.
var htmlTagPattern = regexp.MustCompile(`(?s)<(?:script|style)[^>]*>.*?</(?:script|style)>|<[^>]*>`)

// ParsedEmail is the transport-independent form of one inbound email.
type ParsedEmail struct {
	MessageID   string // RFC 5322 Message-ID, no angle brackets
	FromAddress string
	FromName    string
	Subject     string
	Text        string
	Attachments []ParsedAttachment
}

// ParsedAttachment carries one decoded attachment body.
type ParsedAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Parse decodes an RFC 5322 message. The text/plain part wins; when only
// HTML is present the markup is stripped.
func Parse(r io.Reader) (*ParsedEmail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("read email: %w", err)
	}

	pe := &ParsedEmail{}
	pe.MessageID, _ = mr.Header.MessageID()
	pe.Subject, _ = mr.Header.Subject()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		pe.FromAddress = from[0].Address
		pe.FromName = from[0].Name
	}
	if pe.FromAddress == "" {
		return nil, fmt.Errorf("email has no From address")
	}

	var html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read email part: %w", err)
		}
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("read email body: %w", err)
			}
			switch ct {
			case "text/plain":
				if pe.Text == "" {
					pe.Text = string(body)
				}
			case "text/html":
				if html == "" {
					html = string(body)
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			ct, _, _ := h.ContentType()
			data, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("read attachment: %w", err)
			}
			pe.Attachments = append(pe.Attachments, ParsedAttachment{
				Filename:    filename,
				ContentType: ct,
				Data:        data,
			})
		}
	}

	if pe.Text == "" && html != "" {
		pe.Text = StripHTML(html)
	}
	pe.Text = strings.TrimSpace(pe.Text)
	return pe, nil
}

// StripHTML reduces an HTML body to readable text.
func StripHTML(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")
	return strings.Join(strings.Fields(s), " ")
}

// ExtractReference pulls the conversation reference number out of a subject
// line. Returns 0 when no tag is present.
func ExtractReference(subject string) int64 {
	m := referencePattern.FindStringSubmatch(subject)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
