// Package deliver executes send_message jobs: it composes the outbound
// reply for a pending message and hands it to the inbox's email provider.
// Delivery is at-least-once; a message no longer pending is skipped.
package deliver

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/email/provider"
	"github.com/sgunadhya/oxidesk/internal/jobs"
	"github.com/sgunadhya/oxidesk/internal/pkg/crypto"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/service/message"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// subjectNoise strips reply prefixes and any stale conversation tag before
// the canonical subject is rebuilt.
var subjectNoise = regexp.MustCompile(`(?i)^(?:\s*(?:re|fwd?):\s*)+|\[(?:REF)?#\d+\]`)

// Deliverer is the send_message job handler.
type Deliverer struct {
	store  store.Store
	msgs   *message.Service
	sealer *crypto.Sealer

	// override replaces the per-inbox SMTP provider when set (SES
	// deployments, tests).
	override provider.Provider
}

// New creates the deliverer. override may be nil, in which case each inbox
// sends through its own SMTP configuration.
func New(st store.Store, msgs *message.Service, sealer *crypto.Sealer, override provider.Provider) *Deliverer {
	return &Deliverer{store: st, msgs: msgs, sealer: sealer, override: override}
}

// Register wires the handler into the runner.
func (d *Deliverer) Register(r *jobs.Runner) {
	r.Register(message.JobTypeSendMessage, d.Handle)
}

type sendPayload struct {
	MessageID string `json:"message_id"`
}

// Handle delivers one message. A transient provider failure requeues the
// job and bumps the message retry counter; a fatal failure, or exhausting
// the job's attempts, marks the message failed.
func (d *Deliverer) Handle(ctx context.Context, j *domain.Job) error {
	var p sendPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return fmt.Errorf("decode send payload: %w", err)
	}

	m, err := d.store.GetMessage(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if m.Status != domain.MessagePending {
		return nil
	}

	out, prov, err := d.prepare(ctx, m)
	if err != nil {
		// Missing config or contact channel will not fix itself by retrying;
		// a flaky store read goes back to the queue for another attempt.
		if !prepFatal(err) && j.Attempts < j.MaxAttempts {
			return err
		}
		if markErr := d.msgs.MarkFailed(ctx, m.ID, err.Error()); markErr != nil {
			logger.Error("mark message failed", "message_id", m.ID, "error", markErr)
		}
		return nil
	}

	providerID, err := prov.Send(ctx, out)
	if err == nil {
		var pid *string
		if providerID != "" {
			pid = &providerID
		}
		return d.msgs.MarkSent(ctx, m.ID, pid)
	}

	if domain.IsKind(err, domain.KindFatal) || j.Attempts >= j.MaxAttempts {
		if markErr := d.msgs.MarkFailed(ctx, m.ID, err.Error()); markErr != nil {
			logger.Error("mark message failed", "message_id", m.ID, "error", markErr)
		}
		return nil
	}
	if incErr := d.store.IncrementMessageRetry(ctx, m.ID); incErr != nil {
		logger.Error("bump message retry failed", "message_id", m.ID, "error", incErr)
	}
	return err
}

// prepFatal reports whether a prepare error is permanent for this message.
func prepFatal(err error) bool {
	return domain.IsKind(err, domain.KindNotFound) ||
		domain.IsKind(err, domain.KindValidation) ||
		domain.IsKind(err, domain.KindFatal)
}

// prepare resolves everything a send needs: recipient channel, sender
// identity, canonical subject, and threading headers.
func (d *Deliverer) prepare(ctx context.Context, m *domain.Message) (*provider.OutboundEmail, provider.Provider, error) {
	conv, err := d.store.GetConversation(ctx, m.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	contact, err := d.store.GetContact(ctx, conv.ContactID)
	if err != nil {
		return nil, nil, err
	}
	channel, err := d.store.GetContactChannel(ctx, contact.ID, conv.InboxID)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := d.store.GetInboxConfig(ctx, conv.InboxID)
	if err != nil {
		return nil, nil, err
	}

	out := &provider.OutboundEmail{
		FromName:    cfg.FromName,
		FromAddress: cfg.FromAddress,
		ToAddress:   channel.Email,
		Subject:     ReplySubject(conv.Subject, conv.ReferenceNumber),
		TextBody:    m.Content,
	}
	if origin := d.threadOrigin(ctx, conv.ID, m.ID); origin != "" {
		out.InReplyTo = origin
		out.References = []string{origin}
	}

	if d.override != nil {
		return out, d.override, nil
	}
	if cfg.SMTPHost == "" {
		return nil, nil, domain.Validationf("inbox %s has no smtp configuration", conv.InboxID)
	}
	password, err := d.sealer.Open(cfg.SMTPPasswordEnc)
	if err != nil {
		return nil, nil, domain.WrapError(domain.KindFatal, err, "decrypt smtp password")
	}
	return out, provider.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, password), nil
}

// threadOrigin returns the Message-ID of the latest incoming email in the
// conversation, or "" when the thread started on another channel.
func (d *Deliverer) threadOrigin(ctx context.Context, conversationID, excludeID string) string {
	msgs, _, err := d.store.ListMessages(ctx, conversationID, 500, 0)
	if err != nil {
		logger.Error("list messages for threading failed", "conversation_id", conversationID, "error", err)
		return ""
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.ID == excludeID || m.Direction != domain.DirectionIncoming || m.SourceID == nil {
			continue
		}
		return *m.SourceID
	}
	return ""
}

// ReplySubject builds the canonical reply subject: reply prefixes and stale
// tags removed, one "Re:" and the conversation tag appended.
func ReplySubject(subject *string, ref int64) string {
	base := ""
	if subject != nil {
		base = strings.TrimSpace(subjectNoise.ReplaceAllString(*subject, ""))
	}
	if base == "" {
		base = "your request"
	}
	return fmt.Sprintf("Re: %s [#%d]", base, ref)
}
