package ingest

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sgunadhya/oxidesk/internal/blob"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/service/contact"
	"github.com/sgunadhya/oxidesk/internal/service/conversation"
	"github.com/sgunadhya/oxidesk/internal/service/message"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// Processor maps one parsed email onto the conversation model.
type Processor struct {
	store    store.Store
	contacts *contact.Service
	convs    *conversation.Service
	msgs     *message.Service
	blobs    blob.Store
}

// NewProcessor creates the ingest pipeline.
func NewProcessor(st store.Store, contacts *contact.Service, convs *conversation.Service, msgs *message.Service, blobs blob.Store) *Processor {
	return &Processor{store: st, contacts: contacts, convs: convs, msgs: msgs, blobs: blobs}
}

// ProcessEmail ingests one email into the inbox. Every attempt leaves a
// processing log row; a (inbox, Message-ID) pair already ingested is logged
// as a duplicate and otherwise ignored.
func (p *Processor) ProcessEmail(ctx context.Context, inboxID string, pe *ParsedEmail) error {
	if pe.MessageID != "" {
		seen, err := p.store.HasSuccessfulEmailLog(ctx, inboxID, pe.MessageID)
		if err != nil {
			return err
		}
		if seen {
			p.log(ctx, inboxID, pe.MessageID, domain.EmailDuplicate, nil, nil)
			return nil
		}
	}

	convID, err := p.ingest(ctx, inboxID, pe)
	if err != nil {
		msg := err.Error()
		p.log(ctx, inboxID, pe.MessageID, domain.EmailFailed, nil, &msg)
		return err
	}
	p.log(ctx, inboxID, pe.MessageID, domain.EmailProcessed, &convID, nil)
	return nil
}

func (p *Processor) ingest(ctx context.Context, inboxID string, pe *ParsedEmail) (string, error) {
	// Reject unusable bodies before touching the conversation model, so a
	// bad email never leaves an empty conversation behind.
	if err := domain.ValidateContent(pe.Text); err != nil {
		return "", err
	}

	c, err := p.contacts.Resolve(ctx, inboxID, pe.FromAddress, pe.FromName)
	if err != nil {
		return "", err
	}

	conv, err := p.resolveConversation(ctx, inboxID, c.ID, pe.Subject)
	if err != nil {
		return "", err
	}

	atts, err := p.storeAttachments(ctx, pe)
	if err != nil {
		return "", err
	}

	in := message.IncomingInput{
		ConversationID: conv.ID,
		AuthorID:       c.UserID,
		Content:        pe.Text,
		Attachments:    atts,
	}
	if pe.MessageID != "" {
		id := pe.MessageID
		in.SourceID = &id
	}
	if _, err := p.msgs.CreateIncoming(ctx, in); err != nil {
		return "", err
	}
	return conv.ID, nil
}

// resolveConversation threads a tagged reply into its conversation; replies
// to closed or missing conversations and untagged mail open a new one.
func (p *Processor) resolveConversation(ctx context.Context, inboxID, contactID, subject string) (*domain.Conversation, error) {
	if ref := ExtractReference(subject); ref > 0 {
		conv, err := p.store.GetConversationByReference(ctx, inboxID, ref)
		if err == nil && conv.Status != domain.ConversationClosed {
			return conv, nil
		}
		if err != nil && !domain.IsKind(err, domain.KindNotFound) {
			return nil, err
		}
	}
	in := conversation.CreateInput{InboxID: inboxID, ContactID: contactID}
	if s := subject; s != "" {
		in.Subject = &s
	}
	return p.convs.Create(ctx, domain.SystemPrincipal(), in)
}

// storeAttachments uploads allowed attachments and returns their metadata
// rows. Disallowed or oversized files are skipped with a log line, not a
// failure.
func (p *Processor) storeAttachments(ctx context.Context, pe *ParsedEmail) ([]domain.MessageAttachment, error) {
	var out []domain.MessageAttachment
	for _, a := range pe.Attachments {
		if !domain.AttachmentTypeAllowed(a.ContentType) {
			logger.Warn("attachment skipped, content type not allowed",
				"filename", a.Filename, "content_type", a.ContentType)
			continue
		}
		if int64(len(a.Data)) > domain.MaxAttachmentSize {
			logger.Warn("attachment skipped, exceeds size cap",
				"filename", a.Filename, "size", len(a.Data))
			continue
		}
		// The message id is not known yet; keys are grouped by a fresh id and
		// remain valid because keys are opaque.
		key := blob.AttachmentKey(uuid.New().String(), a.Filename)
		if err := p.blobs.Put(ctx, key, a.ContentType, bytes.NewReader(a.Data)); err != nil {
			return nil, err
		}
		out = append(out, domain.MessageAttachment{
			Filename:    domain.SanitizeFilename(a.Filename),
			ContentType: a.ContentType,
			FileSize:    int64(len(a.Data)),
			FileKey:     key,
		})
	}
	return out, nil
}

func (p *Processor) log(ctx context.Context, inboxID, messageID string, status domain.EmailProcessingStatus, convID *string, errMsg *string) {
	l := &domain.EmailProcessingLog{
		ID:             uuid.New().String(),
		InboxID:        inboxID,
		MessageID:      messageID,
		Status:         status,
		ConversationID: convID,
		ErrorMessage:   errMsg,
		ProcessedAt:    time.Now().UTC(),
	}
	if err := p.store.AppendEmailLog(ctx, l); err != nil {
		logger.Error("append email log failed", "inbox_id", inboxID, "message_id", messageID, "error", err)
	}
}
