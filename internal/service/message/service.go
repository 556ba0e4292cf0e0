package message

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/jobs"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// PermWrite lets an agent send messages in conversations not assigned to it.
const PermWrite = "messages:write"

// JobTypeSendMessage is the queue job type for outgoing delivery.
const JobTypeSendMessage = "send_message"

// mentionPattern matches @handle tokens. A handle is the local part of an
// agent's email address.
var mentionPattern = regexp.MustCompile(`(^|\s)@([a-zA-Z0-9._%+-]+)`)

// Pusher delivers a realtime notification to a connected agent. Delivery is
// best-effort; the durable row is already written when Push is called.
type Pusher interface {
	Push(userID string, n *domain.Notification)
}

// Service creates messages and drives their delivery status.
type Service struct {
	store  store.Store
	bus    *bus.Bus
	queue  *jobs.Queue
	pusher Pusher // optional
}

// New creates the message service. pusher may be nil.
func New(st store.Store, b *bus.Bus, q *jobs.Queue, pusher Pusher) *Service {
	return &Service{store: st, bus: b, queue: q, pusher: pusher}
}

// IncomingInput carries a message arriving from a channel (email ingest).
type IncomingInput struct {
	ConversationID string
	AuthorID       string // contact user id
	Content        string
	SourceID       *string
	Attachments    []domain.MessageAttachment
}

// CreateIncoming records a customer message. Incoming messages are received
// and immutable from birth. When SourceID matches an existing message in the
// conversation's inbox the existing message is returned unchanged, making
// ingest retries idempotent. Only lastMessageAt moves; lastReplyAt is an
// agent-reply timestamp.
func (s *Service) CreateIncoming(ctx context.Context, in IncomingInput) (*domain.Message, error) {
	conv, err := s.store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == domain.ConversationClosed {
		return nil, domain.Validationf("conversation %d is closed", conv.ReferenceNumber)
	}
	if in.SourceID != nil {
		if existing, err := s.store.GetMessageBySourceID(ctx, conv.InboxID, *in.SourceID); err == nil {
			return existing, nil
		} else if !domain.IsKind(err, domain.KindNotFound) {
			return nil, err
		}
	}
	if err := domain.ValidateContent(in.Content); err != nil {
		return nil, err
	}
	for i := range in.Attachments {
		if err := validateAttachment(&in.Attachments[i]); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	m := &domain.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Direction:      domain.DirectionIncoming,
		Status:         domain.MessageReceived,
		Content:        in.Content,
		AuthorID:       in.AuthorID,
		IsImmutable:    true,
		SourceID:       in.SourceID,
		InboxID:        conv.InboxID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i := range in.Attachments {
		in.Attachments[i].ID = uuid.New().String()
		in.Attachments[i].MessageID = m.ID
		in.Attachments[i].CreatedAt = now
	}
	if err := s.store.CreateMessageWithAttachments(ctx, m, in.Attachments); err != nil {
		return nil, err
	}
	if err := s.store.UpdateConversationMessageTimestamps(ctx, conv.ID, now, nil); err != nil {
		logger.Error("bump lastMessageAt failed", "conversation_id", conv.ID, "error", err)
	}

	s.publish(domain.EventMessageReceived, in.AuthorID, conv, m, nil)
	return m, nil
}

// SendInput carries an agent reply.
type SendInput struct {
	ConversationID string
	Content        string
}

// Send creates a pending outgoing message and enqueues its delivery. The
// actor must be the conversation's assigned user or hold messages:write.
// Mentioned agents (@handle) each get a durable mention notification, the
// author excepted.
func (s *Service) Send(ctx context.Context, actor domain.Principal, in SendInput) (*domain.Message, error) {
	conv, err := s.store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == domain.ConversationClosed {
		return nil, domain.Validationf("conversation %d is closed", conv.ReferenceNumber)
	}
	assigned := conv.AssignedUserID != nil && *conv.AssignedUserID == actor.UserID
	if !assigned && !actor.Can(PermWrite) {
		return nil, domain.Forbidden(PermWrite)
	}
	if err := domain.ValidateContent(in.Content); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m := &domain.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Direction:      domain.DirectionOutgoing,
		Status:         domain.MessagePending,
		Content:        in.Content,
		AuthorID:       actor.UserID,
		InboxID:        conv.InboxID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return nil, err
	}
	if err := s.store.UpdateConversationMessageTimestamps(ctx, conv.ID, now, &now); err != nil {
		logger.Error("bump reply timestamps failed", "conversation_id", conv.ID, "error", err)
	}
	if _, err := s.queue.EnqueueDedup(ctx, JobTypeSendMessage, m.ID, map[string]string{"message_id": m.ID}); err != nil {
		return nil, err
	}

	s.notifyMentions(ctx, actor.UserID, conv, m)
	return m, nil
}

// MarkSent completes delivery: pending -> sent, immutable, sentAt stamped.
// Publishes MessageSent. Safe to call once per delivery attempt; a message
// already sent is rejected by the store's immutability backstop.
func (s *Service) MarkSent(ctx context.Context, id string, providerID *string) error {
	m, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if m.Status.Terminal() {
		return domain.NewError(domain.KindImmutability, "message %s is %s and immutable", id, m.Status)
	}
	now := time.Now().UTC()
	if err := s.store.UpdateMessageStatus(ctx, id, domain.MessageSent, &now, providerID); err != nil {
		return err
	}
	m.Status = domain.MessageSent
	m.SentAt = &now
	m.ProviderID = providerID
	m.IsImmutable = true

	conv, err := s.store.GetConversation(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	s.publish(domain.EventMessageSent, m.AuthorID, conv, m, nil)
	return nil
}

// MarkFailed moves a pending message to failed after delivery gave up.
// Publishes MessageFailed with the terminal error text.
func (s *Service) MarkFailed(ctx context.Context, id string, reason string) error {
	m, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if m.Status.Terminal() {
		return domain.NewError(domain.KindImmutability, "message %s is %s and immutable", id, m.Status)
	}
	if err := s.store.UpdateMessageStatus(ctx, id, domain.MessageFailed, nil, nil); err != nil {
		return err
	}
	m.Status = domain.MessageFailed

	conv, err := s.store.GetConversation(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	s.publish(domain.EventMessageFailed, m.AuthorID, conv, m, map[string]any{"reason": reason})
	return nil
}

// Retry re-queues a failed message: failed -> pending plus a fresh delivery
// job. Any other status is rejected.
func (s *Service) Retry(ctx context.Context, actor domain.Principal, id string) (*domain.Message, error) {
	m, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MessageFailed {
		if m.Status.Terminal() {
			return nil, domain.NewError(domain.KindImmutability, "message %s is %s and immutable", id, m.Status)
		}
		return nil, domain.Validationf("only failed messages can be retried, message is %s", m.Status)
	}
	if err := s.store.UpdateMessageStatus(ctx, id, domain.MessagePending, nil, nil); err != nil {
		return nil, err
	}
	if err := s.store.IncrementMessageRetry(ctx, id); err != nil {
		return nil, err
	}
	if _, err := s.queue.EnqueueDedup(ctx, JobTypeSendMessage, m.ID, map[string]string{"message_id": m.ID}); err != nil {
		return nil, err
	}
	m.Status = domain.MessagePending
	m.RetryCount++
	return m, nil
}

// Get returns one message.
func (s *Service) Get(ctx context.Context, id string) (*domain.Message, error) {
	return s.store.GetMessage(ctx, id)
}

// List returns a page of a conversation's messages plus the full count.
func (s *Service) List(ctx context.Context, conversationID string, limit, offset int) ([]domain.Message, int, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, 0, err
	}
	return s.store.ListMessages(ctx, conversationID, limit, offset)
}

// Attachments returns a message's attachment records.
func (s *Service) Attachments(ctx context.Context, messageID string) ([]domain.MessageAttachment, error) {
	if _, err := s.store.GetMessage(ctx, messageID); err != nil {
		return nil, err
	}
	return s.store.ListMessageAttachments(ctx, messageID)
}

// GetAttachment returns one attachment record by id.
func (s *Service) GetAttachment(ctx context.Context, id string) (*domain.MessageAttachment, error) {
	return s.store.GetAttachmentByID(ctx, id)
}

// notifyMentions resolves @handles in one batched lookup and writes a
// mention notification per mentioned agent, skipping the author.
func (s *Service) notifyMentions(ctx context.Context, authorID string, conv *domain.Conversation, m *domain.Message) {
	handles := extractMentionHandles(m.Content)
	if len(handles) == 0 {
		return
	}
	users, err := s.store.FindAgentUsersByHandles(ctx, handles)
	if err != nil {
		logger.Error("mention lookup failed", "message_id", m.ID, "error", err)
		return
	}
	for _, u := range users {
		if u.ID == authorID {
			continue
		}
		n := &domain.Notification{
			ID:             uuid.New().String(),
			UserID:         u.ID,
			Type:           domain.NotificationMention,
			ConversationID: &conv.ID,
			MessageID:      &m.ID,
			ActorID:        &authorID,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.store.CreateNotification(ctx, n); err != nil {
			logger.Error("create mention notification failed", "user_id", u.ID, "error", err)
			continue
		}
		if s.pusher != nil {
			s.pusher.Push(u.ID, n)
		}
	}
}

func (s *Service) publish(t domain.EventType, actorID string, conv *domain.Conversation, m *domain.Message, payload map[string]any) {
	snapshot := *conv
	msg := *m
	s.bus.Publish(domain.Event{
		Type:         t,
		OccurredAt:   time.Now().UTC(),
		Conversation: &snapshot,
		Message:      &msg,
		ActorID:      actorID,
		Payload:      payload,
	})
}

func validateAttachment(a *domain.MessageAttachment) error {
	if !domain.AttachmentTypeAllowed(a.ContentType) {
		return domain.Validationf("attachment content type %q is not allowed", a.ContentType)
	}
	if a.FileSize > domain.MaxAttachmentSize {
		return domain.Validationf("attachment %s exceeds the 25 MiB limit", a.Filename)
	}
	a.Filename = domain.SanitizeFilename(a.Filename)
	return nil
}

// extractMentionHandles returns the unique, case-folded @handles in content.
func extractMentionHandles(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	var out []string
	seen := map[string]bool{}
	for _, m := range matches {
		h := strings.ToLower(m[2])
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}
