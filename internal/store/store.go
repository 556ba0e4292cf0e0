// Package store defines the storage port the core depends on. Each method
// is transactional on its own effects; multi-entity atomic operations are
// exposed as named operations. The port is record-oriented, not ORM-shaped.
//
// Conditional updates take the entity's version and return
// domain.ErrOptimisticConflict on a stale write; engines retry internally
// before surfacing the conflict.
package store

import (
	"context"
	"time"

	"github.com/sgunadhya/oxidesk/internal/domain"
)

// Store is the single persistence interface for the core. Implementations
// must be safe for concurrent use.
type Store interface {
	UserStore
	ContactStore
	InboxStore
	ConversationStore
	MessageStore
	RuleStore
	SLAStore
	WebhookStore
	JobStore
	LockStore
	NotificationStore
	EmailLogStore
	SettingStore
	TeamStore
	SessionStore
}

// UserStore persists users and agents.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	// GetUserByEmail looks up by case-folded email and type.
	GetUserByEmail(ctx context.Context, email string, typ domain.UserType) (*domain.User, error)
	// SoftDeleteUser marks the user deleted and cascades to the owned
	// agent or contact record.
	SoftDeleteUser(ctx context.Context, id, deletedBy string) error

	CreateAgent(ctx context.Context, a *domain.Agent) error
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	GetAgentByUserID(ctx context.Context, userID string) (*domain.Agent, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	// FindAgentUsersByHandles resolves @mention handles (the local part of
	// the agent's email, case-insensitive) in one batched lookup.
	FindAgentUsersByHandles(ctx context.Context, handles []string) ([]domain.User, error)
	UpdateAgentAvailability(ctx context.Context, agentID string, a domain.Availability, awaySince *time.Time) error
	UpdateAgentActivity(ctx context.Context, agentID string, at time.Time) error
	UpdateAgentLogin(ctx context.Context, agentID string, at time.Time) error
	// ListIdleOnlineAgents returns online agents whose lastActivityAt is
	// before the cutoff.
	ListIdleOnlineAgents(ctx context.Context, cutoff time.Time) ([]domain.Agent, error)
	// ListOverdueAwayAgents returns agents in plain away whose awaySince is
	// before the cutoff.
	ListOverdueAwayAgents(ctx context.Context, cutoff time.Time) ([]domain.Agent, error)
	// ResetPasswordAtomic swaps the password hash and revokes every session
	// of the user in one transaction.
	ResetPasswordAtomic(ctx context.Context, userID, newHash string) error
}

// ContactStore persists contacts and their per-inbox channels.
type ContactStore interface {
	GetContact(ctx context.Context, id string) (*domain.Contact, error)
	GetContactByUserID(ctx context.Context, userID string) (*domain.Contact, error)
	// GetContactByChannel resolves a sender address within an inbox.
	GetContactByChannel(ctx context.Context, inboxID, email string) (*domain.Contact, error)
	// GetContactChannel returns the contact's channel in the given inbox.
	GetContactChannel(ctx context.Context, contactID, inboxID string) (*domain.ContactChannel, error)
	// CreateContactWithChannel provisions user, contact, and channel in a
	// single transaction (email-ingest auto-provision).
	CreateContactWithChannel(ctx context.Context, u *domain.User, c *domain.Contact, ch *domain.ContactChannel) error
	// CreateContactChannel adds a channel to an existing contact (a known
	// sender appearing in a new inbox).
	CreateContactChannel(ctx context.Context, ch *domain.ContactChannel) error
}

// InboxStore persists inboxes and their transport configuration.
type InboxStore interface {
	CreateInbox(ctx context.Context, in *domain.Inbox) error
	GetInbox(ctx context.Context, id string) (*domain.Inbox, error)
	ListInboxes(ctx context.Context) ([]domain.Inbox, error)
	GetInboxConfig(ctx context.Context, inboxID string) (*domain.InboxConfig, error)
	PutInboxConfig(ctx context.Context, cfg *domain.InboxConfig) error
	ListInboxConfigs(ctx context.Context) ([]domain.InboxConfig, error)
	// UpdateInboxCursor advances the ingest cursor after a poll.
	UpdateInboxCursor(ctx context.Context, inboxID string, lastPollAt time.Time, lastUID uint32) error
}

// ConversationStore persists conversations and assignment history.
type ConversationStore interface {
	// NextReferenceNumber returns the next globally monotonic reference
	// number, starting at domain.FirstReferenceNumber.
	NextReferenceNumber(ctx context.Context) (int64, error)
	CreateConversation(ctx context.Context, c *domain.Conversation) error
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	GetConversationByReference(ctx context.Context, inboxID string, ref int64) (*domain.Conversation, error)
	// UpdateConversation writes c conditionally on c.Version matching the
	// stored row, then increments the version. Returns
	// domain.ErrOptimisticConflict on a stale write.
	UpdateConversation(ctx context.Context, c *domain.Conversation) error
	// ReplaceConversationTags writes the tag set in one call, conditional
	// on version.
	ReplaceConversationTags(ctx context.Context, id string, version int64, tags []string) error
	// UpdateConversationMessageTimestamps bumps lastMessageAt and, when
	// non-nil, lastReplyAt without a version change (message-path writes
	// must not conflict with concurrent agent edits).
	UpdateConversationMessageTimestamps(ctx context.Context, id string, lastMessageAt time.Time, lastReplyAt *time.Time) error
	ListConversationsAssignedToUser(ctx context.Context, userID string, statuses []domain.ConversationStatus) ([]domain.Conversation, error)
	AppendAssignmentHistory(ctx context.Context, h *domain.AssignmentHistory) error
	ListAssignmentHistory(ctx context.Context, conversationID string) ([]domain.AssignmentHistory, error)
}

// MessageStore persists messages and attachments.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *domain.Message) error
	// CreateMessageWithAttachments creates the message and its attachment
	// rows in a single transaction (ingest path).
	CreateMessageWithAttachments(ctx context.Context, m *domain.Message, atts []domain.MessageAttachment) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	GetMessageBySourceID(ctx context.Context, inboxID, sourceID string) (*domain.Message, error)
	// ListMessages returns a page plus the full count.
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domain.Message, int, error)
	// UpdateMessageStatus transitions a message. Implementations reject
	// writes to terminal (received/sent) messages with an Immutability
	// error; the engine checks first, the store is the backstop.
	UpdateMessageStatus(ctx context.Context, id string, status domain.MessageStatus, sentAt *time.Time, providerID *string) error
	IncrementMessageRetry(ctx context.Context, id string) error
	ListMessageAttachments(ctx context.Context, messageID string) ([]domain.MessageAttachment, error)
	GetAttachmentByID(ctx context.Context, id string) (*domain.MessageAttachment, error)
	DeleteAttachment(ctx context.Context, id string) error
}

// RuleStore persists automation rules and their evaluation audit log.
type RuleStore interface {
	CreateRule(ctx context.Context, r *domain.AutomationRule) error
	GetRule(ctx context.Context, id string) (*domain.AutomationRule, error)
	UpdateRule(ctx context.Context, r *domain.AutomationRule) error
	// ListEnabledRulesByEvent returns enabled rules subscribed to the event
	// type, ordered by priority descending.
	ListEnabledRulesByEvent(ctx context.Context, t domain.EventType) ([]domain.AutomationRule, error)
	AppendRuleEvaluationLog(ctx context.Context, l *domain.RuleEvaluationLog) error
	ListRuleEvaluationLogs(ctx context.Context, ruleID string, limit int) ([]domain.RuleEvaluationLog, error)
}

// SLAStore persists policies, applied SLAs, and tracked deadlines.
type SLAStore interface {
	CreateSLAPolicy(ctx context.Context, p *domain.SLAPolicy) error
	GetSLAPolicy(ctx context.Context, id string) (*domain.SLAPolicy, error)
	// CreateAppliedSLA writes the applied SLA and its pending events in one
	// transaction.
	CreateAppliedSLA(ctx context.Context, a *domain.AppliedSLA, events []domain.SLAEvent) error
	GetActiveAppliedSLA(ctx context.Context, conversationID string) (*domain.AppliedSLA, error)
	// CancelAppliedSLA supersedes an applied SLA: status cancelled, pending
	// events cancelled with it.
	CancelAppliedSLA(ctx context.Context, id string) error
	CreateSLAEvent(ctx context.Context, e *domain.SLAEvent) error
	GetPendingSLAEvent(ctx context.Context, appliedSLAID string, typ domain.SLAEventType) (*domain.SLAEvent, error)
	// ListPendingSLAEventsBefore returns pending events whose deadline is
	// before now, for the breach sweeper.
	ListPendingSLAEventsBefore(ctx context.Context, now time.Time, limit int) ([]domain.SLAEvent, error)
	// MarkSLAEventMet flips a pending event to met; no-op if not pending.
	MarkSLAEventMet(ctx context.Context, id string, at time.Time) error
	// UpdateSLAEventDeadline moves a pending event's deadline; no-op if the
	// event is no longer pending.
	UpdateSLAEventDeadline(ctx context.Context, id string, deadline time.Time) error
	// MarkSLAEventBreached flips a pending event to breached; returns false
	// if the event was no longer pending (idempotent re-run).
	MarkSLAEventBreached(ctx context.Context, id string, at time.Time) (bool, error)
	GetSLAEvent(ctx context.Context, id string) (*domain.SLAEvent, error)
	GetAppliedSLA(ctx context.Context, id string) (*domain.AppliedSLA, error)
	ListHolidays(ctx context.Context) ([]domain.Holiday, error)
	CreateHoliday(ctx context.Context, h *domain.Holiday) error
}

// WebhookStore persists webhook subscriptions and deliveries.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, w *domain.Webhook) error
	GetWebhook(ctx context.Context, id string) (*domain.Webhook, error)
	ListActiveWebhooksByEvent(ctx context.Context, t domain.EventType) ([]domain.Webhook, error)
	CreateWebhookDelivery(ctx context.Context, d *domain.WebhookDelivery) error
	GetWebhookDelivery(ctx context.Context, id string) (*domain.WebhookDelivery, error)
	UpdateWebhookDelivery(ctx context.Context, d *domain.WebhookDelivery) error
}

// JobStore persists the durable job queue.
type JobStore interface {
	// EnqueueJob inserts the job. When the job carries a DedupKey and a
	// pending or processing job with the same (type, key) exists, the
	// insert is a no-op and the existing job is untouched.
	EnqueueJob(ctx context.Context, j *domain.Job) error
	// FetchNextJob atomically selects the earliest-runAt pending job due at
	// now, marks it processing with the lease, and returns it. Returns
	// (nil, nil) when no job is due. Concurrent fetchers race; exactly one
	// wins per job.
	FetchNextJob(ctx context.Context, now, leaseUntil time.Time) (*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	UpdateJob(ctx context.Context, j *domain.Job) error
	// RecoverExpiredJobs reopens processing jobs whose lease expired and
	// returns how many were reopened.
	RecoverExpiredJobs(ctx context.Context, now time.Time) (int, error)
}

// LockStore is the key-value lease behind the distributed lock.
type LockStore interface {
	// AcquireLease succeeds iff no row exists for key or its lease expired,
	// atomically writing owner and expiry.
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// ReleaseLease deletes the row only if owner still holds it.
	ReleaseLease(ctx context.Context, key, owner string) error
}

// NotificationStore persists agent notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]domain.Notification, int, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
}

// EmailLogStore persists the ingest audit trail.
type EmailLogStore interface {
	AppendEmailLog(ctx context.Context, l *domain.EmailProcessingLog) error
	HasSuccessfulEmailLog(ctx context.Context, inboxID, messageID string) (bool, error)
	ListEmailLogs(ctx context.Context, inboxID string, limit int) ([]domain.EmailProcessingLog, error)
}

// SettingStore persists runtime settings read at sweep time.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// TeamStore persists teams and membership.
type TeamStore interface {
	CreateTeam(ctx context.Context, t *domain.Team) error
	GetTeam(ctx context.Context, id string) (*domain.Team, error)
	AddTeamMember(ctx context.Context, m *domain.TeamMembership) error
	ListTeamMembers(ctx context.Context, teamID string) ([]domain.TeamMembership, error)
}

// SessionStore persists agent sessions. The core consumes these; their
// lifecycle is owned by the auth edge.
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSessionByToken(ctx context.Context, token string) (*domain.Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error
}
