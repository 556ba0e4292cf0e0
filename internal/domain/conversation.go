package domain

import "time"

// ConversationStatus enumerates the lifecycle states of a conversation.
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationSnoozed  ConversationStatus = "snoozed"
	ConversationResolved ConversationStatus = "resolved"
	ConversationClosed   ConversationStatus = "closed"
)

// Valid reports whether s is a recognized status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationOpen, ConversationSnoozed, ConversationResolved, ConversationClosed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status transition s -> next is allowed.
// Reflexive transitions are permitted; Closed is terminal.
func (s ConversationStatus) CanTransitionTo(next ConversationStatus) bool {
	if s == next {
		return s != ConversationClosed
	}
	switch s {
	case ConversationOpen:
		return next == ConversationSnoozed || next == ConversationResolved
	case ConversationSnoozed:
		return next == ConversationOpen
	case ConversationResolved:
		return next == ConversationOpen
	}
	return false
}

// Priority is the optional conversation priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// FirstReferenceNumber is the reference number assigned to the first
// conversation. Reference numbers are globally monotonic.
const FirstReferenceNumber = 100

// Conversation is the unit of work: one contact, one inbox, many messages.
// Version is a monotonically increasing integer used for optimistic
// concurrency on every mutation.
type Conversation struct {
	ID              string             `json:"id" db:"id"`
	ReferenceNumber int64              `json:"reference_number" db:"reference_number"`
	Status          ConversationStatus `json:"status" db:"status"`
	InboxID         string             `json:"inbox_id" db:"inbox_id"`
	ContactID       string             `json:"contact_id" db:"contact_id"`
	Subject         *string            `json:"subject,omitempty" db:"subject"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty" db:"resolved_at"`
	ClosedAt        *time.Time         `json:"closed_at,omitempty" db:"closed_at"`
	SnoozedUntil    *time.Time         `json:"snoozed_until,omitempty" db:"snoozed_until"`
	AssignedUserID  *string            `json:"assigned_user_id,omitempty" db:"assigned_user_id"`
	AssignedTeamID  *string            `json:"assigned_team_id,omitempty" db:"assigned_team_id"`
	AssignedAt      *time.Time         `json:"assigned_at,omitempty" db:"assigned_at"`
	AssignedBy      *string            `json:"assigned_by,omitempty" db:"assigned_by"`
	Priority        *Priority          `json:"priority,omitempty" db:"priority"`
	Tags            []string           `json:"tags" db:"tags"`
	LastMessageAt   *time.Time         `json:"last_message_at,omitempty" db:"last_message_at"`
	LastReplyAt     *time.Time         `json:"last_reply_at,omitempty" db:"last_reply_at"`
	Version         int64              `json:"version" db:"version"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" db:"updated_at"`
}

// HasTag reports whether the conversation carries the given tag id.
func (c *Conversation) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AssignmentHistory is an append-only record of who was assigned, when, and
// by whom. Nil assignee fields record an unassignment.
type AssignmentHistory struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	AssigneeUserID *string   `json:"assignee_user_id,omitempty" db:"assignee_user_id"`
	AssigneeTeamID *string   `json:"assignee_team_id,omitempty" db:"assignee_team_id"`
	AssignedBy     string    `json:"assigned_by" db:"assigned_by"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ChannelType identifies the transport behind an inbox.
type ChannelType string

const (
	ChannelEmail ChannelType = "email"
)

// Inbox is a logical message source (an email mailbox today). Inboxes own
// the conversations that originate in them.
type Inbox struct {
	ID          string      `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	ChannelType ChannelType `json:"channel_type" db:"channel_type"`
	DeletedAt   *time.Time  `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedBy   *string     `json:"deleted_by,omitempty" db:"deleted_by"`
}
