package domain

import "time"

// NotificationType enumerates agent notifications.
type NotificationType string

const (
	NotificationAssignment NotificationType = "assignment"
	NotificationMention    NotificationType = "mention"
)

// Notification is a durable per-agent notification. Invariants per type:
// assignment requires ConversationID; mention requires ConversationID,
// MessageID, and ActorID.
type Notification struct {
	ID             string           `json:"id" db:"id"`
	UserID         string           `json:"user_id" db:"user_id"`
	Type           NotificationType `json:"type" db:"type"`
	ConversationID *string          `json:"conversation_id,omitempty" db:"conversation_id"`
	MessageID      *string          `json:"message_id,omitempty" db:"message_id"`
	ActorID        *string          `json:"actor_id,omitempty" db:"actor_id"`
	IsRead         bool             `json:"is_read" db:"is_read"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// Validate enforces the per-type field invariants.
func (n Notification) Validate() error {
	if n.UserID == "" {
		return Validationf("notification requires user_id")
	}
	switch n.Type {
	case NotificationAssignment:
		if n.ConversationID == nil || *n.ConversationID == "" {
			return Validationf("assignment notification requires conversation_id")
		}
	case NotificationMention:
		if n.ConversationID == nil || *n.ConversationID == "" ||
			n.MessageID == nil || *n.MessageID == "" ||
			n.ActorID == nil || *n.ActorID == "" {
			return Validationf("mention notification requires conversation_id, message_id and actor_id")
		}
	default:
		return Validationf("unknown notification type %q", n.Type)
	}
	return nil
}
