package domain

import "time"

// EventType enumerates the system events published on the in-process bus.
type EventType string

const (
	EventConversationCreated         EventType = "conversation_created"
	EventConversationStatusChanged   EventType = "conversation_status_changed"
	EventMessageReceived             EventType = "message_received"
	EventMessageSent                 EventType = "message_sent"
	EventMessageFailed               EventType = "message_failed"
	EventConversationAssigned        EventType = "conversation_assigned"
	EventConversationUnassigned      EventType = "conversation_unassigned"
	EventConversationTagsChanged     EventType = "conversation_tags_changed"
	EventConversationPriorityChanged EventType = "conversation_priority_changed"
	EventAgentAvailabilityChanged    EventType = "agent_availability_changed"
	EventAgentLoggedIn               EventType = "agent_logged_in"
	EventAgentLoggedOut              EventType = "agent_logged_out"
	EventSLABreached                 EventType = "sla_breached"
)

// AllEventTypes lists every publishable event type, used for validating
// webhook and automation subscriptions.
var AllEventTypes = []EventType{
	EventConversationCreated,
	EventConversationStatusChanged,
	EventMessageReceived,
	EventMessageSent,
	EventMessageFailed,
	EventConversationAssigned,
	EventConversationUnassigned,
	EventConversationTagsChanged,
	EventConversationPriorityChanged,
	EventAgentAvailabilityChanged,
	EventAgentLoggedIn,
	EventAgentLoggedOut,
	EventSLABreached,
}

// ValidEventType reports whether t is a known event type.
func ValidEventType(t EventType) bool {
	for _, e := range AllEventTypes {
		if e == t {
			return true
		}
	}
	return false
}

// Event is a broadcast system event. Delivery is best-effort: subscribers
// must re-derive state from storage, never from event history.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	// Conversation is a snapshot of the affected conversation, when one is
	// involved. Automations evaluate conditions against this snapshot.
	Conversation *Conversation `json:"conversation,omitempty"`
	Message      *Message      `json:"message,omitempty"`

	// ActorID identifies who caused the event ("system" for automations).
	ActorID string `json:"actor_id,omitempty"`

	// CascadeDepth counts nested event->rule->action->event invocations
	// from the original trigger. Guards automation loops.
	CascadeDepth int `json:"cascade_depth,omitempty"`

	// Payload carries event-specific fields (previous/new tags, statuses,
	// availability reasons) for webhooks and audit.
	Payload map[string]any `json:"payload,omitempty"`
}
