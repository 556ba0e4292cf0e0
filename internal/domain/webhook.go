package domain

import "time"

// Webhook is an external event subscription. Deliveries are signed with
// the webhook's secret; subscribers verify with constant-time comparison.
type Webhook struct {
	ID               string      `json:"id" db:"id"`
	Name             string      `json:"name" db:"name"`
	URL              string      `json:"url" db:"url"`
	SubscribedEvents []EventType `json:"subscribed_events" db:"subscribed_events"`
	Secret           string      `json:"-" db:"secret"`
	IsActive         bool        `json:"is_active" db:"is_active"`
	CreatedBy        string      `json:"created_by" db:"created_by"`
}

// SubscribesTo reports whether the webhook wants events of type t.
func (w Webhook) SubscribesTo(t EventType) bool {
	for _, e := range w.SubscribedEvents {
		if e == t {
			return true
		}
	}
	return false
}

// DeliveryStatus enumerates the lifecycle of a webhook delivery.
type DeliveryStatus string

const (
	DeliveryPending         DeliveryStatus = "pending"
	DeliverySuccess         DeliveryStatus = "success"
	DeliveryFailedPermanent DeliveryStatus = "failed_permanent"
)

// MaxDeliveryRetries is the retry cap before a delivery goes
// failed_permanent.
const MaxDeliveryRetries = 5

// WebhookDelivery is one signed POST attempt chain for one event.
// At-least-once: re-enqueueing the same delivery id is a no-op.
type WebhookDelivery struct {
	ID           string         `json:"id" db:"id"`
	WebhookID    string         `json:"webhook_id" db:"webhook_id"`
	EventType    EventType      `json:"event_type" db:"event_type"`
	Payload      []byte         `json:"payload" db:"payload"`
	Signature    string         `json:"signature" db:"signature"`
	Status       DeliveryStatus `json:"status" db:"status"`
	HTTPStatus   *int           `json:"http_status,omitempty" db:"http_status"`
	ErrorMessage *string        `json:"error_message,omitempty" db:"error_message"`
	RetryCount   int            `json:"retry_count" db:"retry_count"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty" db:"next_retry_at"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// DeliveryBackoff is the retry schedule for webhook deliveries, indexed by
// the attempt number that just failed (retryCount 1..5).
var DeliveryBackoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

// BackoffForRetry returns the wait before retry n (1-based). Retries past
// the schedule reuse the last interval.
func BackoffForRetry(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > len(DeliveryBackoff) {
		n = len(DeliveryBackoff)
	}
	return DeliveryBackoff[n-1]
}
