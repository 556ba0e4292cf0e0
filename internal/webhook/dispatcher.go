package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/jobs"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// JobTypeDeliverWebhook is the queue job type for webhook POSTs.
const JobTypeDeliverWebhook = "deliver_webhook"

// Dispatcher turns bus events into durable delivery rows plus queue jobs.
type Dispatcher struct {
	store store.Store
	queue *jobs.Queue
}

// NewDispatcher creates the fan-out dispatcher.
func NewDispatcher(st store.Store, q *jobs.Queue) *Dispatcher {
	return &Dispatcher{store: st, queue: q}
}

// Attach subscribes the dispatcher to every event type.
func (d *Dispatcher) Attach(b *bus.Bus) {
	b.Subscribe("webhooks", d.HandleEvent)
}

// CreateWebhook validates and stores a subscription.
func (d *Dispatcher) CreateWebhook(ctx context.Context, w *domain.Webhook) error {
	if w.URL == "" {
		return domain.Validationf("webhook url is required")
	}
	if w.Secret == "" {
		return domain.Validationf("webhook secret is required")
	}
	if len(w.SubscribedEvents) == 0 {
		return domain.Validationf("webhook must subscribe to at least one event")
	}
	for _, t := range w.SubscribedEvents {
		if !domain.ValidEventType(t) {
			return domain.Validationf("unknown event type %q in subscription", t)
		}
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	return d.store.CreateWebhook(ctx, w)
}

// deliveryEnvelope is the wire shape posted to subscribers. Receivers verify
// X-Webhook-Signature over these exact bytes, so the envelope is marshaled
// once and stored verbatim on the delivery row.
type deliveryEnvelope struct {
	EventType string         `json:"event_type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// envelopeFor flattens an event into the subscriber payload: the entity
// snapshots plus any event-specific fields under "data".
func envelopeFor(evt domain.Event) deliveryEnvelope {
	data := make(map[string]any, len(evt.Payload)+3)
	for k, v := range evt.Payload {
		data[k] = v
	}
	if evt.Conversation != nil {
		data["conversation"] = evt.Conversation
	}
	if evt.Message != nil {
		data["message"] = evt.Message
	}
	if evt.ActorID != "" {
		data["actor_id"] = evt.ActorID
	}
	return deliveryEnvelope{
		EventType: string(evt.Type),
		Timestamp: evt.OccurredAt.UTC().Format(time.RFC3339),
		Data:      data,
	}
}

// HandleEvent writes one signed delivery row per matching webhook and
// enqueues the POST. Losing the process after this point loses nothing:
// the job queue owns the delivery from here.
func (d *Dispatcher) HandleEvent(ctx context.Context, evt domain.Event) {
	hooks, err := d.store.ListActiveWebhooksByEvent(ctx, evt.Type)
	if err != nil {
		logger.Error("list webhooks failed", "event_type", string(evt.Type), "error", err)
		return
	}
	if len(hooks) == 0 {
		return
	}
	payload, err := json.Marshal(envelopeFor(evt))
	if err != nil {
		logger.Error("marshal event payload failed", "event_type", string(evt.Type), "error", err)
		return
	}
	now := time.Now().UTC()
	for _, h := range hooks {
		delivery := &domain.WebhookDelivery{
			ID:        uuid.New().String(),
			WebhookID: h.ID,
			EventType: evt.Type,
			Payload:   payload,
			Signature: Sign(h.Secret, payload),
			Status:    domain.DeliveryPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := d.store.CreateWebhookDelivery(ctx, delivery); err != nil {
			logger.Error("create webhook delivery failed", "webhook_id", h.ID, "error", err)
			continue
		}
		if _, err := d.queue.EnqueueDedup(ctx, JobTypeDeliverWebhook, delivery.ID,
			map[string]string{"delivery_id": delivery.ID}); err != nil {
			logger.Error("enqueue webhook delivery failed", "delivery_id", delivery.ID, "error", err)
		}
	}
}
