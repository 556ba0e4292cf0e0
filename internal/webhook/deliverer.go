package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/jobs"
	"github.com/sgunadhya/oxidesk/internal/pkg/httpretry"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// Delivery execution limits.
const (
	RequestTimeout = 30 * time.Second
	MaxConcurrent  = 10
)

// Deliverer executes webhook POSTs from the job queue. Retries follow the
// fixed delivery schedule, not the queue's generic backoff: the handler
// schedules its own follow-up job and reports success to the runner.
type Deliverer struct {
	store  store.Store
	queue  *jobs.Queue
	client *http.Client
	sem    chan struct{}
}

// NewDeliverer creates the delivery executor. client may be nil.
func NewDeliverer(st store.Store, q *jobs.Queue, client *http.Client) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: RequestTimeout}
	}
	return &Deliverer{
		store:  st,
		queue:  q,
		client: client,
		sem:    make(chan struct{}, MaxConcurrent),
	}
}

// Register wires the delivery handler into the runner.
func (d *Deliverer) Register(r *jobs.Runner) {
	r.Register(JobTypeDeliverWebhook, d.Handle)
}

type deliverPayload struct {
	DeliveryID string `json:"delivery_id"`
}

// Handle executes one delivery attempt. Deliveries no longer pending are
// skipped, making job redelivery after a crash harmless.
func (d *Deliverer) Handle(ctx context.Context, j *domain.Job) error {
	var p deliverPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return fmt.Errorf("decode delivery payload: %w", err)
	}

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.sem }()

	delivery, err := d.store.GetWebhookDelivery(ctx, p.DeliveryID)
	if err != nil {
		return err
	}
	if delivery.Status != domain.DeliveryPending {
		return nil
	}
	hook, err := d.store.GetWebhook(ctx, delivery.WebhookID)
	if err != nil {
		return err
	}
	if !hook.IsActive {
		msg := "webhook disabled"
		delivery.Status = domain.DeliveryFailedPermanent
		delivery.ErrorMessage = &msg
		delivery.UpdatedAt = time.Now().UTC()
		return d.store.UpdateWebhookDelivery(ctx, delivery)
	}

	status, err := d.post(ctx, hook.URL, delivery)
	now := time.Now().UTC()
	delivery.UpdatedAt = now
	if status > 0 {
		delivery.HTTPStatus = &status
	}
	if err == nil && status >= 200 && status < 300 {
		delivery.Status = domain.DeliverySuccess
		delivery.ErrorMessage = nil
		delivery.NextRetryAt = nil
		return d.store.UpdateWebhookDelivery(ctx, delivery)
	}

	msg := fmt.Sprintf("http status %d", status)
	if err != nil {
		msg = err.Error()
	}
	delivery.ErrorMessage = &msg
	delivery.RetryCount++
	if delivery.RetryCount >= domain.MaxDeliveryRetries {
		delivery.Status = domain.DeliveryFailedPermanent
		delivery.NextRetryAt = nil
		logger.Warn("webhook delivery failed permanently",
			"delivery_id", delivery.ID, "webhook_id", hook.ID, "error", msg)
		return d.store.UpdateWebhookDelivery(ctx, delivery)
	}
	next := now.Add(domain.BackoffForRetry(delivery.RetryCount))
	delivery.NextRetryAt = &next
	if err := d.store.UpdateWebhookDelivery(ctx, delivery); err != nil {
		return err
	}
	if _, err := d.queue.EnqueueAt(ctx, JobTypeDeliverWebhook,
		deliverPayload{DeliveryID: delivery.ID}, next, nil); err != nil {
		return err
	}
	logger.Info("webhook delivery scheduled for retry",
		"delivery_id", delivery.ID, "retry", delivery.RetryCount, "next_attempt", next.Format(time.RFC3339))
	return nil
}

func (d *Deliverer) post(ctx context.Context, url string, delivery *domain.WebhookDelivery) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, delivery.Signature)
	req.Header.Set(HeaderEvent, string(delivery.EventType))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// SendTest posts a synthetic payload to the webhook, retrying transient
// failures inline so the caller gets a definitive answer. Returns the final
// HTTP status.
func (d *Deliverer) SendTest(ctx context.Context, webhookID string) (int, error) {
	hook, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return 0, err
	}
	payload, _ := json.Marshal(map[string]any{
		"event_type": "test",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"data":       map[string]any{},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(hook.Secret, payload))
	req.Header.Set(HeaderEvent, "test")

	retrying := httpretry.NewRetryClient(d.client, 2)
	resp, err := retrying.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
