package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/jobs"
	"github.com/sgunadhya/oxidesk/internal/store/memory"
	"github.com/sgunadhya/oxidesk/internal/webhook"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"type":"conversation_created"}`)
	sig := webhook.Sign("secret", payload)

	if sig[:7] != "sha256=" {
		t.Fatalf("expected sha256= prefix, got %q", sig)
	}
	if !webhook.Verify("secret", payload, sig) {
		t.Fatal("signature must verify")
	}
	if webhook.Verify("secret", []byte(`{"type":"tampered"}`), sig) {
		t.Fatal("tampered payload must not verify")
	}
	if webhook.Verify("other", payload, sig) {
		t.Fatal("wrong secret must not verify")
	}
}

func seedWebhook(t *testing.T, st *memory.Store, url string, events ...domain.EventType) *domain.Webhook {
	t.Helper()
	w := &domain.Webhook{
		ID: "hook-1", Name: "crm sync", URL: url,
		SubscribedEvents: events, Secret: "s3cret", IsActive: true, CreatedBy: "user-a",
	}
	if err := st.CreateWebhook(context.Background(), w); err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	return w
}

func TestDispatcherCreatesDeliveryAndJob(t *testing.T) {
	st := memory.New()
	q := jobs.NewQueue(st)
	d := webhook.NewDispatcher(st, q)
	ctx := context.Background()

	seedWebhook(t, st, "https://crm.example.com/hook", domain.EventConversationCreated)

	d.HandleEvent(ctx, domain.Event{
		Type:       domain.EventConversationCreated,
		OccurredAt: time.Now().UTC(),
		ActorID:    "user-a",
	})

	now := time.Now()
	j, err := st.FetchNextJob(ctx, now, now.Add(domain.JobLeaseDuration))
	if err != nil || j == nil {
		t.Fatalf("expected a delivery job: %v %v", j, err)
	}
	if j.JobType != webhook.JobTypeDeliverWebhook {
		t.Fatalf("unexpected job type %s", j.JobType)
	}

	var p struct {
		DeliveryID string `json:"delivery_id"`
	}
	json.Unmarshal(j.Payload, &p)
	delivery, err := st.GetWebhookDelivery(ctx, p.DeliveryID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if delivery.Status != domain.DeliveryPending || delivery.Signature == "" {
		t.Fatalf("unexpected delivery %+v", delivery)
	}
	if !webhook.Verify("s3cret", delivery.Payload, delivery.Signature) {
		t.Fatal("stored signature must verify against stored payload")
	}
}

func TestDeliveryPayloadEnvelope(t *testing.T) {
	st := memory.New()
	q := jobs.NewQueue(st)
	d := webhook.NewDispatcher(st, q)
	ctx := context.Background()

	seedWebhook(t, st, "https://crm.example.com/hook", domain.EventConversationCreated)

	occurred := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	conv := &domain.Conversation{ID: "conv-1", ReferenceNumber: 100, Status: domain.ConversationOpen}
	d.HandleEvent(ctx, domain.Event{
		Type:         domain.EventConversationCreated,
		OccurredAt:   occurred,
		Conversation: conv,
		ActorID:      "user-a",
	})

	now := time.Now()
	j, _ := st.FetchNextJob(ctx, now, now.Add(domain.JobLeaseDuration))
	if j == nil {
		t.Fatal("expected a delivery job")
	}
	var p struct {
		DeliveryID string `json:"delivery_id"`
	}
	json.Unmarshal(j.Payload, &p)
	delivery, err := st.GetWebhookDelivery(ctx, p.DeliveryID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(delivery.Payload, &body); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	for _, key := range []string{"event_type", "timestamp", "data"} {
		if _, ok := body[key]; !ok {
			t.Errorf("payload missing %q: %s", key, delivery.Payload)
		}
	}
	if len(body) != 3 {
		t.Errorf("payload has extra keys: %s", delivery.Payload)
	}

	var eventType, timestamp string
	json.Unmarshal(body["event_type"], &eventType)
	json.Unmarshal(body["timestamp"], &timestamp)
	if eventType != string(domain.EventConversationCreated) {
		t.Errorf("event_type = %q", eventType)
	}
	if timestamp != occurred.Format(time.RFC3339) {
		t.Errorf("timestamp = %q, want %q", timestamp, occurred.Format(time.RFC3339))
	}

	var data struct {
		Conversation *domain.Conversation `json:"conversation"`
		ActorID      string               `json:"actor_id"`
	}
	if err := json.Unmarshal(body["data"], &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.Conversation == nil || data.Conversation.ID != "conv-1" || data.Conversation.ReferenceNumber != 100 {
		t.Errorf("data.conversation snapshot missing or wrong: %s", body["data"])
	}
	if data.ActorID != "user-a" {
		t.Errorf("data.actor_id = %q", data.ActorID)
	}
}

func TestDispatcherSkipsUnsubscribedEvents(t *testing.T) {
	st := memory.New()
	q := jobs.NewQueue(st)
	d := webhook.NewDispatcher(st, q)
	ctx := context.Background()

	seedWebhook(t, st, "https://crm.example.com/hook", domain.EventConversationCreated)
	d.HandleEvent(ctx, domain.Event{Type: domain.EventMessageSent, OccurredAt: time.Now().UTC()})

	now := time.Now()
	if j, _ := st.FetchNextJob(ctx, now, now.Add(domain.JobLeaseDuration)); j != nil {
		t.Fatalf("expected no job for unsubscribed event, got %s", j.JobType)
	}
}

// deliverOnThird answers 503 twice, then 200, capturing request headers.
type deliverOnThird struct {
	mu       sync.Mutex
	calls    int
	lastSig  string
	lastType string
	body     []byte
}

func (h *deliverOnThird) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.lastSig = r.Header.Get("X-Webhook-Signature")
	h.lastType = r.Header.Get("X-Webhook-Event")
	h.body, _ = io.ReadAll(r.Body)
	if h.calls < 3 {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	handler := &deliverOnThird{}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	st := memory.New()
	q := jobs.NewQueue(st)
	dispatcher := webhook.NewDispatcher(st, q)
	deliverer := webhook.NewDeliverer(st, q, srv.Client())
	ctx := context.Background()

	seedWebhook(t, st, srv.URL, domain.EventConversationCreated)
	dispatcher.HandleEvent(ctx, domain.Event{Type: domain.EventConversationCreated, OccurredAt: time.Now().UTC()})

	now := time.Now()
	j, _ := st.FetchNextJob(ctx, now, now.Add(domain.JobLeaseDuration))
	if j == nil {
		t.Fatal("expected job")
	}

	// Attempt 1 and 2 hit 503: the delivery stays pending with an escalating
	// schedule. Attempt 3 succeeds.
	var p struct {
		DeliveryID string `json:"delivery_id"`
	}
	json.Unmarshal(j.Payload, &p)

	for attempt := 1; attempt <= 2; attempt++ {
		if err := deliverer.Handle(ctx, j); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		delivery, _ := st.GetWebhookDelivery(ctx, p.DeliveryID)
		if delivery.Status != domain.DeliveryPending || delivery.RetryCount != attempt {
			t.Fatalf("attempt %d: expected pending retry_count=%d, got %s %d",
				attempt, attempt, delivery.Status, delivery.RetryCount)
		}
		want := domain.BackoffForRetry(attempt)
		until := time.Until(*delivery.NextRetryAt)
		if until < want-10*time.Second || until > want {
			t.Fatalf("attempt %d: next retry %v, want ~%v out", attempt, delivery.NextRetryAt, want)
		}
	}

	if err := deliverer.Handle(ctx, j); err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	delivery, _ := st.GetWebhookDelivery(ctx, p.DeliveryID)
	if delivery.Status != domain.DeliverySuccess {
		t.Fatalf("expected success, got %s", delivery.Status)
	}
	if delivery.HTTPStatus == nil || *delivery.HTTPStatus != http.StatusOK {
		t.Fatalf("expected 200 recorded, got %v", delivery.HTTPStatus)
	}

	// The receiver saw the signed payload with both headers.
	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.lastType != string(domain.EventConversationCreated) {
		t.Fatalf("unexpected event header %q", handler.lastType)
	}
	if !webhook.Verify("s3cret", handler.body, handler.lastSig) {
		t.Fatal("receiver-side verification failed")
	}
}

func TestDeliveryFailsPermanentlyAfterFiveRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	st := memory.New()
	q := jobs.NewQueue(st)
	dispatcher := webhook.NewDispatcher(st, q)
	deliverer := webhook.NewDeliverer(st, q, srv.Client())
	ctx := context.Background()

	seedWebhook(t, st, srv.URL, domain.EventConversationCreated)
	dispatcher.HandleEvent(ctx, domain.Event{Type: domain.EventConversationCreated, OccurredAt: time.Now().UTC()})

	now := time.Now()
	j, _ := st.FetchNextJob(ctx, now, now.Add(domain.JobLeaseDuration))

	var p struct {
		DeliveryID string `json:"delivery_id"`
	}
	json.Unmarshal(j.Payload, &p)

	for i := 0; i < domain.MaxDeliveryRetries; i++ {
		if err := deliverer.Handle(ctx, j); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	delivery, _ := st.GetWebhookDelivery(ctx, p.DeliveryID)
	if delivery.Status != domain.DeliveryFailedPermanent {
		t.Fatalf("expected failed_permanent, got %s", delivery.Status)
	}
	if delivery.RetryCount != domain.MaxDeliveryRetries {
		t.Fatalf("expected %d retries, got %d", domain.MaxDeliveryRetries, delivery.RetryCount)
	}

	// Further attempts are no-ops on a settled delivery.
	if err := deliverer.Handle(ctx, j); err != nil {
		t.Fatalf("post-settlement attempt: %v", err)
	}
}

func TestCreateWebhookValidation(t *testing.T) {
	st := memory.New()
	d := webhook.NewDispatcher(st, jobs.NewQueue(st))
	ctx := context.Background()

	err := d.CreateWebhook(ctx, &domain.Webhook{Name: "bad", Secret: "s", SubscribedEvents: []domain.EventType{domain.EventMessageSent}})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation for missing url, got %v", err)
	}
	err = d.CreateWebhook(ctx, &domain.Webhook{Name: "bad", URL: "https://x", Secret: "s", SubscribedEvents: []domain.EventType{"bogus"}})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation for unknown event, got %v", err)
	}
}
