package bus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
)

func TestPublishReachesTypedSubscriber(t *testing.T) {
	b := bus.New()
	defer b.Close()

	got := make(chan domain.Event, 1)
	b.Subscribe("test", func(_ context.Context, e domain.Event) {
		got <- e
	}, domain.EventConversationCreated)

	b.Publish(domain.Event{Type: domain.EventConversationCreated, ActorID: "agent-1"})

	select {
	case e := <-got:
		if e.ActorID != "agent-1" {
			t.Fatalf("expected actor agent-1, got %s", e.ActorID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received event")
	}
}

func TestTypedSubscriberIgnoresOtherEvents(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var mu sync.Mutex
	var seen []domain.EventType
	b.Subscribe("test", func(_ context.Context, e domain.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	}, domain.EventMessageSent)

	b.Publish(domain.Event{Type: domain.EventConversationCreated})
	b.Publish(domain.Event{Type: domain.EventMessageSent})
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != domain.EventMessageSent {
		t.Fatalf("expected only message_sent, got %v", seen)
	}
}

func TestCatchAllSubscriber(t *testing.T) {
	b := bus.New()

	var mu sync.Mutex
	count := 0
	b.Subscribe("all", func(_ context.Context, _ domain.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	for _, typ := range domain.AllEventTypes {
		b.Publish(domain.Event{Type: typ})
	}
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != len(domain.AllEventTypes) {
		t.Fatalf("expected %d events, got %d", len(domain.AllEventTypes), count)
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := bus.New()

	release := make(chan struct{})
	var mu sync.Mutex
	var seen []int
	b.SubscribeBuffered("slow", 2, func(_ context.Context, e domain.Event) {
		<-release
		mu.Lock()
		seen = append(seen, e.CascadeDepth)
		mu.Unlock()
	}, domain.EventMessageReceived)

	// One event occupies the handler, two fill the queue, the rest force
	// drop-oldest. Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(domain.Event{Type: domain.EventMessageReceived, CascadeDepth: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	close(release)
	b.Close()

	_, dropped := b.Stats()
	if dropped == 0 {
		t.Fatal("expected drops on a full queue")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("expected at least one delivered event")
	}
	// The newest event must survive the drops.
	if seen[len(seen)-1] != 9 {
		t.Fatalf("expected newest event last, got %v", seen)
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	b := bus.New()
	got := make(chan domain.Event, 1)
	b.Subscribe("test", func(_ context.Context, e domain.Event) { got <- e },
		domain.EventConversationCreated)
	b.Close()

	b.Publish(domain.Event{Type: domain.EventConversationCreated})

	select {
	case <-got:
		t.Fatal("event delivered after close")
	case <-time.After(50 * time.Millisecond):
	}
}
