// Package bus is the in-process event broadcast. Publish never blocks the
// caller: each subscriber owns a bounded queue and a delivery goroutine, and
// when a queue is full the oldest event is dropped to make room. Subscribers
// must treat events as hints and re-derive state from storage.
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
)

// DefaultQueueSize is the per-subscriber queue depth.
const DefaultQueueSize = 256

// Handler consumes one event. Called sequentially per subscription, in
// publish order minus drops.
type Handler func(ctx context.Context, e domain.Event)

// Bus fans events out to subscribers by event type.
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.EventType][]*subscription
	all    []*subscription
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

type subscription struct {
	name    string
	queue   chan domain.Event
	handler Handler
	done    chan struct{}
}

// New creates a bus. Subscribers are registered at startup, before any
// publish.
func New() *Bus {
	return &Bus{subs: make(map[domain.EventType][]*subscription)}
}

// Subscribe registers handler for the given event types. Empty types means
// every event. The handler runs on its own goroutine until Close.
func (b *Bus) Subscribe(name string, handler Handler, types ...domain.EventType) {
	b.SubscribeBuffered(name, DefaultQueueSize, handler, types...)
}

// SubscribeBuffered is Subscribe with an explicit queue depth.
func (b *Bus) SubscribeBuffered(name string, depth int, handler Handler, types ...domain.EventType) {
	if depth <= 0 {
		depth = DefaultQueueSize
	}
	sub := &subscription{
		name:    name,
		queue:   make(chan domain.Event, depth),
		handler: handler,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if len(types) == 0 {
		b.all = append(b.all, sub)
	} else {
		for _, t := range types {
			b.subs[t] = append(b.subs[t], sub)
		}
	}
	b.mu.Unlock()

	go sub.run()
}

func (s *subscription) run() {
	defer close(s.done)
	for e := range s.queue {
		s.handler(context.Background(), e)
	}
}

// Publish delivers e to every matching subscriber without blocking. On a
// full queue the oldest queued event is discarded first.
func (b *Bus) Publish(e domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, sub := range b.subs[e.Type] {
		b.offer(sub, e)
	}
	for _, sub := range b.all {
		b.offer(sub, e)
	}
}

func (b *Bus) offer(sub *subscription, e domain.Event) {
	for {
		select {
		case sub.queue <- e:
			return
		default:
		}
		select {
		case old := <-sub.queue:
			b.dropped.Add(1)
			logger.Warn("event dropped on full queue",
				"handler", sub.name, "event_type", string(old.Type))
		default:
		}
	}
}

// Stats returns published and dropped counters.
func (b *Bus) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}

// Close stops accepting publishes, drains subscriber queues, and waits for
// every handler to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	seen := make(map[*subscription]struct{})
	var subs []*subscription
	for _, list := range b.subs {
		for _, s := range list {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				subs = append(subs, s)
			}
		}
	}
	for _, s := range b.all {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		close(s.queue)
	}
	for _, s := range subs {
		<-s.done
	}
}
