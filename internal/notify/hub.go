// Package notify delivers agent notifications: durable rows in storage,
// plus best-effort realtime push over SSE. Each connection carries a
// bounded queue; a slow consumer loses its oldest update, never blocks a
// publisher.
package notify

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
)

// QueueCap bounds each connection's pending notifications. Overflow drops
// the oldest entry.
const QueueCap = 100

// Hub fans notifications out to connected agents.
type Hub struct {
	mu    sync.Mutex
	conns map[string]map[chan []byte]struct{} // user id -> connections

	dropped atomic.Int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a connection for the user. The caller must invoke the
// returned cancel function when the connection closes.
func (h *Hub) Subscribe(userID string) (<-chan []byte, func()) {
	ch := make(chan []byte, QueueCap)
	h.mu.Lock()
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[chan []byte]struct{})
		h.conns[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.conns[userID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.conns, userID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Push sends a notification to every connection of the user. Full queues
// drop their oldest entry so the newest notification always lands.
func (h *Hub) Push(userID string, n *domain.Notification) {
	body, err := json.Marshal(n)
	if err != nil {
		logger.Error("marshal notification failed", "notification_id", n.ID, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.conns[userID] {
		for {
			select {
			case ch <- body:
			default:
				select {
				case <-ch:
					h.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// Connections reports how many connections the user holds.
func (h *Hub) Connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

// Dropped reports how many notifications were discarded to slow consumers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
