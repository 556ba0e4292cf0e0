package sla

import (
	"context"
	"sync"
	"time"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/distlock"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// sweepBatchSize bounds how many overdue deadlines one tick processes.
const sweepBatchSize = 100

// Sweeper flips overdue pending deadlines to breached. One instance runs
// per cluster at a time; the lock elects the leader per tick, so a crashed
// leader is replaced within the lock TTL.
type Sweeper struct {
	store    store.Store
	bus      *bus.Bus
	lock     distlock.DistLock
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates the breach sweeper.
func NewSweeper(st store.Store, b *bus.Bus, lock distlock.DistLock, interval time.Duration) *Sweeper {
	return &Sweeper{store: st, bus: b, lock: lock, interval: interval}
}

// Start launches the sweep loop.
func (w *Sweeper) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	go w.run(ctx)
	logger.Info("[SLASweeper] started", "interval", w.interval.String())
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (w *Sweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()
	w.wg.Wait()
	logger.Info("[SLASweeper] stopped")
}

func (w *Sweeper) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep runs one leader-elected pass. Losing the election is normal: another
// instance is sweeping.
func (w *Sweeper) sweep(ctx context.Context) {
	ok, err := w.lock.Acquire(ctx)
	if err != nil {
		logger.Error("[SLASweeper] lock acquire failed", "error", err)
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := w.lock.Release(ctx); err != nil {
			logger.Error("[SLASweeper] lock release failed", "error", err)
		}
	}()

	now := time.Now().UTC()
	overdue, err := w.store.ListPendingSLAEventsBefore(ctx, now, sweepBatchSize)
	if err != nil {
		logger.Error("[SLASweeper] list overdue deadlines failed", "error", err)
		return
	}
	for i := range overdue {
		w.breach(ctx, &overdue[i], now)
	}
}

// breach marks one deadline breached and publishes SlaBreached. The
// conditional mark makes re-runs after a crash publish at most once more;
// an event already flipped by a competing sweep is left alone.
func (w *Sweeper) breach(ctx context.Context, e *domain.SLAEvent, now time.Time) {
	flipped, err := w.store.MarkSLAEventBreached(ctx, e.ID, now)
	if err != nil {
		logger.Error("[SLASweeper] mark breached failed", "sla_event_id", e.ID, "error", err)
		return
	}
	if !flipped {
		return
	}
	applied, err := w.store.GetAppliedSLA(ctx, e.AppliedSLAID)
	if err != nil {
		logger.Error("[SLASweeper] load applied sla failed", "applied_sla_id", e.AppliedSLAID, "error", err)
		return
	}
	conv, err := w.store.GetConversation(ctx, applied.ConversationID)
	if err != nil {
		logger.Error("[SLASweeper] load conversation failed", "conversation_id", applied.ConversationID, "error", err)
		return
	}
	logger.Warn("[SLASweeper] deadline breached",
		"conversation_id", conv.ID, "type", string(e.Type), "deadline", e.Deadline.Format(time.RFC3339))
	w.bus.Publish(domain.Event{
		Type:         domain.EventSLABreached,
		OccurredAt:   now,
		Conversation: conv,
		ActorID:      "system",
		Payload: map[string]any{
			"sla_event_id":   e.ID,
			"sla_event_type": string(e.Type),
			"policy_id":      applied.PolicyID,
			"deadline":       e.Deadline.Format(time.RFC3339),
		},
	})
}
