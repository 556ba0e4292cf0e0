package availability

import (
	"context"
	"sync"
	"time"

	"github.com/sgunadhya/oxidesk/internal/pkg/distlock"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
)

// Sweeper runs the inactivity and max-idle sweeps on a timer. One instance
// sweeps per cluster; the lock elects the leader per tick.
type Sweeper struct {
	svc      *Service
	lock     distlock.DistLock
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates the availability sweeper.
func NewSweeper(svc *Service, lock distlock.DistLock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{svc: svc, lock: lock, interval: interval}
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
	logger.Info("[AvailabilitySweeper] started", "interval", w.interval.String())
}

// Stop halts the loop and waits for an in-flight sweep.
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
	logger.Info("[AvailabilitySweeper] stopped")
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

func (w *Sweeper) sweep(ctx context.Context) {
	ok, err := w.lock.Acquire(ctx)
	if err != nil {
		logger.Error("[AvailabilitySweeper] lock acquire failed", "error", err)
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := w.lock.Release(ctx); err != nil {
			logger.Error("[AvailabilitySweeper] lock release failed", "error", err)
		}
	}()

	w.svc.SweepOnce(ctx)
}
