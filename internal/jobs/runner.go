package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// Handler executes one job. Returning an error requeues the job with
// backoff until its attempt cap.
type Handler func(ctx context.Context, j *domain.Job) error

// Runner polls the store for due jobs and executes them on a worker pool.
type Runner struct {
	store    store.JobStore
	handlers map[string]Handler

	workers      int
	pollInterval time.Duration

	running bool
	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

// NewRunner creates a runner with the given concurrency.
func NewRunner(s store.JobStore, workers int, pollInterval time.Duration) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Runner{
		store:        s,
		handlers:     make(map[string]Handler),
		workers:      workers,
		pollInterval: pollInterval,
		stopCh:       make(chan struct{}),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (r *Runner) Register(jobType string, h Handler) {
	r.handlers[jobType] = h
}

// Start launches the worker pool.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("job runner already running")
	}
	r.running = true
	r.mu.Unlock()

	logger.Info("job runner starting", "workers", r.workers)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
	return nil
}

// Stop halts polling and waits for in-flight jobs.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	logger.Info("job runner stopped",
		"processed", r.processed.Load(), "failed", r.failed.Load())
}

// Stats returns processed and permanently failed counters.
func (r *Runner) Stats() (processed, failed int64) {
	return r.processed.Load(), r.failed.Load()
}

func (r *Runner) work(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			// Drain due jobs before sleeping again.
			for r.runOne(ctx) {
				select {
				case <-ctx.Done():
					return
				case <-r.stopCh:
					return
				default:
				}
			}
		}
	}
}

// runOne claims and executes a single due job. Reports whether a job was
// claimed, so callers keep draining while work is available.
func (r *Runner) runOne(ctx context.Context) bool {
	now := time.Now()
	j, err := r.store.FetchNextJob(ctx, now, now.Add(domain.JobLeaseDuration))
	if err != nil {
		logger.Error("fetch job", "error", err.Error())
		return false
	}
	if j == nil {
		return false
	}

	h, ok := r.handlers[j.JobType]
	if !ok {
		r.fail(ctx, j, fmt.Sprintf("no handler for job type %s", j.JobType))
		return true
	}

	j.Attempts++
	if err := h(ctx, j); err != nil {
		r.retryOrFail(ctx, j, err)
		return true
	}

	j.Status = domain.JobCompleted
	j.LockedUntil = nil
	if err := r.store.UpdateJob(ctx, j); err != nil {
		logger.Error("complete job", "job_id", j.ID, "error", err.Error())
	}
	r.processed.Add(1)
	return true
}

func (r *Runner) retryOrFail(ctx context.Context, j *domain.Job, cause error) {
	msg := cause.Error()
	j.LastError = &msg
	j.LockedUntil = nil

	if j.Attempts >= j.MaxAttempts {
		j.Status = domain.JobFailed
		if err := r.store.UpdateJob(ctx, j); err != nil {
			logger.Error("fail job", "job_id", j.ID, "error", err.Error())
		}
		r.failed.Add(1)
		logger.Error("job failed permanently",
			"job_id", j.ID, "job_type", j.JobType, "attempts", j.Attempts, "error", msg)
		return
	}

	delay := domain.JobBackoff(j.Attempts)
	j.Status = domain.JobPending
	j.RunAt = time.Now().Add(delay)
	if err := r.store.UpdateJob(ctx, j); err != nil {
		logger.Error("requeue job", "job_id", j.ID, "error", err.Error())
		return
	}
	logger.Warn("job requeued",
		"job_id", j.ID, "job_type", j.JobType, "attempt", j.Attempts, "delay", delay.String())
}

func (r *Runner) fail(ctx context.Context, j *domain.Job, msg string) {
	j.Status = domain.JobFailed
	j.LastError = &msg
	j.LockedUntil = nil
	if err := r.store.UpdateJob(ctx, j); err != nil {
		logger.Error("fail job", "job_id", j.ID, "error", err.Error())
	}
	r.failed.Add(1)
}

// Recovery reopens jobs whose lease expired, so work abandoned by a
// crashed worker is picked up again.
type Recovery struct {
	store    store.JobStore
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRecovery creates the lease recovery sweep.
func NewRecovery(s store.JobStore, interval time.Duration) *Recovery {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Recovery{store: s, interval: interval, stopCh: make(chan struct{})}
}

// Start launches the sweep loop.
func (rc *Recovery) Start(ctx context.Context) {
	rc.wg.Add(1)
	go rc.run(ctx)
}

// Stop halts the sweep.
func (rc *Recovery) Stop() {
	close(rc.stopCh)
	rc.wg.Wait()
}

func (rc *Recovery) run(ctx context.Context) {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rc.stopCh:
			return
		case <-ticker.C:
			n, err := rc.store.RecoverExpiredJobs(ctx, time.Now())
			if err != nil {
				logger.Error("recover expired jobs", "error", err.Error())
				continue
			}
			if n > 0 {
				logger.Warn("recovered expired job leases", "count", n)
			}
		}
	}
}
