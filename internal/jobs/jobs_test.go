package jobs_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/jobs"
	"github.com/sgunadhya/oxidesk/internal/store/memory"
)

func TestEnqueueAndRun(t *testing.T) {
	st := memory.New()
	q := jobs.NewQueue(st)
	ctx := context.Background()

	j, err := q.Enqueue(ctx, "test_job", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j.Status != domain.JobPending {
		t.Fatalf("expected pending, got %s", j.Status)
	}

	var ran atomic.Int64
	r := jobs.NewRunner(st, 2, 10*time.Millisecond)
	r.Register("test_job", func(_ context.Context, _ *domain.Job) error {
		ran.Add(1)
		return nil
	})
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, func() bool { return ran.Load() == 1 })
	r.Stop()

	got, err := st.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != domain.JobCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestDedupKeySuppressesDuplicates(t *testing.T) {
	st := memory.New()
	q := jobs.NewQueue(st)
	ctx := context.Background()

	first, err := q.EnqueueDedup(ctx, "send_message", "msg-1", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.EnqueueDedup(ctx, "send_message", "msg-1", nil); err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}

	// Only the first job should exist; the duplicate was a no-op.
	now := time.Now()
	j, err := st.FetchNextJob(ctx, now, now.Add(domain.JobLeaseDuration))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if j == nil || j.ID != first.ID {
		t.Fatalf("expected job %s, got %+v", first.ID, j)
	}
	j2, err := st.FetchNextJob(ctx, now, now.Add(domain.JobLeaseDuration))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if j2 != nil {
		t.Fatalf("expected no second job, got %s", j2.ID)
	}
}

func TestFailedJobRequeuesWithBackoff(t *testing.T) {
	st := memory.New()
	q := jobs.NewQueue(st)
	ctx := context.Background()

	j, _ := q.Enqueue(ctx, "flaky", nil)

	r := jobs.NewRunner(st, 1, 10*time.Millisecond)
	r.Register("flaky", func(_ context.Context, _ *domain.Job) error {
		return errors.New("boom")
	})
	r.Start(ctx)

	waitFor(t, func() bool {
		got, err := st.GetJob(ctx, j.ID)
		return err == nil && got.Attempts == 1 && got.Status == domain.JobPending
	})
	r.Stop()

	got, _ := st.GetJob(ctx, j.ID)
	if got.LastError == nil || *got.LastError != "boom" {
		t.Fatalf("expected last error boom, got %v", got.LastError)
	}
	// First failure reschedules 30s out.
	wantNotBefore := time.Now().Add(25 * time.Second)
	if got.RunAt.Before(wantNotBefore) {
		t.Fatalf("expected backoff ~30s, run_at %v", got.RunAt)
	}
}

func TestJobFailsPermanentlyAtAttemptCap(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	// Last allowed attempt: one more failure must go terminal.
	j := &domain.Job{
		ID: "job-1", JobType: "flaky", Status: domain.JobPending,
		RunAt: time.Now().Add(-time.Second), Attempts: 4, MaxAttempts: 5,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := st.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	r := jobs.NewRunner(st, 1, 10*time.Millisecond)
	r.Register("flaky", func(_ context.Context, _ *domain.Job) error {
		return errors.New("still broken")
	})
	r.Start(ctx)

	waitFor(t, func() bool {
		got, err := st.GetJob(ctx, j.ID)
		return err == nil && got.Status == domain.JobFailed
	})
	r.Stop()

	_, failed := r.Stats()
	if failed != 1 {
		t.Fatalf("expected 1 permanent failure, got %d", failed)
	}
}

func TestUnknownJobTypeFails(t *testing.T) {
	st := memory.New()
	q := jobs.NewQueue(st)
	ctx := context.Background()

	j, _ := q.Enqueue(ctx, "nobody_handles_this", nil)

	r := jobs.NewRunner(st, 1, 10*time.Millisecond)
	r.Start(ctx)
	waitFor(t, func() bool {
		got, err := st.GetJob(ctx, j.ID)
		return err == nil && got.Status == domain.JobFailed
	})
	r.Stop()
}

func TestRecoveryReopensExpiredLeases(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	j := &domain.Job{
		ID: "job-1", JobType: "test_job", Status: domain.JobPending,
		RunAt: time.Now().Add(-time.Minute), MaxAttempts: 5,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	st.EnqueueJob(ctx, j)

	// Claim with a lease already in the past, as a crashed worker would
	// leave behind.
	claimed, err := st.FetchNextJob(ctx, time.Now(), time.Now().Add(-time.Second))
	if err != nil || claimed == nil {
		t.Fatalf("fetch: %v %v", claimed, err)
	}

	n, err := st.RecoverExpiredJobs(ctx, time.Now())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered job, got %d", n)
	}
	got, _ := st.GetJob(ctx, j.ID)
	if got.Status != domain.JobPending {
		t.Fatalf("expected pending after recovery, got %s", got.Status)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
