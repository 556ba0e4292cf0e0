// Package jobs is the durable background job queue. Jobs survive restarts
// in the store; delivery is at-least-once, so every handler must be
// idempotent. A failed attempt requeues with exponential backoff until the
// attempt cap, then the job is marked failed and kept for inspection.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// DefaultMaxAttempts caps retries per job.
const DefaultMaxAttempts = 5

// Queue enqueues durable jobs.
type Queue struct {
	store store.JobStore
}

// NewQueue creates a queue over the given store.
func NewQueue(s store.JobStore) *Queue {
	return &Queue{store: s}
}

// Enqueue inserts a job due immediately. The payload is marshaled to JSON.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload interface{}) (*domain.Job, error) {
	return q.EnqueueAt(ctx, jobType, payload, time.Now(), nil)
}

// EnqueueDedup inserts a job unless a pending or processing job with the
// same (type, key) already exists.
func (q *Queue) EnqueueDedup(ctx context.Context, jobType, dedupKey string, payload interface{}) (*domain.Job, error) {
	return q.EnqueueAt(ctx, jobType, payload, time.Now(), &dedupKey)
}

// EnqueueAt inserts a job due at runAt.
func (q *Queue) EnqueueAt(ctx context.Context, jobType string, payload interface{}, runAt time.Time, dedupKey *string) (*domain.Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	j := &domain.Job{
		ID:          uuid.New().String(),
		JobType:     jobType,
		Payload:     body,
		Status:      domain.JobPending,
		DedupKey:    dedupKey,
		RunAt:       runAt,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := q.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}
