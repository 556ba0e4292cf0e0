package domain

import (
	"time"
)

// JobStatus enumerates the durable job queue lifecycle.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Well-known job types.
const (
	JobTypeSendMessage    = "send_message"
	JobTypeDeliverWebhook = "deliver_webhook"
)

// JobLeaseDuration is how long a fetched job stays leased before the
// recovery sweep may hand it to another worker.
const JobLeaseDuration = 5 * time.Minute

// Job is a durable unit of background work. At-least-once semantics:
// handlers must be idempotent, keyed by the job id or the carried natural
// key (message id for deliveries, webhook delivery id for webhooks).
type Job struct {
	ID      string    `json:"id" db:"id"`
	JobType string    `json:"job_type" db:"job_type"`
	Payload []byte    `json:"payload" db:"payload"` // opaque JSON
	Status  JobStatus `json:"status" db:"status"`
	// DedupKey suppresses duplicate enqueues: while a pending or processing
	// job with the same (type, key) exists, Enqueue is a no-op.
	DedupKey    *string    `json:"dedup_key,omitempty" db:"dedup_key"`
	RunAt       time.Time  `json:"run_at" db:"run_at"`
	Attempts    int        `json:"attempts" db:"attempts"`
	MaxAttempts int        `json:"max_attempts" db:"max_attempts"`
	LastError   *string    `json:"last_error,omitempty" db:"last_error"`
	LockedUntil *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// JobBackoff computes the requeue delay after a failed attempt:
// 30s * 2^(attempts-1).
func JobBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := 30 * time.Second
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}
