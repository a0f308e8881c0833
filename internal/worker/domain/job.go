package domain

import (
	"encoding/json"
	"time"
)

// Job is a unit of work pulled from the broker. Immutable once decoded;
// the broker owns it until the executor claims it.
type Job struct {
	JobID      string          `json:"job_id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// JobResult is the terminal record of one job execution. ExpiresAt is always
// CompletedAt plus the configured results TTL; readers must not rely on a
// result being present past ExpiresAt.
type JobResult struct {
	JobID       string    `json:"job_id"`
	Queue       string    `json:"queue"`
	Status      string    `json:"status"`
	Output      string    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Succeeded reports whether the job finished without a captured failure.
func (r *JobResult) Succeeded() bool {
	return r.Status == StatusSucceeded
}
