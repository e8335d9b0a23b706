// Package queue implements the durable job queue: enqueue, atomic claim,
// completion and failure with bounded exponential backoff.
package queue

import (
	"encoding/json"
	"time"
)

// JobType represents the type of job
type JobType string

const (
	JobTypeContentProcess       JobType = "content-process"
	JobTypeDailyAnalysis        JobType = "daily-analysis"
	JobTypeGeneratePredictions  JobType = "generate-predictions"
	JobTypePredictionComparison JobType = "prediction-comparison"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRetry      Status = "retry"
	StatusFailed     Status = "failed"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusRetry, StatusCompleted, StatusFailed}

// IsTerminal reports whether the queue will never move the job again
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether the job still occupies its dedupe key
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusRetry
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Priorities used by the pipeline. Lower values are served first.
const (
	PriorityAnalysis    = 1
	PriorityPredictions = 2
	PriorityComparison  = 3
	PriorityDefault     = 5
)

// Job represents a queued job
type Job struct {
	ID           string          `json:"id"`
	Type         JobType         `json:"job_type"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	Status       Status          `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	DedupeKey    string          `json:"dedupe_key,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status Status
	Type   JobType
	Limit  int
	Offset int
}

// ResetResult reports what the stuck-job reaper changed
type ResetResult struct {
	Requeued int64 `json:"requeued"`
	Failed   int64 `json:"failed"`
}
