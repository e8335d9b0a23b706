// Package events provides the in-process event bus for job lifecycle and pipeline events.
package events

import "time"

// EventType identifies an event
type EventType string

const (
	JobEnqueued  EventType = "JOB_ENQUEUED"
	JobStarted   EventType = "JOB_STARTED"
	JobCompleted EventType = "JOB_COMPLETED"
	JobRetrying  EventType = "JOB_RETRYING"
	JobFailed    EventType = "JOB_FAILED"
	JobsReset    EventType = "JOBS_RESET"

	AnalysisTriggered   EventType = "ANALYSIS_TRIGGERED"
	AnalysisUpdated     EventType = "ANALYSIS_UPDATED"
	PredictionsCreated  EventType = "PREDICTIONS_CREATED"
	ComparisonScheduled EventType = "COMPARISON_SCHEDULED"
	ComparisonRecorded  EventType = "COMPARISON_RECORDED"
)

// AllTypes lists every event type the bus carries
var AllTypes = []EventType{
	JobEnqueued, JobStarted, JobCompleted, JobRetrying, JobFailed, JobsReset,
	AnalysisTriggered, AnalysisUpdated, PredictionsCreated, ComparisonScheduled, ComparisonRecorded,
}

// Event is a single published event
type Event struct {
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data,omitempty"`
}
