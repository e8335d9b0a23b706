package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// JobStatusData contains data for job lifecycle events
type JobStatusData struct {
	JobID       string    `json:"job_id"`
	JobType     string    `json:"job_type"`
	Status      string    `json:"status"` // "enqueued", "started", "completed", "retrying", "failed"
	Priority    int       `json:"priority"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
}

// EventType returns the event type for JobStatusData.
// The actual event type is determined by the Status field.
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "enqueued":
		return JobEnqueued
	case "completed":
		return JobCompleted
	case "retrying":
		return JobRetrying
	case "failed":
		return JobFailed
	default:
		return JobStarted
	}
}

// JobsResetData contains data for stuck-job reaper runs
type JobsResetData struct {
	Requeued int64 `json:"requeued"`
	Failed   int64 `json:"failed"`
}

// EventType returns the event type for JobsResetData
func (d *JobsResetData) EventType() EventType {
	return JobsReset
}

// AnalysisTriggeredData contains data for AnalysisTriggered events
type AnalysisTriggeredData struct {
	Date            string `json:"date"`
	Reason          string `json:"reason"`
	RecentContent   int    `json:"recent_content"`
	AnalysisJobID   string `json:"analysis_job_id"`
	PredictionJobID string `json:"prediction_job_id,omitempty"`
}

// EventType returns the event type for AnalysisTriggeredData
func (d *AnalysisTriggeredData) EventType() EventType {
	return AnalysisTriggered
}

// AnalysisUpdatedData contains data for AnalysisUpdated events
type AnalysisUpdatedData struct {
	Date            string  `json:"date"`
	Sentiment       string  `json:"sentiment"`
	Confidence      float64 `json:"confidence"`
	SourcesAnalyzed int     `json:"sources_analyzed"`
}

// EventType returns the event type for AnalysisUpdatedData
func (d *AnalysisUpdatedData) EventType() EventType {
	return AnalysisUpdated
}

// PredictionsCreatedData contains data for PredictionsCreated events
type PredictionsCreatedData struct {
	AnalysisDate string `json:"analysis_date"`
	Count        int    `json:"count"`
}

// EventType returns the event type for PredictionsCreatedData
func (d *PredictionsCreatedData) EventType() EventType {
	return PredictionsCreated
}

// ComparisonScheduledData contains data for ComparisonScheduled events
type ComparisonScheduledData struct {
	PredictionID string    `json:"prediction_id"`
	Horizon      string    `json:"horizon"`
	DueAt        time.Time `json:"due_at"`
	JobID        string    `json:"job_id"`
}

// EventType returns the event type for ComparisonScheduledData
func (d *ComparisonScheduledData) EventType() EventType {
	return ComparisonScheduled
}

// ComparisonRecordedData contains data for ComparisonRecorded events
type ComparisonRecordedData struct {
	PredictionID  string  `json:"prediction_id"`
	AccuracyScore float64 `json:"accuracy_score"`
}

// EventType returns the event type for ComparisonRecordedData
func (d *ComparisonRecordedData) EventType() EventType {
	return ComparisonRecorded
}

// MarshalJSON flattens the event for websocket clients
func (e *Event) MarshalJSON() ([]byte, error) {
	var data json.RawMessage
	if e.Data != nil {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		data = b
	}

	return json.Marshal(struct {
		Type      EventType       `json:"type"`
		Module    string          `json:"module"`
		Timestamp string          `json:"timestamp"`
		Data      json.RawMessage `json:"data,omitempty"`
	}{
		Type:      e.Type,
		Module:    e.Module,
		Timestamp: e.Timestamp.Format(time.RFC3339),
		Data:      data,
	})
}
