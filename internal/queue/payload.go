package queue

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Payload is the typed body of a job. Each job type has exactly one payload type.
type Payload interface {
	JobType() JobType
}

// ContentProcessPayload asks a worker to summarize one ingested content item
type ContentProcessPayload struct {
	ContentID string `json:"content_id" validate:"required"`
}

func (ContentProcessPayload) JobType() JobType { return JobTypeContentProcess }

// DailyAnalysisPayload asks for the analysis of one calendar date
type DailyAnalysisPayload struct {
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Reason string `json:"reason,omitempty"`
}

func (DailyAnalysisPayload) JobType() JobType { return JobTypeDailyAnalysis }

// GeneratePredictionsPayload chains prediction generation to an analysis date.
// The analysis may not exist yet when the job is enqueued.
type GeneratePredictionsPayload struct {
	AnalysisDate string `json:"analysis_date" validate:"required,datetime=2006-01-02"`
}

func (GeneratePredictionsPayload) JobType() JobType { return JobTypeGeneratePredictions }

// PredictionComparisonPayload asks for a prediction to be scored against outcomes
type PredictionComparisonPayload struct {
	PredictionID string `json:"prediction_id" validate:"required"`
	Horizon      string `json:"horizon,omitempty" validate:"omitempty,oneof=1_week 1_month 3_months 6_months 1_year"`
}

func (PredictionComparisonPayload) JobType() JobType { return JobTypePredictionComparison }

// KnownTypes lists every job type with a payload definition
func KnownTypes() []JobType {
	return []JobType{
		JobTypeContentProcess,
		JobTypeDailyAnalysis,
		JobTypeGeneratePredictions,
		JobTypePredictionComparison,
	}
}

func newPayload(jobType JobType) (Payload, error) {
	switch jobType {
	case JobTypeContentProcess:
		return &ContentProcessPayload{}, nil
	case JobTypeDailyAnalysis:
		return &DailyAnalysisPayload{}, nil
	case JobTypeGeneratePredictions:
		return &GeneratePredictionsPayload{}, nil
	case JobTypePredictionComparison:
		return &PredictionComparisonPayload{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
}

// ParsePayload decodes and validates raw JSON for jobType.
// The returned Payload is a pointer to the concrete payload struct.
func ParsePayload(jobType JobType, raw json.RawMessage) (Payload, error) {
	p, err := newPayload(jobType)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, jobType, err)
	}
	if err := ValidatePayload(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ValidatePayload checks struct tags on p
func ValidatePayload(p Payload) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, p.JobType(), err)
	}
	return nil
}

// DecodePayload returns the typed payload of job. Decode failures are permanent:
// the payload is fixed at creation and will never become valid.
func DecodePayload(job *Job) (Payload, error) {
	p, err := ParsePayload(job.Type, job.Payload)
	if err != nil {
		return nil, Permanent(err)
	}
	return p, nil
}

// Decode returns job's payload as the concrete type P, accepting either the
// struct or a pointer to it as the type parameter.
func Decode[P Payload](job *Job) (P, error) {
	var zero P

	p, err := DecodePayload(job)
	if err != nil {
		return zero, err
	}
	if typed, ok := p.(P); ok {
		return typed, nil
	}
	if typed, ok := deref(p).(P); ok {
		return typed, nil
	}
	return zero, Permanent(fmt.Errorf("%w: %s payload is %T", ErrInvalidPayload, job.Type, p))
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *ContentProcessPayload:
		return *v
	case *DailyAnalysisPayload:
		return *v
	case *GeneratePredictionsPayload:
		return *v
	case *PredictionComparisonPayload:
		return *v
	default:
		return p
	}
}
