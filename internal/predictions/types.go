// Package predictions stores time-horizon predictions and their later
// comparison against outcomes.
package predictions

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no prediction has the requested id
	ErrNotFound = errors.New("prediction not found")
	// ErrInvalidHorizon is returned for horizons outside the supported set
	ErrInvalidHorizon = errors.New("invalid time horizon")
)

// Horizon is how far ahead a prediction looks
type Horizon string

const (
	HorizonWeek        Horizon = "1_week"
	HorizonMonth       Horizon = "1_month"
	HorizonThreeMonths Horizon = "3_months"
	HorizonSixMonths   Horizon = "6_months"
	HorizonYear        Horizon = "1_year"
)

// AllHorizons lists horizons from shortest to longest
var AllHorizons = []Horizon{HorizonWeek, HorizonMonth, HorizonThreeMonths, HorizonSixMonths, HorizonYear}

// Valid reports whether h is a supported horizon
func (h Horizon) Valid() bool {
	for _, known := range AllHorizons {
		if h == known {
			return true
		}
	}
	return false
}

// Prediction is one forecast derived from a daily analysis
type Prediction struct {
	ID           string    `json:"id"`
	AnalysisDate string    `json:"analysis_date"`
	Text         string    `json:"prediction_text"`
	Horizon      Horizon   `json:"time_horizon"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}

// Comparison records how a prediction played out
type Comparison struct {
	ID             string    `json:"id"`
	PredictionID   string    `json:"prediction_id"`
	AccuracyScore  float64   `json:"accuracy_score"`
	OutcomeSummary string    `json:"outcome_summary"`
	ComparedAt     time.Time `json:"compared_at"`
}
