package predictions

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Accuracy summarizes comparison scores for one horizon
type Accuracy struct {
	Horizon Horizon `json:"horizon"`
	Count   int     `json:"count"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// AccuracyByHorizon returns score statistics for every horizon that has at
// least one comparison, in horizon order
func (r *Repository) AccuracyByHorizon(ctx context.Context) ([]Accuracy, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.time_horizon, c.accuracy_score
		FROM prediction_comparisons c
		JOIN predictions p ON p.id = c.prediction_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query comparison scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[Horizon][]float64)
	for rows.Next() {
		var (
			h     Horizon
			score float64
		)
		if err := rows.Scan(&h, &score); err != nil {
			return nil, fmt.Errorf("failed to scan comparison score: %w", err)
		}
		scores[h] = append(scores[h], score)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comparison scores: %w", err)
	}

	result := make([]Accuracy, 0, len(scores))
	for _, h := range AllHorizons {
		if len(scores[h]) == 0 {
			continue
		}
		result = append(result, Summarize(h, scores[h]))
	}
	return result, nil
}

// Summarize computes accuracy statistics over scores. The standard deviation
// of a single score is 0.
func Summarize(h Horizon, scores []float64) Accuracy {
	a := Accuracy{Horizon: h, Count: len(scores)}
	if len(scores) == 0 {
		return a
	}

	a.Mean, a.StdDev = stat.MeanStdDev(scores, nil)
	if math.IsNaN(a.StdDev) {
		a.StdDev = 0
	}
	a.Min = floats.Min(scores)
	a.Max = floats.Max(scores)
	return a
}
