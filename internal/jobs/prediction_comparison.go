package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marketpulse/pulse/internal/events"
	"github.com/marketpulse/pulse/internal/llm"
	"github.com/marketpulse/pulse/internal/predictions"
	"github.com/marketpulse/pulse/internal/queue"
	"github.com/tidwall/gjson"
)

// comparisonWindow and comparisonSources bound the recent content sent with a comparison
const (
	comparisonWindow  = 7 * 24 * time.Hour
	comparisonSources = 30
)

// ComparePrediction scores a prediction against the latest analysis and recent
// content. A prediction that was already compared is left untouched.
func (h *Handlers) ComparePrediction(ctx context.Context, job *queue.Job, p queue.PredictionComparisonPayload) error {
	pred, err := h.Predictions.Get(ctx, p.PredictionID)
	if errors.Is(err, predictions.ErrNotFound) {
		return queue.Permanent(err)
	}
	if err != nil {
		return err
	}

	existing, err := h.Predictions.GetComparison(ctx, pred.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		h.log.Debug().Str("prediction_id", pred.ID).Msg("Prediction already compared")
		return nil
	}

	latest, err := h.Analyses.Latest(ctx)
	if err != nil {
		return err
	}
	if latest == nil {
		return fmt.Errorf("no analysis available to compare prediction %s", pred.ID)
	}

	now := h.Now()
	recent, err := h.Content.ListProcessedSince(ctx, now.Add(-comparisonWindow), comparisonSources)
	if err != nil {
		return err
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Prediction made on %s with horizon %s (confidence %.2f):\n%s\n\n",
		pred.AnalysisDate, pred.Horizon, pred.Confidence, pred.Text)
	fmt.Fprintf(&prompt, "Latest analysis (%s, %s):\n%s\n\n", latest.Date, latest.MarketSentiment, latest.OverallSummary)
	if len(recent) > 0 {
		prompt.WriteString("Recent news:\n")
		for _, item := range recent {
			fmt.Fprintf(&prompt, "- %s: %s\n", item.Title, item.Summary)
		}
	}

	doc, err := h.completeJSON(ctx, llm.Request{System: comparisonSystem, Prompt: prompt.String()})
	if err != nil {
		return fmt.Errorf("failed to compare prediction %s: %w", pred.ID, err)
	}

	r := gjson.Parse(doc)
	score := r.Get("accuracy_score")
	if !score.Exists() {
		return fmt.Errorf("%w: missing accuracy_score", llm.ErrInvalidJSON)
	}

	c := &predictions.Comparison{
		PredictionID:   pred.ID,
		AccuracyScore:  clamp01(score.Float()),
		OutcomeSummary: strings.TrimSpace(r.Get("outcome_summary").String()),
		ComparedAt:     now,
	}
	inserted, err := h.Predictions.RecordComparison(ctx, c)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	h.log.Info().
		Str("prediction_id", pred.ID).
		Str("horizon", string(pred.Horizon)).
		Float64("accuracy", c.AccuracyScore).
		Msg("Recorded prediction comparison")

	h.Bus.Emit("jobs", &events.ComparisonRecordedData{PredictionID: pred.ID, AccuracyScore: c.AccuracyScore})
	return nil
}
