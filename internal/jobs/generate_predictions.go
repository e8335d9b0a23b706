package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/marketpulse/pulse/internal/events"
	"github.com/marketpulse/pulse/internal/llm"
	"github.com/marketpulse/pulse/internal/predictions"
	"github.com/marketpulse/pulse/internal/queue"
	"github.com/tidwall/gjson"
)

// GeneratePredictions derives predictions from the analysis of the payload
// date and schedules their comparisons. Predictions already generated from the
// current version of the analysis are reused, so a retried job does not
// duplicate them.
func (h *Handlers) GeneratePredictions(ctx context.Context, job *queue.Job, p queue.GeneratePredictionsPayload) error {
	a, err := h.Analyses.GetByDate(ctx, p.AnalysisDate)
	if err != nil {
		return err
	}
	if a == nil {
		// The analysis job may still be running or retrying
		return fmt.Errorf("analysis for %s is not available yet", p.AnalysisDate)
	}

	existing, err := h.Predictions.ListByAnalysisDate(ctx, p.AnalysisDate, a.UpdatedAt)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		n, err := h.Horizon.ScheduleAll(ctx, existing)
		if err != nil {
			return err
		}
		h.log.Info().
			Str("analysis_date", p.AnalysisDate).
			Int("existing", len(existing)).
			Int("scheduled", n).
			Msg("Predictions already generated for analysis")
		return nil
	}

	prompt := fmt.Sprintf("Analysis date: %s\nSentiment: %s (confidence %.2f)\nKey themes: %s\n\n%s",
		a.Date, a.MarketSentiment, a.ConfidenceScore, strings.Join(a.KeyThemes, ", "), a.OverallSummary)

	doc, err := h.completeJSON(ctx, llm.Request{System: predictionsSystem, Prompt: prompt})
	if err != nil {
		return fmt.Errorf("failed to generate predictions for %s: %w", p.AnalysisDate, err)
	}

	preds := h.parsePredictions(doc, p.AnalysisDate)
	if len(preds) == 0 {
		return fmt.Errorf("%w: no usable predictions in completion", llm.ErrInvalidJSON)
	}

	if err := h.Predictions.CreateBatch(ctx, preds, h.Now()); err != nil {
		return err
	}

	stored := make([]predictions.Prediction, len(preds))
	for i, pred := range preds {
		stored[i] = *pred
	}
	n, err := h.Horizon.ScheduleAll(ctx, stored)
	if err != nil {
		return err
	}

	h.log.Info().
		Str("analysis_date", p.AnalysisDate).
		Int("predictions", len(preds)).
		Int("comparisons_scheduled", n).
		Msg("Generated predictions")

	h.Bus.Emit("jobs", &events.PredictionsCreatedData{AnalysisDate: p.AnalysisDate, Count: len(preds)})
	return nil
}

func (h *Handlers) parsePredictions(doc, date string) []*predictions.Prediction {
	r := gjson.Parse(doc)
	list := r.Get("predictions")
	if !list.Exists() && r.IsArray() {
		list = r
	}

	var preds []*predictions.Prediction
	list.ForEach(func(_, v gjson.Result) bool {
		text := strings.TrimSpace(v.Get("prediction_text").String())
		horizon := predictions.Horizon(strings.TrimSpace(v.Get("time_horizon").String()))
		if text == "" || !horizon.Valid() {
			h.log.Warn().Str("horizon", string(horizon)).Msg("Dropping malformed prediction")
			return true
		}
		preds = append(preds, &predictions.Prediction{
			AnalysisDate: date,
			Text:         text,
			Horizon:      horizon,
			Confidence:   clamp01(v.Get("confidence").Float()),
		})
		return true
	})
	return preds
}
