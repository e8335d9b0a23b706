package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marketpulse/pulse/internal/analysis"
	"github.com/marketpulse/pulse/internal/events"
	"github.com/marketpulse/pulse/internal/llm"
	"github.com/marketpulse/pulse/internal/queue"
	"github.com/marketpulse/pulse/internal/utils"
	"github.com/tidwall/gjson"
)

// analysisWindow is how far back content feeds one analysis
const analysisWindow = 24 * time.Hour

var sentiments = map[string]bool{
	analysis.SentimentBullish: true,
	analysis.SentimentBearish: true,
	analysis.SentimentNeutral: true,
	analysis.SentimentMixed:   true,
}

// DailyAnalysis asks the LLM for the market analysis of the payload date over
// the content processed in the last 24 hours, and upserts it.
func (h *Handlers) DailyAnalysis(ctx context.Context, job *queue.Job, p queue.DailyAnalysisPayload) error {
	defer utils.OperationTimer("daily_analysis", h.log)()

	now := h.Now()
	items, err := h.Content.ListProcessedSince(ctx, now.Add(-analysisWindow), maxAnalysisSources)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return queue.Permanent(fmt.Errorf("no processed content in the last %s for %s", analysisWindow, p.Date))
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Analysis date: %s\nSources: %d\n\n", p.Date, len(items))
	for i, item := range items {
		fmt.Fprintf(&prompt, "%d. [%s] %s\n%s\n\n", i+1, item.Source, item.Title, item.Summary)
	}

	doc, err := h.completeJSON(ctx, llm.Request{System: analysisSystem, Prompt: prompt.String()})
	if err != nil {
		return fmt.Errorf("failed to generate analysis for %s: %w", p.Date, err)
	}

	a := parseAnalysis(doc)
	a.Date = p.Date
	a.SourcesAnalyzed = len(items)
	if err := h.Analyses.Upsert(ctx, a, now); err != nil {
		return err
	}

	h.Bus.Emit("jobs", &events.AnalysisUpdatedData{
		Date:            a.Date,
		Sentiment:       a.MarketSentiment,
		Confidence:      a.ConfidenceScore,
		SourcesAnalyzed: a.SourcesAnalyzed,
	})
	return nil
}

func parseAnalysis(doc string) *analysis.Analysis {
	r := gjson.Parse(doc)

	a := &analysis.Analysis{
		MarketSentiment: strings.ToLower(strings.TrimSpace(r.Get("market_sentiment").String())),
		OverallSummary:  strings.TrimSpace(r.Get("overall_summary").String()),
		ConfidenceScore: clamp01(r.Get("confidence_score").Float()),
		KeyThemes:       []string{},
	}
	if !sentiments[a.MarketSentiment] {
		a.MarketSentiment = analysis.SentimentNeutral
	}
	r.Get("key_themes").ForEach(func(_, v gjson.Result) bool {
		if theme := strings.TrimSpace(v.String()); theme != "" {
			a.KeyThemes = append(a.KeyThemes, theme)
		}
		return true
	})
	return a
}
