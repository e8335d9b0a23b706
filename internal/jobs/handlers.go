// Package jobs implements the handlers for every queued job type.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marketpulse/pulse/internal/analysis"
	"github.com/marketpulse/pulse/internal/content"
	"github.com/marketpulse/pulse/internal/events"
	"github.com/marketpulse/pulse/internal/llm"
	"github.com/marketpulse/pulse/internal/pipeline"
	"github.com/marketpulse/pulse/internal/predictions"
	"github.com/marketpulse/pulse/internal/queue"
	"github.com/marketpulse/pulse/internal/utils"
	"github.com/marketpulse/pulse/internal/work"
	"github.com/rs/zerolog"
)

// ContentStore is the content repository as seen by the handlers
type ContentStore interface {
	Get(ctx context.Context, id string) (*content.Item, error)
	MarkProcessed(ctx context.Context, id, summary string, at time.Time) error
	ListProcessedSince(ctx context.Context, since time.Time, limit int) ([]content.Item, error)
}

// AnalysisStore is the analysis repository as seen by the handlers
type AnalysisStore interface {
	GetByDate(ctx context.Context, date string) (*analysis.Analysis, error)
	Latest(ctx context.Context) (*analysis.Analysis, error)
	Upsert(ctx context.Context, a *analysis.Analysis, now time.Time) error
}

// PredictionStore is the prediction repository as seen by the handlers
type PredictionStore interface {
	Get(ctx context.Context, id string) (*predictions.Prediction, error)
	CreateBatch(ctx context.Context, preds []*predictions.Prediction, now time.Time) error
	ListByAnalysisDate(ctx context.Context, date string, since time.Time) ([]predictions.Prediction, error)
	RecordComparison(ctx context.Context, c *predictions.Comparison) (bool, error)
	GetComparison(ctx context.Context, predictionID string) (*predictions.Comparison, error)
}

// Evaluator runs the analysis trigger
type Evaluator interface {
	Evaluate(ctx context.Context) (pipeline.Decision, error)
}

// ComparisonScheduler schedules prediction comparisons
type ComparisonScheduler interface {
	ScheduleAll(ctx context.Context, preds []predictions.Prediction) (int, error)
}

// Deps are the collaborators of the handlers
type Deps struct {
	Content     ContentStore
	Analyses    AnalysisStore
	Predictions PredictionStore
	LLM         llm.Client
	Trigger     Evaluator
	Horizon     ComparisonScheduler
	Bus         *events.Bus
	Now         func() time.Time
	Log         zerolog.Logger
}

// Handlers holds one method per job type
type Handlers struct {
	Deps
	log zerolog.Logger
}

// New creates the job handlers
func New(deps Deps) *Handlers {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handlers{
		Deps: deps,
		log:  deps.Log.With().Str("component", "jobs").Logger(),
	}
}

// Register installs every handler in reg
func (h *Handlers) Register(reg *work.Registry) {
	reg.Register(queue.JobTypeContentProcess, work.Typed(h.ProcessContent))
	reg.Register(queue.JobTypeDailyAnalysis, work.Typed(h.DailyAnalysis))
	reg.Register(queue.JobTypeGeneratePredictions, work.Typed(h.GeneratePredictions))
	reg.Register(queue.JobTypePredictionComparison, work.Typed(h.ComparePrediction))
}

// complete calls the LLM. Requests the provider rejected are permanent; they
// would be rejected again on retry.
func (h *Handlers) complete(ctx context.Context, req llm.Request) (string, error) {
	out, err := h.LLM.Complete(ctx, req)
	if errors.Is(err, llm.ErrRejected) {
		return "", queue.Permanent(err)
	}
	if err != nil {
		return "", err
	}
	return out, nil
}

// completeJSON calls the LLM and extracts a JSON document. Malformed output is
// transient; sampling usually produces valid JSON on the next attempt.
func (h *Handlers) completeJSON(ctx context.Context, req llm.Request) (string, error) {
	req.JSON = true
	out, err := h.complete(ctx, req)
	if err != nil {
		return "", err
	}
	doc, err := llm.ExtractJSON(out)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, utils.Truncate(out, 120))
	}
	return doc, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
