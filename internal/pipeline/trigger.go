// Package pipeline decides when processed content warrants a new daily
// analysis and enqueues the analysis and prediction jobs that follow from it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marketpulse/pulse/internal/analysis"
	"github.com/marketpulse/pulse/internal/config"
	"github.com/marketpulse/pulse/internal/events"
	"github.com/marketpulse/pulse/internal/queue"
	"github.com/rs/zerolog"
)

// Reason explains why an analysis was triggered
type Reason string

const (
	ReasonNewContent Reason = "new content and no analysis today"
	ReasonStale      Reason = "analysis is stale and new content arrived"
	ReasonMorning    Reason = "morning cutoff passed without an analysis"
	ReasonAfternoon  Reason = "afternoon refresh of an old analysis"
	ReasonManual     Reason = "requested by operator"
)

// Config holds the trigger thresholds
type Config struct {
	// LookbackWindow is how far back processed content is counted
	LookbackWindow time.Duration
	// MinContentNoAnalysis is the count that triggers a first analysis of the day
	MinContentNoAnalysis int
	// MinContentStale is the count that triggers regeneration of a stale analysis
	MinContentStale int
	StaleAfter      time.Duration
	// AfternoonStaleAfter is the age past which the afternoon cutoff regenerates
	AfternoonStaleAfter time.Duration
	// MorningCutoff and AfternoonCutoff are offsets from local midnight
	MorningCutoff   time.Duration
	AfternoonCutoff time.Duration
	PredictionDelay time.Duration
	Location        *time.Location
}

// DefaultConfig returns the production thresholds in UTC
func DefaultConfig() Config {
	return Config{
		LookbackWindow:       6 * time.Hour,
		MinContentNoAnalysis: 5,
		MinContentStale:      3,
		StaleAfter:           6 * time.Hour,
		AfternoonStaleAfter:  8 * time.Hour,
		MorningCutoff:        9 * time.Hour,
		AfternoonCutoff:      15 * time.Hour,
		PredictionDelay:      600 * time.Second,
		Location:             time.UTC,
	}
}

// NewConfig converts the environment configuration
func NewConfig(tc config.TriggerConfig, loc *time.Location) (Config, error) {
	morning, err := config.ParseClock(tc.MorningCutoff)
	if err != nil {
		return Config{}, fmt.Errorf("morning cutoff: %w", err)
	}
	afternoon, err := config.ParseClock(tc.AfternoonCutoff)
	if err != nil {
		return Config{}, fmt.Errorf("afternoon cutoff: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}

	return Config{
		LookbackWindow:       tc.LookbackWindow,
		MinContentNoAnalysis: tc.MinContentNoAnalysis,
		MinContentStale:      tc.MinContentStale,
		StaleAfter:           tc.StaleAfter,
		AfternoonStaleAfter:  tc.AfternoonStaleAfter,
		MorningCutoff:        morning,
		AfternoonCutoff:      afternoon,
		PredictionDelay:      tc.PredictionDelay,
		Location:             loc,
	}, nil
}

// Decision is the outcome of one evaluation
type Decision struct {
	Date          string        `json:"date"`
	RecentContent int           `json:"recent_content"`
	HasAnalysis   bool          `json:"has_analysis"`
	AnalysisAge   time.Duration `json:"analysis_age,omitempty"`
	Reason        Reason        `json:"reason,omitempty"`
	// Triggered is true when a new analysis job was enqueued
	Triggered bool `json:"triggered"`
	// Duplicate is true when a trigger condition held but an analysis job for
	// the date was already active
	Duplicate       bool   `json:"duplicate"`
	AnalysisJobID   string `json:"analysis_job_id,omitempty"`
	PredictionJobID string `json:"prediction_job_id,omitempty"`
}

// AnalysisDedupeKey is the dedupe key of the analysis job for date
func AnalysisDedupeKey(date string) string {
	return "daily-analysis:" + date
}

// PredictionsDedupeKey is the dedupe key of the predictions job for date
func PredictionsDedupeKey(date string) string {
	return "generate-predictions:" + date
}

// ContentCounter counts processed content
type ContentCounter interface {
	CountProcessedSince(ctx context.Context, since time.Time) (int, error)
}

// AnalysisLookup finds the analysis for a date
type AnalysisLookup interface {
	GetByDate(ctx context.Context, date string) (*analysis.Analysis, error)
}

// Enqueuer is the part of the queue service the trigger needs
type Enqueuer interface {
	EnqueueUnique(ctx context.Context, key string, payload queue.Payload, priority int, delay time.Duration, opts ...queue.EnqueueOption) (string, error)
	HasActive(ctx context.Context, key string) (bool, error)
}

// Trigger evaluates the analysis conditions after content is processed
type Trigger struct {
	content  ContentCounter
	analyses AnalysisLookup
	queue    Enqueuer
	cfg      Config
	now      func() time.Time
	bus      *events.Bus
	log      zerolog.Logger
}

// NewTrigger creates a trigger. now defaults to time.Now, bus may be nil.
func NewTrigger(content ContentCounter, analyses AnalysisLookup, q Enqueuer, cfg Config, now func() time.Time, bus *events.Bus, log zerolog.Logger) *Trigger {
	if now == nil {
		now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Trigger{
		content:  content,
		analyses: analyses,
		queue:    q,
		cfg:      cfg,
		now:      now,
		bus:      bus,
		log:      log.With().Str("component", "dependency_trigger").Logger(),
	}
}

// Evaluate checks the trigger conditions for today and enqueues the analysis
// and prediction jobs when one holds. A nil error with Triggered false means
// there was nothing to do.
func (t *Trigger) Evaluate(ctx context.Context) (Decision, error) {
	now := t.now()
	d := Decision{Date: now.In(t.cfg.Location).Format(analysis.DateLayout)}

	count, err := t.content.CountProcessedSince(ctx, now.Add(-t.cfg.LookbackWindow))
	if err != nil {
		return d, fmt.Errorf("failed to count recent content: %w", err)
	}
	d.RecentContent = count

	existing, err := t.analyses.GetByDate(ctx, d.Date)
	if err != nil {
		return d, fmt.Errorf("failed to load analysis for %s: %w", d.Date, err)
	}
	if existing != nil {
		d.HasAnalysis = true
		d.AnalysisAge = existing.Age(now)
	}

	reason, ok := decide(now, count, existing, t.cfg)
	if !ok {
		t.log.Debug().
			Str("date", d.Date).
			Int("recent_content", count).
			Bool("has_analysis", d.HasAnalysis).
			Msg("No analysis trigger condition met")
		return d, nil
	}
	d.Reason = reason

	return t.enqueue(ctx, d)
}

// Force enqueues an analysis for today regardless of thresholds. Active jobs
// for the date still make it a duplicate.
func (t *Trigger) Force(ctx context.Context) (Decision, error) {
	now := t.now()
	d := Decision{Date: now.In(t.cfg.Location).Format(analysis.DateLayout), Reason: ReasonManual}
	return t.enqueue(ctx, d)
}

func (t *Trigger) enqueue(ctx context.Context, d Decision) (Decision, error) {
	key := AnalysisDedupeKey(d.Date)

	active, err := t.queue.HasActive(ctx, key)
	if err != nil {
		return d, fmt.Errorf("failed to check active analysis job: %w", err)
	}
	if active {
		d.Duplicate = true
		t.log.Debug().Str("date", d.Date).Str("reason", string(d.Reason)).Msg("Analysis job already active")
		return d, nil
	}

	// The unique index settles races between concurrent triggers past the check above
	id, err := t.queue.EnqueueUnique(ctx, key,
		queue.DailyAnalysisPayload{Date: d.Date, Reason: string(d.Reason)}, queue.PriorityAnalysis, 0)
	if errors.Is(err, queue.ErrDuplicate) {
		d.Duplicate = true
		return d, nil
	}
	if err != nil {
		return d, fmt.Errorf("failed to enqueue daily analysis: %w", err)
	}
	d.Triggered = true
	d.AnalysisJobID = id

	predID, err := t.queue.EnqueueUnique(ctx, PredictionsDedupeKey(d.Date),
		queue.GeneratePredictionsPayload{AnalysisDate: d.Date}, queue.PriorityPredictions, t.cfg.PredictionDelay)
	switch {
	case errors.Is(err, queue.ErrDuplicate):
		t.log.Debug().Str("date", d.Date).Msg("Prediction job already pending for date")
	case err != nil:
		return d, fmt.Errorf("failed to enqueue prediction generation: %w", err)
	default:
		d.PredictionJobID = predID
	}

	t.log.Info().
		Str("date", d.Date).
		Str("reason", string(d.Reason)).
		Int("recent_content", d.RecentContent).
		Str("analysis_job_id", d.AnalysisJobID).
		Str("prediction_job_id", d.PredictionJobID).
		Msg("Triggered daily analysis")

	t.bus.Emit("pipeline", &events.AnalysisTriggeredData{
		Date:            d.Date,
		Reason:          string(d.Reason),
		RecentContent:   d.RecentContent,
		AnalysisJobID:   d.AnalysisJobID,
		PredictionJobID: d.PredictionJobID,
	})
	return d, nil
}

// decide applies the trigger rules in order and returns the first that holds
func decide(now time.Time, count int, existing *analysis.Analysis, cfg Config) (Reason, bool) {
	local := now.In(cfg.Location)
	clock := time.Duration(local.Hour())*time.Hour + time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	if existing == nil {
		if count >= cfg.MinContentNoAnalysis {
			return ReasonNewContent, true
		}
		if clock >= cfg.MorningCutoff {
			return ReasonMorning, true
		}
		return "", false
	}

	age := existing.Age(now)
	if age > cfg.StaleAfter && count >= cfg.MinContentStale {
		return ReasonStale, true
	}
	if clock >= cfg.AfternoonCutoff && age > cfg.AfternoonStaleAfter {
		return ReasonAfternoon, true
	}
	return "", false
}
