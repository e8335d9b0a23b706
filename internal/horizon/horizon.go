// Package horizon schedules the comparison of each prediction against outcomes
// once its time horizon has elapsed.
package horizon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marketpulse/pulse/internal/events"
	"github.com/marketpulse/pulse/internal/predictions"
	"github.com/marketpulse/pulse/internal/queue"
	"github.com/rs/zerolog"
)

// DueDate returns when a prediction made at created with horizon h should be
// compared. Month horizons add calendar months, clamping the day to the end of
// the target month (Jan 31 + 1 month is Feb 29 in a leap year).
func DueDate(created time.Time, h predictions.Horizon) (time.Time, error) {
	switch h {
	case predictions.HorizonWeek:
		return created.AddDate(0, 0, 7), nil
	case predictions.HorizonMonth:
		return addMonths(created, 1), nil
	case predictions.HorizonThreeMonths:
		return addMonths(created, 3), nil
	case predictions.HorizonSixMonths:
		return addMonths(created, 6), nil
	case predictions.HorizonYear:
		return addMonths(created, 12), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", predictions.ErrInvalidHorizon, h)
	}
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// DedupeKey is the queue dedupe key of a prediction's comparison job
func DedupeKey(predictionID string) string {
	return "prediction-comparison:" + predictionID
}

// Enqueuer is the part of the queue service the scheduler needs
type Enqueuer interface {
	Enqueue(ctx context.Context, payload queue.Payload, priority int, delay time.Duration, opts ...queue.EnqueueOption) (string, error)
	HasAny(ctx context.Context, key string) (bool, error)
}

// PredictionSource lists predictions awaiting comparison
type PredictionSource interface {
	ListUncompared(ctx context.Context, q predictions.UncomparedQuery) ([]predictions.Prediction, error)
}

// minSpan is a lower bound on how far DueDate lies past the creation time.
// A calendar month is never shorter than 28 days, and a clamped year never
// shorter than 365.
func minSpan(h predictions.Horizon) time.Duration {
	const day = 24 * time.Hour
	switch h {
	case predictions.HorizonWeek:
		return 7 * day
	case predictions.HorizonMonth:
		return 28 * day
	case predictions.HorizonThreeMonths:
		return 3 * 28 * day
	case predictions.HorizonSixMonths:
		return 6 * 28 * day
	default:
		return 365 * day
	}
}

// dueCutoffs returns per-horizon created_at bounds outside of which nothing
// can be due at now
func dueCutoffs(now time.Time) map[predictions.Horizon]time.Time {
	cutoffs := make(map[predictions.Horizon]time.Time, len(predictions.AllHorizons))
	for _, h := range predictions.AllHorizons {
		cutoffs[h] = now.Add(-minSpan(h)).Add(time.Millisecond)
	}
	return cutoffs
}

// SweepResult reports what a sweep did
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Scheduled int `json:"scheduled"`
	Skipped   int `json:"skipped"`
}

// Scheduler enqueues prediction comparison jobs at their due dates
type Scheduler struct {
	queue     Enqueuer
	source    PredictionSource
	bus       *events.Bus
	batchSize int
	log       zerolog.Logger
}

// NewScheduler creates a horizon scheduler. bus may be nil.
func NewScheduler(q Enqueuer, source PredictionSource, bus *events.Bus, batchSize int, log zerolog.Logger) *Scheduler {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Scheduler{
		queue:     q,
		source:    source,
		bus:       bus,
		batchSize: batchSize,
		log:       log.With().Str("component", "horizon_scheduler").Logger(),
	}
}

// Schedule enqueues the comparison job for p at its due date. It returns
// queue.ErrDuplicate when an active comparison job already exists.
func (s *Scheduler) Schedule(ctx context.Context, p predictions.Prediction) (string, error) {
	due, err := DueDate(p.CreatedAt, p.Horizon)
	if err != nil {
		return "", err
	}

	payload := queue.PredictionComparisonPayload{PredictionID: p.ID, Horizon: string(p.Horizon)}
	id, err := s.queue.Enqueue(ctx, payload, queue.PriorityComparison, 0,
		queue.WithDedupeKey(DedupeKey(p.ID)), queue.At(due))
	if err != nil {
		return "", err
	}

	s.log.Debug().
		Str("prediction_id", p.ID).
		Str("horizon", string(p.Horizon)).
		Time("due", due).
		Msg("Scheduled prediction comparison")

	s.bus.Emit("horizon", &events.ComparisonScheduledData{
		PredictionID: p.ID,
		Horizon:      string(p.Horizon),
		JobID:        id,
		DueAt:        due,
	})
	return id, nil
}

// ScheduleAll schedules every prediction, treating existing jobs as success.
// It returns the number of newly enqueued jobs.
func (s *Scheduler) ScheduleAll(ctx context.Context, preds []predictions.Prediction) (int, error) {
	scheduled := 0
	for _, p := range preds {
		_, err := s.Schedule(ctx, p)
		if errors.Is(err, queue.ErrDuplicate) {
			continue
		}
		if err != nil {
			return scheduled, fmt.Errorf("failed to schedule comparison for %s: %w", p.ID, err)
		}
		scheduled++
	}
	return scheduled, nil
}

// Sweep enqueues comparison jobs for predictions that are due at now, have no
// recorded comparison and have never had a comparison job. Predictions whose
// job already ran (and failed for good) are left to the operator. Candidates
// are read in pages until exhausted, so rows skipped on one page never hide
// later ones.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult

	query := predictions.UncomparedQuery{CreatedBefore: dueCutoffs(now), Limit: s.batchSize}
	for {
		page, err := s.source.ListUncompared(ctx, query)
		if err != nil {
			return res, err
		}

		for _, p := range page {
			if err := s.sweepOne(ctx, p, now, &res); err != nil {
				return res, err
			}
		}

		if len(page) < s.batchSize {
			break
		}
		last := page[len(page)-1]
		query.AfterCreated, query.AfterID = last.CreatedAt, last.ID
	}

	if res.Scheduled > 0 {
		s.log.Info().
			Int("scanned", res.Scanned).
			Int("scheduled", res.Scheduled).
			Int("skipped", res.Skipped).
			Msg("Horizon sweep scheduled overdue comparisons")
	}
	return res, nil
}

func (s *Scheduler) sweepOne(ctx context.Context, p predictions.Prediction, now time.Time, res *SweepResult) error {
	res.Scanned++

	due, err := DueDate(p.CreatedAt, p.Horizon)
	if err != nil {
		s.log.Warn().Err(err).Str("prediction_id", p.ID).Msg("Skipping prediction with invalid horizon")
		res.Skipped++
		return nil
	}
	if due.After(now) {
		return nil
	}

	seen, err := s.queue.HasAny(ctx, DedupeKey(p.ID))
	if err != nil {
		return err
	}
	if seen {
		res.Skipped++
		return nil
	}

	if _, err := s.Schedule(ctx, p); err != nil {
		if errors.Is(err, queue.ErrDuplicate) {
			res.Skipped++
			return nil
		}
		return fmt.Errorf("failed to schedule comparison for %s: %w", p.ID, err)
	}
	res.Scheduled++
	return nil
}
