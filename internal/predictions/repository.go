package predictions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marketpulse/pulse/internal/database"
	"github.com/marketpulse/pulse/internal/utils"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

const predictionColumns = `id, analysis_date, prediction_text, time_horizon, confidence, created_at`

// Repository handles database operations for predictions and comparisons.
// Database: predictions, prediction_comparisons tables
type Repository struct {
	db  *bun.DB
	log zerolog.Logger
}

// NewRepository creates a prediction repository
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db.Bun(),
		log: log.With().Str("component", "prediction_repository").Logger(),
	}
}

func scanPrediction(row interface{ Scan(...interface{}) error }) (*Prediction, error) {
	var (
		p         Prediction
		createdAt int64
	)
	if err := row.Scan(&p.ID, &p.AnalysisDate, &p.Text, &p.Horizon, &p.Confidence, &createdAt); err != nil {
		return nil, err
	}
	p.CreatedAt = utils.FromMillis(createdAt)
	return &p, nil
}

// CreateBatch stores predictions in one transaction. IDs and CreatedAt are
// filled in when empty.
func (r *Repository) CreateBatch(ctx context.Context, preds []*Prediction, now time.Time) error {
	for _, p := range preds {
		if !p.Horizon.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidHorizon, p.Horizon)
		}
	}

	err := database.WithTransaction(ctx, r.db, func(tx bun.Tx) error {
		for _, p := range preds {
			if p.ID == "" {
				p.ID = uuid.New().String()
			}
			if p.CreatedAt.IsZero() {
				p.CreatedAt = now
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO predictions (`+predictionColumns+`)
				VALUES (?, ?, ?, ?, ?, ?)
			`, p.ID, p.AnalysisDate, p.Text, string(p.Horizon), p.Confidence, utils.Millis(p.CreatedAt))
			if err != nil {
				return fmt.Errorf("failed to insert prediction: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().Int("count", len(preds)).Msg("Stored predictions")
	return nil
}

// Get returns one prediction, or ErrNotFound
func (r *Repository) Get(ctx context.Context, id string) (*Prediction, error) {
	p, err := scanPrediction(r.db.QueryRowContext(ctx, "SELECT "+predictionColumns+" FROM predictions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction %s: %w", id, err)
	}
	return p, nil
}

// ListByAnalysisDate returns predictions for date created at or after since
func (r *Repository) ListByAnalysisDate(ctx context.Context, date string, since time.Time) ([]Prediction, error) {
	return r.query(ctx, `
		SELECT `+predictionColumns+` FROM predictions
		WHERE analysis_date = ? AND created_at >= ?
		ORDER BY created_at ASC, id ASC
	`, date, utils.Millis(since))
}

// UncomparedQuery selects predictions that have no comparison yet
type UncomparedQuery struct {
	// CreatedBefore bounds created_at per horizon. Horizons without an entry
	// are not returned.
	CreatedBefore map[Horizon]time.Time
	// AfterCreated and AfterID resume after the last row of a previous page
	AfterCreated time.Time
	AfterID      string
	Limit        int
}

// ListUncompared returns one page of uncompared predictions ordered by
// (created_at, id)
func (r *Repository) ListUncompared(ctx context.Context, q UncomparedQuery) ([]Prediction, error) {
	if q.Limit <= 0 {
		q.Limit = 200
	}

	var (
		bounds []string
		args   []interface{}
	)
	for _, h := range AllHorizons {
		cutoff, ok := q.CreatedBefore[h]
		if !ok {
			continue
		}
		bounds = append(bounds, "(p.time_horizon = ? AND p.created_at < ?)")
		args = append(args, string(h), utils.Millis(cutoff))
	}
	if len(bounds) == 0 {
		return nil, nil
	}

	query := `
		SELECT p.id, p.analysis_date, p.prediction_text, p.time_horizon, p.confidence, p.created_at
		FROM predictions p
		LEFT JOIN prediction_comparisons c ON c.prediction_id = p.id
		WHERE c.id IS NULL AND (` + strings.Join(bounds, " OR ") + `)`
	if q.AfterID != "" {
		after := utils.Millis(q.AfterCreated)
		query += " AND (p.created_at > ? OR (p.created_at = ? AND p.id > ?))"
		args = append(args, after, after, q.AfterID)
	}
	query += " ORDER BY p.created_at ASC, p.id ASC LIMIT ?"
	args = append(args, q.Limit)

	return r.query(ctx, query, args...)
}

// RecordComparison stores the comparison for a prediction. Returns false when
// the prediction already had one; the existing comparison is kept.
func (r *Repository) RecordComparison(ctx context.Context, c *Comparison) (bool, error) {
	if c.AccuracyScore < 0 || c.AccuracyScore > 1 {
		return false, fmt.Errorf("accuracy score %.3f outside [0,1]", c.AccuracyScore)
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO prediction_comparisons (id, prediction_id, accuracy_score, outcome_summary, compared_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (prediction_id) DO NOTHING
	`, c.ID, c.PredictionID, c.AccuracyScore, c.OutcomeSummary, utils.Millis(c.ComparedAt))
	if err != nil {
		return false, fmt.Errorf("failed to record comparison for %s: %w", c.PredictionID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		r.log.Debug().Str("prediction_id", c.PredictionID).Msg("Comparison already recorded")
		return false, nil
	}
	return true, nil
}

// GetComparison returns the comparison for predictionID, or nil when none exists
func (r *Repository) GetComparison(ctx context.Context, predictionID string) (*Comparison, error) {
	var (
		c          Comparison
		comparedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, prediction_id, accuracy_score, outcome_summary, compared_at
		FROM prediction_comparisons WHERE prediction_id = ?
	`, predictionID).Scan(&c.ID, &c.PredictionID, &c.AccuracyScore, &c.OutcomeSummary, &comparedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get comparison for %s: %w", predictionID, err)
	}
	c.ComparedAt = utils.FromMillis(comparedAt)
	return &c, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]Prediction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	result := make([]Prediction, 0)
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}
	return result, nil
}
