// Package analysis stores the daily market analysis, one row per calendar date.
package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marketpulse/pulse/internal/database"
	"github.com/marketpulse/pulse/internal/utils"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// DateLayout is the format of analysis dates
const DateLayout = "2006-01-02"

// Sentiment values produced by the analysis prompt
const (
	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"
	SentimentMixed   = "mixed"
)

// Analysis is the market analysis for one date
type Analysis struct {
	ID              string    `json:"id"`
	Date            string    `json:"analysis_date"`
	MarketSentiment string    `json:"market_sentiment"`
	KeyThemes       []string  `json:"key_themes"`
	OverallSummary  string    `json:"overall_summary"`
	ConfidenceScore float64   `json:"confidence_score"`
	SourcesAnalyzed int       `json:"sources_analyzed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Age returns how long ago the analysis was last written
func (a *Analysis) Age(now time.Time) time.Duration {
	return now.Sub(a.UpdatedAt)
}

const analysisColumns = `id, analysis_date, market_sentiment, key_themes, overall_summary,
	confidence_score, sources_analyzed, created_at, updated_at`

// Repository handles database operations for daily analyses.
// Database: daily_analysis table
type Repository struct {
	db  *bun.DB
	log zerolog.Logger
}

// NewRepository creates an analysis repository
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db.Bun(),
		log: log.With().Str("component", "analysis_repository").Logger(),
	}
}

func scanAnalysis(row interface{ Scan(...interface{}) error }) (*Analysis, error) {
	var (
		a                    Analysis
		themes               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&a.ID, &a.Date, &a.MarketSentiment, &themes, &a.OverallSummary,
		&a.ConfidenceScore, &a.SourcesAnalyzed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(themes), &a.KeyThemes); err != nil {
		return nil, fmt.Errorf("failed to decode key themes for %s: %w", a.Date, err)
	}
	a.CreatedAt = utils.FromMillis(createdAt)
	a.UpdatedAt = utils.FromMillis(updatedAt)
	return &a, nil
}

// Upsert writes the analysis for a.Date, replacing an existing one for the
// same date. ID and CreatedAt are set from the stored row.
func (r *Repository) Upsert(ctx context.Context, a *Analysis, now time.Time) error {
	if _, err := time.Parse(DateLayout, a.Date); err != nil {
		return fmt.Errorf("invalid analysis date %q: %w", a.Date, err)
	}
	if a.KeyThemes == nil {
		a.KeyThemes = []string{}
	}
	themes, err := json.Marshal(a.KeyThemes)
	if err != nil {
		return fmt.Errorf("failed to encode key themes: %w", err)
	}

	var createdAt int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO daily_analysis (`+analysisColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (analysis_date) DO UPDATE SET
			market_sentiment = excluded.market_sentiment,
			key_themes = excluded.key_themes,
			overall_summary = excluded.overall_summary,
			confidence_score = excluded.confidence_score,
			sources_analyzed = excluded.sources_analyzed,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`, uuid.New().String(), a.Date, a.MarketSentiment, string(themes), a.OverallSummary,
		a.ConfidenceScore, a.SourcesAnalyzed, utils.Millis(now), utils.Millis(now),
	).Scan(&a.ID, &createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert analysis for %s: %w", a.Date, err)
	}

	a.CreatedAt = utils.FromMillis(createdAt)
	a.UpdatedAt = utils.FromMillis(utils.Millis(now))

	r.log.Info().
		Str("analysis_date", a.Date).
		Str("sentiment", a.MarketSentiment).
		Int("sources", a.SourcesAnalyzed).
		Msg("Stored daily analysis")
	return nil
}

// GetByDate returns the analysis for date, or nil when none exists
func (r *Repository) GetByDate(ctx context.Context, date string) (*Analysis, error) {
	a, err := scanAnalysis(r.db.QueryRowContext(ctx,
		"SELECT "+analysisColumns+" FROM daily_analysis WHERE analysis_date = ?", date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis for %s: %w", date, err)
	}
	return a, nil
}

// Latest returns the most recent analysis, or nil when none exists
func (r *Repository) Latest(ctx context.Context) (*Analysis, error) {
	a, err := scanAnalysis(r.db.QueryRowContext(ctx,
		"SELECT "+analysisColumns+" FROM daily_analysis ORDER BY analysis_date DESC LIMIT 1"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest analysis: %w", err)
	}
	return a, nil
}

// ListRecent returns up to limit analyses, newest date first
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+analysisColumns+" FROM daily_analysis ORDER BY analysis_date DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	result := make([]Analysis, 0)
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analyses: %w", err)
	}
	return result, nil
}
