// Package content stores ingested feed items and their processing state.
package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/marketpulse/pulse/internal/database"
	"github.com/marketpulse/pulse/internal/utils"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

var (
	// ErrNotFound is returned when no content item has the requested id
	ErrNotFound = errors.New("content item not found")
	// ErrDuplicateURL is returned when an item with the same url was already ingested
	ErrDuplicateURL = errors.New("content item with the same url exists")
	// ErrInvalidItem is returned when an item fails field validation
	ErrInvalidItem = errors.New("invalid content item")
)

var validate = validator.New()

// Status is the processing state of a content item
type Status string

const (
	StatusNew       Status = "new"
	StatusProcessed Status = "processed"
)

// SourceType identifies the kind of feed an item came from
type SourceType string

const (
	SourcePodcast     SourceType = "podcast"
	SourceRSS         SourceType = "rss"
	SourceYouTube     SourceType = "youtube"
	SourceAPI         SourceType = "api"
	SourceMultiSource SourceType = "multi_source"
	SourceReddit      SourceType = "reddit"
)

// Item is one piece of ingested content
type Item struct {
	ID          string     `json:"id"`
	Source      string     `json:"source" validate:"required"`
	SourceType  SourceType `json:"source_type" validate:"omitempty,oneof=podcast rss youtube api multi_source reddit"`
	Title       string     `json:"title" validate:"required"`
	Body        string     `json:"body"`
	URL         string     `json:"url,omitempty" validate:"omitempty,url"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Status      Status     `json:"status"`
	Summary     string     `json:"summary,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

const itemColumns = `id, source, source_type, title, body, url, published_at, status, summary, processed_at, created_at`

// Repository handles database operations for content items.
// Database: content_items table
type Repository struct {
	db  *bun.DB
	log zerolog.Logger
}

// NewRepository creates a content repository
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db.Bun(),
		log: log.With().Str("component", "content_repository").Logger(),
	}
}

func scanItem(row interface{ Scan(...interface{}) error }) (*Item, error) {
	var (
		item                     Item
		url, summary             sql.NullString
		publishedAt, processedAt sql.NullInt64
		createdAt                int64
	)
	err := row.Scan(&item.ID, &item.Source, &item.SourceType, &item.Title, &item.Body, &url,
		&publishedAt, &item.Status, &summary, &processedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	item.URL = url.String
	item.Summary = summary.String
	item.PublishedAt = utils.FromNullMillis(publishedAt)
	item.ProcessedAt = utils.FromNullMillis(processedAt)
	item.CreatedAt = utils.FromMillis(createdAt)
	return &item, nil
}

// Create stores a new item in status new. ID and CreatedAt are filled in when empty.
func (r *Repository) Create(ctx context.Context, item *Item) error {
	if err := validate.Struct(item); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.SourceType == "" {
		item.SourceType = SourceRSS
	}
	item.Status = StatusNew

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO content_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, item.ID, item.Source, string(item.SourceType), item.Title, item.Body, utils.NullString(item.URL),
		utils.NullMillis(item.PublishedAt), string(item.Status), utils.NullString(item.Summary),
		utils.NullMillis(item.ProcessedAt), utils.Millis(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert content item: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateURL, item.URL)
	}

	r.log.Debug().
		Str("content_id", item.ID).
		Str("source", item.Source).
		Msg("Stored content item")
	return nil
}

// Get returns one item, or ErrNotFound
func (r *Repository) Get(ctx context.Context, id string) (*Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM content_items WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content item %s: %w", id, err)
	}
	return item, nil
}

// MarkProcessed stores the summary and flips the item to processed.
// Marking an already processed item again replaces its summary.
func (r *Repository) MarkProcessed(ctx context.Context, id, summary string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE content_items
		SET status = 'processed', summary = ?, processed_at = ?
		WHERE id = ?
	`, summary, utils.Millis(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark content item %s processed: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CountProcessedSince returns how many items were processed at or after since
func (r *Repository) CountProcessedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM content_items
		WHERE status = 'processed' AND processed_at >= ?
	`, utils.Millis(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count processed content: %w", err)
	}
	return n, nil
}

// ListProcessedSince returns items processed at or after since, newest first
func (r *Repository) ListProcessedSince(ctx context.Context, since time.Time, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, `
		SELECT `+itemColumns+` FROM content_items
		WHERE status = 'processed' AND processed_at >= ?
		ORDER BY processed_at DESC
		LIMIT ?
	`, utils.Millis(since), limit)
}

// ListNew returns unprocessed items, oldest first
func (r *Repository) ListNew(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, `
		SELECT `+itemColumns+` FROM content_items
		WHERE status = 'new'
		ORDER BY created_at ASC
		LIMIT ?
	`, limit)
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query content items: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating content items: %w", err)
	}
	return items, nil
}
