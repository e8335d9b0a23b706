// Package archive exports finished jobs past retention to object storage
// and removes them from the job store.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/marketpulse/pulse/internal/queue"
	"github.com/rs/zerolog"
)

// maxBatchesPerRun bounds a single run so a huge backlog drains over several days
const maxBatchesPerRun = 50

// Uploader stores one archive object
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
}

// JobSource is the slice of the queue the archiver needs
type JobSource interface {
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]queue.Job, error)
	DeleteTerminal(ctx context.Context, ids []string) (int64, error)
}

// Config controls retention and object layout
type Config struct {
	Prefix    string
	Retention time.Duration
	BatchSize int
}

// Result summarizes one archive run
type Result struct {
	Archived int64    `json:"archived"`
	Objects  []string `json:"objects"`
}

// Archiver moves old terminal jobs to an Uploader
type Archiver struct {
	source   JobSource
	uploader Uploader
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger
}

// New creates an archiver. now defaults to time.Now.
func New(source JobSource, uploader Uploader, cfg Config, now func() time.Time, log zerolog.Logger) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if now == nil {
		now = time.Now
	}
	return &Archiver{
		source:   source,
		uploader: uploader,
		cfg:      cfg,
		now:      now,
		log:      log.With().Str("service", "archive").Logger(),
	}
}

// Run archives batches until no terminal job older than the retention window remains.
// A batch is deleted only after its object has been uploaded.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	var result Result

	now := a.now().UTC()
	cutoff := now.Add(-a.cfg.Retention)
	a.log.Info().Time("cutoff", cutoff).Msg("Starting job archive")

	for batch := 0; batch < maxBatchesPerRun; batch++ {
		jobs, err := a.source.ListTerminalBefore(ctx, cutoff, a.cfg.BatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to list archivable jobs: %w", err)
		}
		if len(jobs) == 0 {
			break
		}

		body, err := encode(jobs)
		if err != nil {
			return result, err
		}

		key := a.objectKey(now, batch)
		if err := a.uploader.Upload(ctx, key, bytes.NewReader(body), int64(len(body))); err != nil {
			return result, fmt.Errorf("failed to upload %s: %w", key, err)
		}

		ids := make([]string, len(jobs))
		for i := range jobs {
			ids[i] = jobs[i].ID
		}
		deleted, err := a.source.DeleteTerminal(ctx, ids)
		if err != nil {
			return result, fmt.Errorf("failed to delete archived jobs: %w", err)
		}

		result.Archived += deleted
		result.Objects = append(result.Objects, key)
		a.log.Debug().Str("object", key).Int("jobs", len(jobs)).Int("bytes", len(body)).Msg("Archived batch")

		if len(jobs) < a.cfg.BatchSize {
			break
		}
	}

	a.log.Info().Int64("archived", result.Archived).Int("objects", len(result.Objects)).Msg("Job archive completed")
	return result, nil
}

func (a *Archiver) objectKey(now time.Time, batch int) string {
	name := fmt.Sprintf("jobs-%s-%03d.jsonl.gz", now.Format("20060102T150405Z"), batch)
	return path.Join(a.cfg.Prefix, now.Format("2006/01/02"), name)
}

// encode writes jobs as gzip-compressed JSON lines
func encode(jobs []queue.Job) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for i := range jobs {
		if err := enc.Encode(&jobs[i]); err != nil {
			return nil, fmt.Errorf("failed to encode job %s: %w", jobs[i].ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress archive: %w", err)
	}
	return buf.Bytes(), nil
}
