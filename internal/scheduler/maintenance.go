package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/marketpulse/pulse/internal/archive"
	"github.com/marketpulse/pulse/internal/horizon"
	"github.com/marketpulse/pulse/internal/queue"
	"github.com/rs/zerolog"
)

// Resetter recovers jobs abandoned in processing
type Resetter interface {
	ResetStuck(ctx context.Context, olderThan time.Duration) (queue.ResetResult, error)
}

// Sweeper schedules comparisons for predictions whose horizon has passed
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (horizon.SweepResult, error)
}

// Archiver moves expired terminal jobs to object storage
type Archiver interface {
	Run(ctx context.Context) (archive.Result, error)
}

// Checkpointer truncates the sqlite write-ahead log
type Checkpointer interface {
	WALCheckpoint(ctx context.Context, mode string) error
}

// ReaperJob requeues or fails jobs stuck in processing
type ReaperJob struct {
	queue     Resetter
	olderThan time.Duration
	log       zerolog.Logger
}

// NewReaperJob creates a reaper for jobs started more than olderThan ago
func NewReaperJob(q Resetter, olderThan time.Duration, log zerolog.Logger) *ReaperJob {
	return &ReaperJob{queue: q, olderThan: olderThan, log: log.With().Str("job", "stuck_reaper").Logger()}
}

// Name returns the job name
func (j *ReaperJob) Name() string { return "stuck_reaper" }

// Run executes the reaper
func (j *ReaperJob) Run(ctx context.Context) error {
	res, err := j.queue.ResetStuck(ctx, j.olderThan)
	if err != nil {
		return fmt.Errorf("failed to reset stuck jobs: %w", err)
	}
	if res.Requeued > 0 || res.Failed > 0 {
		j.log.Debug().Int64("requeued", res.Requeued).Int64("failed", res.Failed).Msg("Reaper pass done")
	}
	return nil
}

// SweepJob catches predictions whose comparison was never scheduled
type SweepJob struct {
	sweeper Sweeper
	now     func() time.Time
	log     zerolog.Logger
}

// NewSweepJob creates the horizon sweep job
func NewSweepJob(s Sweeper, now func() time.Time, log zerolog.Logger) *SweepJob {
	if now == nil {
		now = time.Now
	}
	return &SweepJob{sweeper: s, now: now, log: log.With().Str("job", "horizon_sweep").Logger()}
}

// Name returns the job name
func (j *SweepJob) Name() string { return "horizon_sweep" }

// Run executes the sweep
func (j *SweepJob) Run(ctx context.Context) error {
	res, err := j.sweeper.Sweep(ctx, j.now())
	if err != nil {
		return fmt.Errorf("horizon sweep failed: %w", err)
	}
	j.log.Debug().Int("scanned", res.Scanned).Int("scheduled", res.Scheduled).Int("skipped", res.Skipped).Msg("Horizon sweep done")
	return nil
}

// ArchiveJob exports and prunes old terminal jobs
type ArchiveJob struct {
	archiver Archiver
}

// NewArchiveJob wraps an archiver
func NewArchiveJob(a Archiver) *ArchiveJob {
	return &ArchiveJob{archiver: a}
}

// Name returns the job name
func (j *ArchiveJob) Name() string { return "job_archive" }

// Run executes the archive
func (j *ArchiveJob) Run(ctx context.Context) error {
	_, err := j.archiver.Run(ctx)
	return err
}

// WALCheckpointJob keeps the sqlite WAL from growing unbounded
type WALCheckpointJob struct {
	db  Checkpointer
	log zerolog.Logger
}

// NewWALCheckpointJob creates a checkpoint job
func NewWALCheckpointJob(db Checkpointer, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{db: db, log: log.With().Str("job", "wal_checkpoint").Logger()}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string { return "wal_checkpoint" }

// Run executes a TRUNCATE checkpoint. Failures are logged, not returned;
// a busy database simply checkpoints on the next run.
func (j *WALCheckpointJob) Run(ctx context.Context) error {
	if err := j.db.WALCheckpoint(ctx, "TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}
	return nil
}
