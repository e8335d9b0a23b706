package di

import (
	"context"
	"fmt"

	"github.com/marketpulse/pulse/internal/archive"
	"github.com/marketpulse/pulse/internal/config"
	"github.com/marketpulse/pulse/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterMaintenance builds the cron scheduler with the reaper, horizon
// sweep, WAL checkpoint and, when a bucket is configured, the job archive
func RegisterMaintenance(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	sched := scheduler.New(log)
	mc := cfg.Maintenance

	if err := sched.AddJob(mc.ReaperSpec, scheduler.NewReaperJob(container.Queue, mc.StuckAfter, log)); err != nil {
		return err
	}
	if err := sched.AddJob(mc.SweepSpec, scheduler.NewSweepJob(container.Horizon, container.Queue.Now, log)); err != nil {
		return err
	}
	if err := sched.AddJob("0 0 * * * *", scheduler.NewWALCheckpointJob(container.DB, log)); err != nil {
		return err
	}

	if cfg.Archive.Bucket != "" {
		uploader, err := archive.NewS3Uploader(ctx, cfg.Archive, log)
		if err != nil {
			return fmt.Errorf("failed to create archive uploader: %w", err)
		}
		container.Archiver = archive.New(container.Queue, uploader, archive.Config{
			Prefix:    cfg.Archive.Prefix,
			Retention: mc.Retention,
			BatchSize: mc.ArchiveBatch,
		}, container.Queue.Now, log)

		if err := sched.AddJob(mc.ArchiveSpec, scheduler.NewArchiveJob(container.Archiver)); err != nil {
			return err
		}
	} else {
		log.Info().Msg("Job archive disabled (no bucket configured)")
	}

	container.Scheduler = sched
	return nil
}
