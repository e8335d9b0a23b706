package di

import (
	"context"
	"fmt"

	"github.com/marketpulse/pulse/internal/analysis"
	"github.com/marketpulse/pulse/internal/config"
	"github.com/marketpulse/pulse/internal/content"
	"github.com/marketpulse/pulse/internal/events"
	"github.com/marketpulse/pulse/internal/horizon"
	"github.com/marketpulse/pulse/internal/jobs"
	"github.com/marketpulse/pulse/internal/llm"
	"github.com/marketpulse/pulse/internal/pipeline"
	"github.com/marketpulse/pulse/internal/predictions"
	"github.com/marketpulse/pulse/internal/queue"
	"github.com/marketpulse/pulse/internal/telemetry"
	"github.com/marketpulse/pulse/internal/work"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the stores backed by container.DB
func InitializeRepositories(container *Container, log zerolog.Logger) {
	container.ContentRepo = content.NewRepository(container.DB, log)
	container.AnalysisRepo = analysis.NewRepository(container.DB, log)
	container.PredictionsRepo = predictions.NewRepository(container.DB, log)
}

// InitializeServices creates the queue, LLM client, pipeline components and
// the worker pool. Nothing is started here.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.EventBus = events.NewBus(log)

	metrics, shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:  cfg.Metrics.Enabled,
		Endpoint: cfg.Metrics.Endpoint,
		Insecure: cfg.Metrics.Insecure,
		Interval: cfg.Metrics.Interval,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}
	container.Metrics = metrics
	container.metricsShutdown = shutdown

	if cfg.RedisURL != "" {
		notifier, err := queue.NewRedisNotifier(ctx, cfg.RedisURL, log)
		if err != nil {
			return fmt.Errorf("failed to connect notifier: %w", err)
		}
		container.Notifier = notifier
		log.Info().Msg("Using redis for worker wake-ups")
	} else {
		container.Notifier = queue.NewMemoryNotifier()
	}

	container.Queue = queue.NewService(
		queue.NewStore(container.DB),
		queue.Config{
			MaxAttempts: cfg.Queue.MaxAttempts,
			Backoff:     queue.Backoff{Base: cfg.Queue.BackoffBase, Max: cfg.Queue.BackoffMax},
		},
		log,
		queue.WithEventBus(container.EventBus),
		queue.WithMetrics(container.Metrics),
		queue.WithNotifier(container.Notifier),
	)

	if container.LLM == nil {
		container.LLM = llm.NewHTTPClient(llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Timeout:     cfg.LLM.Timeout,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		}, log)
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	triggerCfg, err := pipeline.NewConfig(cfg.Trigger, loc)
	if err != nil {
		return fmt.Errorf("invalid trigger config: %w", err)
	}
	container.Trigger = pipeline.NewTrigger(
		container.ContentRepo, container.AnalysisRepo, container.Queue, triggerCfg,
		container.Queue.Now, container.EventBus, log,
	)

	container.Horizon = horizon.NewScheduler(container.Queue, container.PredictionsRepo,
		container.EventBus, cfg.Maintenance.SweepBatch, log)

	container.Handlers = jobs.New(jobs.Deps{
		Content:     container.ContentRepo,
		Analyses:    container.AnalysisRepo,
		Predictions: container.PredictionsRepo,
		LLM:         container.LLM,
		Trigger:     container.Trigger,
		Horizon:     container.Horizon,
		Bus:         container.EventBus,
		Now:         container.Queue.Now,
		Log:         log,
	})
	container.Registry = work.NewRegistry()
	container.Handlers.Register(container.Registry)

	if cfg.Worker.Count > 0 {
		container.WorkerPool = NewWorkerPool(container, cfg, cfg.Worker.Count, log)
	}

	log.Info().Int("workers", cfg.Worker.Count).Msg("Services initialized")
	return nil
}

// NewWorkerPool builds a pool of count workers over the container's queue
func NewWorkerPool(container *Container, cfg *config.Config, count int, log zerolog.Logger) *work.Pool {
	return work.NewPool(count, container.Queue, container.Registry, container.Notifier, work.Config{
		PollInterval: cfg.Worker.PollInterval,
		ErrorBackoff: cfg.Worker.ErrorBackoff,
		JobTimeout:   cfg.Worker.JobTimeout,
	}, container.Metrics, log)
}
