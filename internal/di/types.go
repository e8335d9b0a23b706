package di

import (
	"context"

	"github.com/marketpulse/pulse/internal/analysis"
	"github.com/marketpulse/pulse/internal/archive"
	"github.com/marketpulse/pulse/internal/config"
	"github.com/marketpulse/pulse/internal/content"
	"github.com/marketpulse/pulse/internal/database"
	"github.com/marketpulse/pulse/internal/events"
	"github.com/marketpulse/pulse/internal/horizon"
	"github.com/marketpulse/pulse/internal/jobs"
	"github.com/marketpulse/pulse/internal/llm"
	"github.com/marketpulse/pulse/internal/pipeline"
	"github.com/marketpulse/pulse/internal/predictions"
	"github.com/marketpulse/pulse/internal/queue"
	"github.com/marketpulse/pulse/internal/scheduler"
	"github.com/marketpulse/pulse/internal/telemetry"
	"github.com/marketpulse/pulse/internal/work"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config

	// Storage
	DB *database.DB

	// Repositories
	ContentRepo     *content.Repository
	AnalysisRepo    *analysis.Repository
	PredictionsRepo *predictions.Repository

	// Infrastructure
	EventBus        *events.Bus
	Metrics         *telemetry.Metrics
	metricsShutdown func(context.Context) error
	Notifier        queue.Notifier
	Queue           *queue.Service
	LLM             llm.Client

	// Pipeline
	Trigger  *pipeline.Trigger
	Horizon  *horizon.Scheduler
	Handlers *jobs.Handlers
	Registry *work.Registry

	// Background
	WorkerPool *work.Pool           // nil when the worker count is 0
	Scheduler  *scheduler.Scheduler // cron maintenance
	Archiver   *archive.Archiver    // nil unless an archive bucket is configured
}
