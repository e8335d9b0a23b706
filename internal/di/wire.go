// Package di provides dependency injection wiring and initialization.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/marketpulse/pulse/internal/config"
	"github.com/marketpulse/pulse/internal/llm"
	"github.com/rs/zerolog"
)

// Option customizes wiring
type Option func(*Container)

// WithLLM replaces the HTTP LLM client
func WithLLM(client llm.Client) Option {
	return func(c *Container) { c.LLM = client }
}

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Open and migrate the database
// 2. Initialize repositories
// 3. Initialize services and the worker pool
// 4. Register maintenance jobs
// Nothing is started; call Start.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*Container, error) {
	db, err := InitializeDatabase(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	container := &Container{Config: cfg, DB: db}
	for _, opt := range opts {
		opt(container)
	}

	InitializeRepositories(container, log)

	if err := InitializeServices(ctx, container, cfg, log); err != nil {
		container.Close(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := RegisterMaintenance(ctx, container, cfg, log); err != nil {
		container.Close(ctx)
		return nil, fmt.Errorf("failed to register maintenance jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")
	return container, nil
}

// Start launches the worker pool and the maintenance scheduler
func (c *Container) Start(ctx context.Context) error {
	if c.WorkerPool != nil {
		if err := c.WorkerPool.Start(ctx); err != nil {
			return err
		}
	}
	if c.Scheduler != nil {
		c.Scheduler.Start()
	}
	return nil
}

// Close stops background work and releases resources. Workers finish and
// report their in-flight job before the database closes.
func (c *Container) Close(ctx context.Context) {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.WorkerPool != nil {
		c.WorkerPool.Stop()
	}
	if c.Notifier != nil {
		_ = c.Notifier.Close()
	}
	if c.metricsShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = c.metricsShutdown(shutdownCtx)
		cancel()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
