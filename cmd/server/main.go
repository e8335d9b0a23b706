// Package main runs the pulse API server, worker pool and maintenance scheduler.
//
// Content items arrive over HTTP, are summarized by workers, and drive the
// daily analysis, prediction generation and horizon comparison jobs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marketpulse/pulse/internal/config"
	"github.com/marketpulse/pulse/internal/di"
	"github.com/marketpulse/pulse/internal/server"
	"github.com/marketpulse/pulse/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting pulse")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		DB:          container.DB,
		Queue:       container.Queue,
		Content:     container.ContentRepo,
		Analyses:    container.AnalysisRepo,
		Predictions: container.PredictionsRepo,
		Trigger:     container.Trigger,
		Horizon:     container.Horizon,
		Pool:        container.WorkerPool,
		Scheduler:   container.Scheduler,
		Bus:         container.EventBus,
		Now:         container.Queue.Now,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	if err := container.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start background workers")
	}
	log.Info().Int("port", cfg.Port).Int("workers", cfg.Worker.Count).Msg("Pulse started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop accepting requests first, then drain background work
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancel()
	container.Close(context.Background())

	log.Info().Msg("Pulse stopped")
}
