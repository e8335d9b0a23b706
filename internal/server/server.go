// Package server provides the HTTP admin API for the job pipeline.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/marketpulse/pulse/internal/analysis"
	"github.com/marketpulse/pulse/internal/content"
	"github.com/marketpulse/pulse/internal/database"
	"github.com/marketpulse/pulse/internal/events"
	"github.com/marketpulse/pulse/internal/horizon"
	"github.com/marketpulse/pulse/internal/pipeline"
	"github.com/marketpulse/pulse/internal/predictions"
	"github.com/marketpulse/pulse/internal/queue"
	"github.com/marketpulse/pulse/internal/scheduler"
	"github.com/marketpulse/pulse/internal/work"
)

// Config holds server dependencies. Pool and Scheduler are optional.
type Config struct {
	Log         zerolog.Logger
	Port        int
	DevMode     bool
	DB          *database.DB
	Queue       *queue.Service
	Content     *content.Repository
	Analyses    *analysis.Repository
	Predictions *predictions.Repository
	Trigger     *pipeline.Trigger
	Horizon     *horizon.Scheduler
	Pool        *work.Pool
	Scheduler   *scheduler.Scheduler
	Bus         *events.Bus
	Now         func() time.Time
}

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	cfg     Config
	started time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		cfg:     cfg,
		started: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket and SSE connections are long-lived; handlers set their own limits
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Event streams are excluded from the request timeout and compression
		r.Get("/events/ws", s.handleEventsWebSocket)
		r.Get("/events/stream", s.handleEventsSSE)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			if !s.cfg.DevMode {
				r.Use(middleware.Compress(5))
			}

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.handleListJobs)
				r.Post("/", s.handleEnqueueJob)
				r.Get("/stats", s.handleJobStats)
				r.Post("/retry/reschedule", s.handleRescheduleRetries)
				r.Post("/stuck/reset", s.handleResetStuck)
				r.Get("/{id}", s.handleGetJob)
			})

			r.Post("/content", s.handleIngestContent)

			r.Route("/analysis", func(r chi.Router) {
				r.Get("/", s.handleListAnalyses)
				r.Get("/latest", s.handleLatestAnalysis)
				r.Post("/trigger", s.handleForceAnalysis)
				r.Post("/evaluate", s.handleEvaluateTrigger)
				r.Get("/{date}", s.handleGetAnalysis)
			})

			r.Route("/predictions", func(r chi.Router) {
				r.Get("/", s.handleListPredictions)
				r.Post("/sweep", s.handleSweep)
				r.Get("/accuracy", s.handleAccuracy)
				r.Get("/{id}/comparison", s.handleGetComparison)
			})

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.handleSystemStatus)
				r.Post("/maintenance/{name}", s.handleRunMaintenance)
			})
		})
	})
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. Blocks until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.DB.QuickCheck(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
