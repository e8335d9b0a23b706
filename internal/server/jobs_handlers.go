package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marketpulse/pulse/internal/queue"
)

// EnqueueRequest is the body of POST /api/jobs
type EnqueueRequest struct {
	JobType      queue.JobType   `json:"job_type"`
	Payload      json.RawMessage `json:"payload"`
	Priority     *int            `json:"priority,omitempty"`
	DelaySeconds int             `json:"delay_seconds,omitempty"`
	DedupeKey    string          `json:"dedupe_key,omitempty"`
	MaxAttempts  int             `json:"max_attempts,omitempty"`
}

// queueErrorStatus maps queue errors to HTTP status codes
func queueErrorStatus(err error) int {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, queue.ErrUnknownJobType), errors.Is(err, queue.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleListJobs handles GET /api/jobs?status=&type=&limit=&offset=
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := queue.Filter{
		Status: queue.Status(q.Get("status")),
		Type:   queue.JobType(q.Get("type")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", filter.Status))
		return
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 100); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	jobs, err := s.cfg.Queue.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []queue.Job{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// handleGetJob handles GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.cfg.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, queueErrorStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleEnqueueJob handles POST /api/jobs
func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.DelaySeconds < 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("delay_seconds cannot be negative"))
		return
	}

	priority := queue.PriorityDefault
	if req.Priority != nil {
		priority = *req.Priority
	}

	var opts []queue.EnqueueOption
	if req.DedupeKey != "" {
		opts = append(opts, queue.WithDedupeKey(req.DedupeKey))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, queue.WithMaxAttempts(req.MaxAttempts))
	}

	id, err := s.cfg.Queue.EnqueueRaw(r.Context(), req.JobType, req.Payload, priority,
		time.Duration(req.DelaySeconds)*time.Second, opts...)
	if err != nil {
		s.writeError(w, queueErrorStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleJobStats handles GET /api/jobs/stats
func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cfg.Queue.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleRescheduleRetries handles POST /api/jobs/retry/reschedule
func (s *Server) handleRescheduleRetries(w http.ResponseWriter, r *http.Request) {
	n, err := s.cfg.Queue.RescheduleRetries(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"rescheduled": n})
}

// handleResetStuck handles POST /api/jobs/stuck/reset?older_than=10m
func (s *Server) handleResetStuck(w http.ResponseWriter, r *http.Request) {
	olderThan := 10 * time.Minute
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid older_than %q", raw))
			return
		}
		olderThan = d
	}

	res, err := s.cfg.Queue.ResetStuck(r.Context(), olderThan)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return n, nil
}
