package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marketpulse/pulse/internal/analysis"
	"github.com/marketpulse/pulse/internal/content"
	"github.com/marketpulse/pulse/internal/predictions"
	"github.com/marketpulse/pulse/internal/queue"
)

// handleIngestContent handles POST /api/content. The item is stored and a
// content-process job is enqueued for it.
func (s *Server) handleIngestContent(w http.ResponseWriter, r *http.Request) {
	var item content.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	item.ID = ""
	item.CreatedAt = s.cfg.Now().UTC()

	if err := s.cfg.Content.Create(r.Context(), &item); err != nil {
		switch {
		case errors.Is(err, content.ErrInvalidItem):
			s.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, content.ErrDuplicateURL):
			s.writeError(w, http.StatusConflict, err)
		default:
			s.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	jobID, err := s.cfg.Queue.Enqueue(r.Context(), queue.ContentProcessPayload{ContentID: item.ID}, queue.PriorityDefault, 0)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"item": item, "job_id": jobID})
}

// handleListAnalyses handles GET /api/analysis?limit=
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), 30)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := s.cfg.Analyses.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []analysis.Analysis{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

// handleLatestAnalysis handles GET /api/analysis/latest
func (s *Server) handleLatestAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.cfg.Analyses.Latest(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if a == nil {
		s.writeError(w, http.StatusNotFound, errors.New("no analysis yet"))
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

// handleGetAnalysis handles GET /api/analysis/{date}
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(analysis.DateLayout, date); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid date %q", date))
		return
	}

	a, err := s.cfg.Analyses.GetByDate(r.Context(), date)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if a == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no analysis for %s", date))
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

// handleForceAnalysis handles POST /api/analysis/trigger. Thresholds are
// skipped but an active analysis job for today still wins.
func (s *Server) handleForceAnalysis(w http.ResponseWriter, r *http.Request) {
	d, err := s.cfg.Trigger.Force(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusAccepted
	if d.Duplicate {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, d)
}

// handleEvaluateTrigger handles POST /api/analysis/evaluate
func (s *Server) handleEvaluateTrigger(w http.ResponseWriter, r *http.Request) {
	d, err := s.cfg.Trigger.Evaluate(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

// handleListPredictions handles GET /api/predictions?date=YYYY-MM-DD
func (s *Server) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = s.cfg.Now().UTC().Format(analysis.DateLayout)
	}
	if _, err := time.Parse(analysis.DateLayout, date); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid date %q", date))
		return
	}

	list, err := s.cfg.Predictions.ListByAnalysisDate(r.Context(), date, time.Time{})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []predictions.Prediction{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

// handleGetComparison handles GET /api/predictions/{id}/comparison
func (s *Server) handleGetComparison(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.cfg.Predictions.Get(r.Context(), id); err != nil {
		if errors.Is(err, predictions.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	c, err := s.cfg.Predictions.GetComparison(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if c == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("prediction %s has not been compared yet", id))
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

// handleSweep handles POST /api/predictions/sweep
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Horizon.Sweep(r.Context(), s.cfg.Now())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleAccuracy handles GET /api/predictions/accuracy
func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	acc, err := s.cfg.Predictions.AccuracyByHorizon(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if acc == nil {
		acc = []predictions.Accuracy{}
	}
	s.writeJSON(w, http.StatusOK, acc)
}
