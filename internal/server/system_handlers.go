package server

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/marketpulse/pulse/internal/database"
	"github.com/marketpulse/pulse/internal/queue"
	"github.com/marketpulse/pulse/internal/scheduler"
	"github.com/marketpulse/pulse/internal/work"
)

// SystemStatusResponse is returned by GET /api/system/status
type SystemStatusResponse struct {
	Status        string                  `json:"status"`
	DatabaseError string                  `json:"database_error,omitempty"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Goroutines    int                     `json:"goroutines"`
	CPUPercent    float64                 `json:"cpu_percent"`
	MemoryPercent float64                 `json:"memory_percent"`
	Database      *database.Stats         `json:"database"`
	Jobs          map[queue.Status]int    `json:"jobs"`
	Workers       *work.PoolStatus        `json:"workers,omitempty"`
	Maintenance   []scheduler.EntryStatus `json:"maintenance,omitempty"`
}

// handleSystemStatus handles GET /api/system/status
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cfg.Queue.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	cpuPercent, memPercent := s.getSystemStats()
	resp := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Database:      s.cfg.DB.GetStats(),
		Jobs:          stats,
	}
	if s.cfg.Pool != nil {
		ps := s.cfg.Pool.Status()
		resp.Workers = &ps
	}
	if s.cfg.Scheduler != nil {
		resp.Maintenance = s.cfg.Scheduler.Entries()
	}
	if stats[queue.StatusFailed] > 0 && stats[queue.StatusFailed] >= stats[queue.StatusCompleted] {
		resp.Status = "degraded"
	}
	if err := s.cfg.DB.HealthCheck(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.DatabaseError = err.Error()
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// getSystemStats calculates CPU and RAM usage percentages.
// Samples CPU over 100ms to keep the call fast.
func (s *Server) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}

	return cpuPercent[0], memStat.UsedPercent
}

// handleRunMaintenance handles POST /api/system/maintenance/{name}
func (s *Server) handleRunMaintenance(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Scheduler == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("maintenance scheduler is not running"))
		return
	}

	name := chi.URLParam(r, "name")
	known := false
	for _, e := range s.cfg.Scheduler.Entries() {
		if e.Name == name {
			known = true
			break
		}
	}
	if !known {
		s.writeError(w, http.StatusNotFound, errors.New("unknown maintenance job "+name))
		return
	}

	if err := s.cfg.Scheduler.RunNow(name); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "success", "job": name})
}
