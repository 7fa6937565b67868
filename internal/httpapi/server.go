// Package httpapi exposes the simulation over HTTP: world snapshots, the
// event log, run controls and a websocket event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"housesim/internal/capability"
	"housesim/internal/db"
	"housesim/internal/domain"
	"housesim/internal/planner"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Simulation is the scheduler surface the API drives.
type Simulation interface {
	Start()
	Pause()
	Running() bool
	Step(ctx context.Context) []domain.WorldEvent
	SetSpeed(speed float64) error
	Snapshot() *domain.WorldState
	Events(limit int) []domain.WorldEvent
	AddDevice(spec domain.DeviceSpec, phase *int) error
	RemoveDevice(id string) bool
	SetDeviceStatus(id string, status domain.DeviceStatus) bool
}

type PlannerStats interface {
	Stats() planner.Stats
}

// Options carries the optional collaborators. Routes whose collaborator is
// nil answer 503.
type Options struct {
	Sim       Simulation
	Planner   PlannerStats
	Directory *capability.Directory
	EventLog  db.EventLog
	RunID     string
	Stream    *EventStream
	Logger    *slog.Logger
}

type Server struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{opts: opts, logger: opts.Logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": s.opts.Sim.Running()})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/world", s.handleWorld)
		r.Get("/events", s.handleEvents)

		r.Post("/sim/start", s.handleStart)
		r.Post("/sim/pause", s.handlePause)
		r.Post("/sim/step", s.handleStep)
		r.Post("/sim/speed", s.handleSpeed)

		r.Get("/planner/stats", s.handlePlannerStats)

		r.Post("/devices", s.handleAddDevice)
		r.Delete("/devices/{id}", s.handleRemoveDevice)
		r.Post("/devices/{id}/safe", s.handleDeviceStatus(domain.StatusSafe))
		r.Post("/devices/{id}/release", s.handleDeviceStatus(domain.StatusIdle))

		r.Get("/capabilities", s.handleCapabilities)

		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{id}/events", s.handleRunEvents)
	})

	if s.opts.Stream != nil {
		r.Handle("/ws/events", s.opts.Stream)
	}
	return r
}

// handleWorld returns the snapshot without its event log, which has its own
// paged route.
func (s *Server) handleWorld(w http.ResponseWriter, _ *http.Request) {
	snap := s.opts.Sim.Snapshot()
	snap.Events = nil
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleEvents(w http.ResponseWriter, req *http.Request) {
	limit, err := parseLimit(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.opts.Sim.Events(limit)})
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	s.opts.Sim.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": true})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.opts.Sim.Pause()
	writeJSON(w, http.StatusOK, map[string]any{"running": false})
}

func (s *Server) handleStep(w http.ResponseWriter, req *http.Request) {
	events := s.opts.Sim.Step(req.Context())
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleSpeed(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if err := s.opts.Sim.SetSpeed(body.Speed); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"speed": body.Speed})
}

func (s *Server) handlePlannerStats(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Planner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "planner stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Planner.Stats())
}

// addDeviceRequest leaves phase optional so the simulation can draw one.
type addDeviceRequest struct {
	domain.DeviceSpec
	Phase *int `json:"phase"`
}

func (s *Server) handleAddDevice(w http.ResponseWriter, req *http.Request) {
	var in addDeviceRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	spec := in.DeviceSpec
	if err := s.opts.Sim.AddDevice(spec, in.Phase); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	s.logger.Info("device added", "device_id", spec.ID, "room", spec.Room)
	writeJSON(w, http.StatusCreated, map[string]any{"id": spec.ID})
}

func (s *Server) handleRemoveDevice(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	if !s.opts.Sim.RemoveDevice(id) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown device: " + id})
		return
	}
	s.logger.Info("device removed", "device_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"removed": id})
}

func (s *Server) handleDeviceStatus(status domain.DeviceStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if !s.opts.Sim.SetDeviceStatus(id, status) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown device: " + id})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
	}
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Directory == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "capability directory unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": s.opts.Directory.ListOnline()})
}

func (s *Server) handleRuns(w http.ResponseWriter, req *http.Request) {
	if s.opts.EventLog == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "event log unavailable"})
		return
	}
	limit, err := parseLimit(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	runs, err := s.opts.EventLog.ListRuns(req.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"current": s.opts.RunID, "runs": runs})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, req *http.Request) {
	if s.opts.EventLog == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "event log unavailable"})
		return
	}
	limit, err := parseLimit(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	runID := chi.URLParam(req, "id")
	if _, err := s.opts.EventLog.GetRun(req.Context(), runID); err != nil {
		if errors.Is(err, db.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		s.logger.Error("get run failed", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	events, err := s.opts.EventLog.RecentEvents(req.Context(), runID, limit)
	if err != nil {
		s.logger.Error("load run events failed", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "events": events})
}

func parseLimit(req *http.Request) (int, error) {
	raw := req.URL.Query().Get("limit")
	if raw == "" {
		return defaultEventLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxEventLimit {
		n = maxEventLimit
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
