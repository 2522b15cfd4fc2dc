// Package server exposes the engine over HTTP: health, Prometheus metrics
// and a small JSON API for status, ticks and pipelines.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/hq/internal/budget"
	"github.com/aristath/hq/internal/orchestrator"
	"github.com/aristath/hq/internal/scheduler"
)

// Ticker runs and reports ticks.
type Ticker interface {
	Running() bool
	ExecuteTick(ctx context.Context, trigger string) (*scheduler.TickResult, error)
	Executions(ctx context.Context, limit int, status *scheduler.TickStatus) ([]*scheduler.TickExecution, error)
	SystemMetrics(ctx context.Context) (scheduler.SystemSnapshot, error)
}

// Pipelines starts and lists pipelines.
type Pipelines interface {
	Templates() []orchestrator.Template
	StartPipeline(ctx context.Context, key string, pctx map[string]string, description string) (*orchestrator.Pipeline, error)
	Pipelines(ctx context.Context, activeOnly bool) ([]*orchestrator.Pipeline, error)
}

// BudgetStatus reports today's spend.
type BudgetStatus interface {
	Status() budget.Status
}

// Pinger checks the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front of a running engine.
type Server struct {
	ticks     Ticker
	pipelines Pipelines
	budget    BudgetStatus
	store     Pinger
}

// New creates a server.
func New(ticks Ticker, pipelines Pipelines, b BudgetStatus, store Pinger) *Server {
	return &Server{ticks: ticks, pipelines: pipelines, budget: b, store: store}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/status", s.handleStatus)
		r.Get("/ticks", s.handleListTicks)
		r.Post("/ticks", s.handleTriggerTick)
		r.Get("/pipelines", s.handleListPipelines)
		r.Get("/pipelines/templates", s.handleTemplates)
		r.Post("/pipelines", s.handleStartPipeline)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Budget  budget.Status            `json:"budget"`
	System  scheduler.SystemSnapshot `json:"system"`
	Ticking bool                     `json:"ticking"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ticks.SystemMetrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Budget:  s.budget.Status(),
		System:  snap,
		Ticking: s.ticks.Running(),
	})
}

func (s *Server) handleListTicks(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	var status *scheduler.TickStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st, err := scheduler.ParseTickStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = &st
	}
	ticks, err := s.ticks.Executions(r.Context(), limit, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ticks)
}

// handleTriggerTick starts a manual tick in the background. The tick outlives
// the request.
func (s *Server) handleTriggerTick(w http.ResponseWriter, r *http.Request) {
	if s.ticks.Running() {
		writeError(w, http.StatusConflict, scheduler.ErrTickInProgress.Error())
		return
	}
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := s.ticks.ExecuteTick(ctx, "api"); err != nil && !errors.Is(err, scheduler.ErrTickInProgress) {
			log.Printf("ERROR: server: manual tick: %v", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := s.pipelines.Pipelines(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipelines.Templates())
}

type startPipelineRequest struct {
	Template    string            `json:"template"`
	Description string            `json:"description"`
	Context     map[string]string `json:"context"`
}

func (s *Server) handleStartPipeline(w http.ResponseWriter, r *http.Request) {
	var req startPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Template == "" {
		writeError(w, http.StatusBadRequest, "template is required")
		return
	}
	p, err := s.pipelines.StartPipeline(r.Context(), req.Template, req.Context, req.Description)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrUnknownTemplate) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARNING: server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
