// Package api_http exposes the engine over HTTP: normalized event intake,
// run inspection and cancellation, health and metrics.
package api_http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davarch/ci-runner/internal/application"
	"github.com/davarch/ci-runner/internal/domain"
)

type Server struct {
	log     *zap.Logger
	sched   *application.Scheduler
	metrics http.Handler
}

func New(log *zap.Logger, sched *application.Scheduler, metrics http.Handler) *Server {
	return &Server{log: log, sched: sched, metrics: metrics}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/events", s.handleEvent)
	r.Get("/runs", s.handleRuns)
	r.Get("/runs/{id}", s.handleRun)
	r.Post("/runs/{id}/cancel", s.handleCancel)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

type eventRequest struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

type runSummary struct {
	RunID    string `json:"run_id"`
	Pipeline string `json:"pipeline"`
	Event    string `json:"event"`
	Ref      string `json:"ref"`
	Status   string `json:"status"`
	Started  int64  `json:"started"`
	Finished int64  `json:"finished,omitempty"`
}

type stepDetail struct {
	Step       string `json:"step"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	Cached     bool   `json:"cached"`
	DurationMS int64  `json:"duration_ms"`
	Output     string `json:"output,omitempty"`
}

type jobDetail struct {
	Job    string       `json:"job"`
	Status string       `json:"status"`
	Steps  []stepDetail `json:"steps"`
}

type runDetail struct {
	runSummary
	Jobs []jobDetail `json:"jobs"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	run, started, err := s.sched.Submit(domain.Event{Kind: domain.EventKind(req.Kind), Ref: req.Ref})
	if err != nil {
		var cfgErr *domain.ConfigError
		if errors.As(err, &cfgErr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": cfgErr.Error()})
			return
		}
		s.log.Error("event submission failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !started {
		writeJSON(w, http.StatusOK, map[string]string{"message": "no trigger matched"})
		return
	}
	writeJSON(w, http.StatusAccepted, summarize(run))
}

func (s *Server) handleRuns(w http.ResponseWriter, _ *http.Request) {
	runs := s.sched.Runs()
	out := make([]runSummary, len(runs))
	for i, run := range runs {
		out[i] = summarize(run)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid run id"})
		return
	}
	run, ok := s.sched.Run(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown run"})
		return
	}

	detail := runDetail{runSummary: summarize(run)}
	for _, j := range run.Jobs {
		jd := jobDetail{Job: j.Job, Status: string(j.Status)}
		for _, res := range j.Results {
			jd.Steps = append(jd.Steps, stepDetail{
				Step:       res.Step,
				Status:     string(res.Status),
				ExitCode:   res.ExitCode,
				Cached:     res.Cached,
				DurationMS: res.Duration.Milliseconds(),
				Output:     res.Output,
			})
		}
		detail.Jobs = append(detail.Jobs, jd)
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid run id"})
		return
	}
	if !s.sched.Cancel(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown run"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func summarize(run domain.Run) runSummary {
	out := runSummary{
		RunID:    run.ID.String(),
		Pipeline: run.Pipeline,
		Event:    string(run.Event.Kind),
		Ref:      run.Event.Ref,
		Status:   string(run.Status),
		Started:  run.Started.Unix(),
	}
	if !run.Finished.IsZero() {
		out.Finished = run.Finished.Unix()
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
