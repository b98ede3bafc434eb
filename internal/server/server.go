// Package server exposes reweighting jobs over a JSON HTTP API with
// server-sent progress events.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwbudde/bioenfit/internal/minimize"
	"github.com/cwbudde/bioenfit/internal/runner"
	"github.com/cwbudde/bioenfit/internal/store"
)

// Server represents the HTTP server
type Server struct {
	runner      *runner.Runner
	broadcaster *EventBroadcaster
	addr        string
	server      *http.Server

	// ctx bounds background jobs; cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// JobRequest is the body of POST /api/v1/jobs.
type JobRequest struct {
	// Kind is "forces" or "logweights".
	Kind string `json:"kind"`
	// Data is the path of a dataset file readable by the server.
	Data string `json:"data"`
	// Theta overrides the dataset's theta when set.
	Theta     *float64          `json:"theta,omitempty"`
	Backend   string            `json:"backend,omitempty"`
	Algorithm string            `json:"algorithm,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

// NewServer creates a new HTTP server. st may be nil to keep results in
// memory only.
func NewServer(addr string, st store.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:      runner.New(runner.NewJobManager(), st, st != nil),
		broadcaster: NewEventBroadcaster(),
		addr:        addr,
		ctx:         ctx,
		cancel:      cancel,
	}
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the routed handler with middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/backends", s.handleBackends)
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.cancel()
	return s.server.Shutdown(ctx)
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	switch {
	case len(parts) == 1 || parts[1] == "status":
		s.handleGetJobStatus(w, r, jobID)
	case parts[1] == "stream":
		s.handleJobStream(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// buildRequest turns an API request into a runner request.
func buildRequest(jr JobRequest) (runner.Request, error) {
	if jr.Data == "" {
		return runner.Request{}, fmt.Errorf("data is required")
	}
	if jr.Kind == "" {
		jr.Kind = store.KindForces
	}
	cfg := minimize.DefaultConfig(jr.Backend)
	if jr.Algorithm != "" {
		cfg.Algorithm = jr.Algorithm
	}
	for k, v := range jr.Options {
		if err := cfg.Set(k, v); err != nil {
			return runner.Request{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return runner.Request{}, err
	}

	req, err := runner.LoadRequest(jr.Data, jr.Kind)
	if err != nil {
		return runner.Request{}, err
	}
	if jr.Theta != nil {
		req.Data.Theta = *jr.Theta
	}
	if err := req.Data.Validate("server"); err != nil {
		return runner.Request{}, err
	}
	req.Config = cfg
	return req, nil
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var jr JobRequest
	if err := json.NewDecoder(r.Body).Decode(&jr); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	req, err := buildRequest(jr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The observer runs only once Execute has started, after jobID is set.
	var jobID string
	start := time.Now()
	req.Config.Observer = func(it minimize.Iteration) {
		s.broadcaster.Broadcast(ProgressEvent{
			JobID:      jobID,
			State:      runner.StateRunning,
			Iterations: it.Iteration,
			Objective:  finiteOrZero(it.F),
			GradNorm:   finiteOrZero(it.GradNorm),
			Elapsed:    time.Since(start).Seconds(),
			Timestamp:  time.Now(),
		})
	}
	job := s.runner.Jobs().CreateJob(req)
	jobID = job.ID

	go s.runJob(jobID, start)

	// job is a snapshot, so encoding it does not race with the run.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

// runJob executes a job in the background and publishes the final event.
func (s *Server) runJob(jobID string, start time.Time) {
	s.runner.Execute(s.ctx, jobID)

	job, exists := s.runner.Jobs().GetJob(jobID)
	if !exists {
		return
	}
	s.broadcaster.Broadcast(ProgressEvent{
		JobID:      jobID,
		State:      job.State,
		Iterations: job.Iterations,
		Objective:  job.Objective,
		Elapsed:    time.Since(start).Seconds(),
		Error:      job.Error,
		Timestamp:  time.Now(),
	})
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.runner.Jobs().ListJobs()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// JobStatus is the response of GET /api/v1/jobs/:id/status.
type JobStatus struct {
	runner.Job
	Elapsed float64 `json:"elapsed"`
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.runner.Jobs().GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(JobStatus{Job: job, Elapsed: elapsed.Seconds()})
}

// handleBackends handles GET /api/v1/backends
func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(minimize.Backends())
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
