// Package runner executes reweighting runs as tracked jobs and persists
// their results.
package runner

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/bioenfit/internal/dataset"
	"github.com/cwbudde/bioenfit/internal/errs"
	"github.com/cwbudde/bioenfit/internal/minimize"
	"github.com/cwbudde/bioenfit/internal/objective"
	"github.com/cwbudde/bioenfit/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Request describes one reweighting run.
type Request struct {
	// Kind is store.KindForces or store.KindLogWeights.
	Kind string
	// Input names the dataset the problem came from, for bookkeeping.
	Input string
	Data  objective.Data
	// Init is forces_init for forces runs and GInit for log-weights runs.
	Init []float64
	// G holds the prior log-weights of a log-weights run, nil for log(w0).
	G      []float64
	Config minimize.Config
}

// LoadRequest reads the dataset at path and assembles a request for kind
// with the dataset's theta. The config is left zero.
func LoadRequest(path, kind string) (Request, error) {
	ds, err := dataset.Load(path)
	if err != nil {
		return Request{}, err
	}
	data, err := ds.Problem()
	if err != nil {
		return Request{}, err
	}
	req := Request{Kind: kind, Input: path, Data: data}
	switch kind {
	case store.KindForces:
		req.Init, err = ds.Vector(dataset.KeyForcesInit)
	case store.KindLogWeights:
		req.Init, err = ds.Vector(dataset.KeyGInit)
		if err == nil && ds.Has(dataset.KeyG) {
			req.G, err = ds.Vector(dataset.KeyG)
		}
	default:
		err = errs.Invalid("runner", "unknown kind %q", kind)
	}
	return req, err
}

// Job is a run tracked by the JobManager.
type Job struct {
	ID      string   `json:"id"`
	State   JobState `json:"state"`
	Kind    string   `json:"kind"`
	Theta   float64  `json:"theta"`
	Request Request  `json:"-"`

	// Iterations and Objective follow the run while it is in progress.
	Iterations int     `json:"iterations"`
	Objective  float64 `json:"objective"`

	Run       *store.Run `json:"run,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*Job)}
}

// CreateJob registers a pending job for req and returns a snapshot of it.
// The job ID doubles as the ID of the stored run.
func (jm *JobManager) CreateJob(req Request) Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        store.NewRunID(),
		State:     StatePending,
		Kind:      req.Kind,
		Theta:     req.Data.Theta,
		Request:   req,
		StartTime: time.Now(),
	}
	jm.jobs[job.ID] = job
	return *job
}

// GetJob returns a snapshot of the job with the given ID.
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns snapshots of all jobs, oldest first.
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartTime.Before(jobs[j].StartTime) })
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// JobsInState returns snapshots of the jobs currently in state.
func (jm *JobManager) JobsInState(state JobState) []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	out := make([]Job, 0)
	for _, job := range jm.jobs {
		if job.State == state {
			out = append(out, *job)
		}
	}
	return out
}
