package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/bioenfit/internal/errs"
	"github.com/cwbudde/bioenfit/internal/kernel"
	"github.com/cwbudde/bioenfit/internal/minimize"
	"github.com/cwbudde/bioenfit/internal/reweight"
	"github.com/cwbudde/bioenfit/internal/store"
)

// Runner executes jobs of a JobManager. With a store, every finished run is
// saved, and with tracing enabled each major iteration is appended to the
// run's trace file.
type Runner struct {
	jobs  *JobManager
	store store.Store
	trace bool
}

// New returns a runner. st may be nil to keep results in memory only.
func New(jm *JobManager, st store.Store, trace bool) *Runner {
	if jm == nil {
		jm = NewJobManager()
	}
	return &Runner{jobs: jm, store: st, trace: trace && st != nil}
}

// Jobs returns the job manager.
func (r *Runner) Jobs() *JobManager {
	return r.jobs
}

// Submit creates a pending job and runs it synchronously.
func (r *Runner) Submit(ctx context.Context, req Request) (*store.Run, error) {
	job := r.jobs.CreateJob(req)
	return r.Execute(ctx, job.ID)
}

// Execute runs the pending job jobID. The returned run is non-nil whenever
// the job was found, also for failed runs; it has already been saved if the
// runner has a store. Hitting the iteration cap is not an error.
func (r *Runner) Execute(ctx context.Context, jobID string) (*store.Run, error) {
	job, exists := r.jobs.GetJob(jobID)
	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if job.State != StatePending {
		return nil, fmt.Errorf("job %s is %s, not pending", jobID, job.State)
	}
	if err := r.jobs.UpdateJob(jobID, func(j *Job) { j.State = StateRunning }); err != nil {
		return nil, err
	}

	req := job.Request
	slog.Info("Starting job", "job_id", jobID, "kind", req.Kind, "backend", req.Config.Backend, "theta", req.Data.Theta)

	var tw *store.TraceWriter
	if r.trace {
		var err error
		tw, err = store.NewTraceWriter(r.store.BaseDir(), jobID, false)
		if err != nil {
			slog.Warn("Tracing disabled", "job_id", jobID, "error", err)
		}
	}

	cfg := req.Config
	userObserver := cfg.Observer
	cfg.Observer = func(it minimize.Iteration) {
		if userObserver != nil {
			userObserver(it)
		}
		r.jobs.UpdateJob(jobID, func(j *Job) {
			j.Iterations = it.Iteration
			j.Objective = finite(it.F)
		})
		if tw != nil {
			entry := store.TraceEntry{
				Iteration: it.Iteration,
				Objective: it.F,
				GradNorm:  it.GradNorm,
				Timestamp: time.Now(),
			}
			if err := tw.Write(entry); err != nil {
				slog.Warn("Failed to write trace entry", "job_id", jobID, "error", err)
			}
		}
	}

	run, runErr := execute(ctx, req, cfg)
	run.ID = jobID

	if tw != nil {
		if err := tw.Close(); err != nil {
			slog.Warn("Failed to close trace", "job_id", jobID, "error", err)
		}
	}

	if r.store != nil {
		if err := r.store.SaveRun(run); err != nil {
			slog.Error("Failed to save run", "job_id", jobID, "error", err)
			if runErr == nil {
				runErr = fmt.Errorf("failed to save run: %w", err)
			}
		}
	}

	switch {
	case runErr != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)):
		markJobCancelled(r.jobs, jobID, run)
	case runErr != nil:
		markJobFailed(r.jobs, jobID, run, runErr)
	default:
		markJobCompleted(r.jobs, jobID, run)
	}
	return run, runErr
}

// execute dispatches on the parameterization and converts the result into
// a storable run.
func execute(ctx context.Context, req Request, cfg minimize.Config) (*store.Run, error) {
	run := &store.Run{
		Kind:      req.Kind,
		Input:     req.Input,
		Config:    cfg,
		Theta:     req.Data.Theta,
		Status:    minimize.Failed,
		Timestamp: time.Now(),
	}
	run.Config.Observer = nil

	var (
		sum    *reweight.Summary
		params []float64
		err    error
	)
	switch req.Kind {
	case store.KindForces:
		var res *reweight.ForcesResult
		res, err = reweight.FindOptimumForces(ctx, req.Init, req.Data, cfg)
		if res != nil {
			sum, params = &res.Summary, res.Forces
		}
	case store.KindLogWeights:
		var res *reweight.LogWeightsResult
		res, err = reweight.FindOptimumLogWeights(ctx, req.Init, req.G, req.Data, cfg)
		if res != nil {
			sum, params = &res.Summary, res.G
		}
	default:
		err = errs.Invalid("runner", "unknown kind %q", req.Kind)
	}

	if sum != nil {
		run.Status = sum.Status
		run.InitialObjective = finite(sum.InitialObjective)
		run.FinalObjective = finite(sum.FinalObjective)
		run.ChiSquare = finite(sum.ChiSquare)
		run.Entropy = finite(sum.Entropy)
		run.GradNorm = finite(sum.GradNorm)
		run.Weights = sum.Weights
		run.YPred = sum.YPred
		run.YTildePred = sum.YTildePred
		run.Iterations = sum.Iterations
		run.Evaluations = sum.Evaluations
		run.Runtime = sum.Runtime
		if kernel.Finite(params) {
			run.Params = params
		}
	}
	if err != nil {
		run.Status = minimize.Failed
		run.Error = err.Error()
	}
	return run, err
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func markJobCompleted(jm *JobManager, jobID string, run *store.Run) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Run = run
		j.Iterations = run.Iterations
		j.Objective = run.FinalObjective
		j.EndTime = &endTime
	})
	slog.Info("Job completed",
		"job_id", jobID,
		"status", run.Status.String(),
		"iterations", run.Iterations,
		"initial_objective", run.InitialObjective,
		"objective", run.FinalObjective,
		"runtime", run.Runtime,
	)
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, run *store.Run, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Run = run
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string, run *store.Run) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.Run = run
		j.Error = run.Error
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}
