package minimize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/bioenfit/internal/errs"
	"gonum.org/v1/gonum/floats"
)

// Objective is a differentiable function over a flat parameter vector.
// Err reports the first evaluation failure; after it is set the driver
// stops at the next evaluation.
type Objective interface {
	Dim() int
	Func(x []float64) float64
	Grad(grad, x []float64)
	Err() error
}

// Minimizer runs one backend × algorithm pair.
type Minimizer interface {
	Name() string
	Minimize(ctx context.Context, obj Objective, x0 []float64) (*Result, error)
}

// method is implemented by every registered algorithm.
type method interface {
	minimize(r *run, x0 []float64) (*outcome, error)
}

// outcome is what a method hands back to the driver.
type outcome struct {
	x          []float64
	status     Status
	iterations int
	// stall is the stagnation tracker of backends that use one.
	stall *Converger
}

type minimizer struct {
	cfg    Config
	method method
}

// New validates cfg and resolves its backend and algorithm. The config is
// copied; later changes to cfg do not affect the returned Minimizer.
func New(cfg Config) (Minimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	build := registry[cfg.Backend].algorithms[cfg.Algorithm]
	return &minimizer{cfg: cfg, method: build(cfg)}, nil
}

// Run is shorthand for New followed by Minimize.
func Run(ctx context.Context, cfg Config, obj Objective, x0 []float64) (*Result, error) {
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return m.Minimize(ctx, obj, x0)
}

func (m *minimizer) Name() string {
	return m.cfg.Backend + "/" + m.cfg.Algorithm
}

// Minimize runs the backend from x0. On failure the returned Result is
// non-nil with Status Failed and carries the last iterate that was seen.
func (m *minimizer) Minimize(ctx context.Context, obj Objective, x0 []float64) (*Result, error) {
	name := m.Name()
	if obj == nil {
		return nil, errs.Invalid(name, "objective is nil")
	}
	if len(x0) != obj.Dim() {
		return nil, errs.Invalid(name, "initial point has %d entries, objective expects %d", len(x0), obj.Dim())
	}
	for i, v := range x0 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errs.Invalid(name, "initial point entry %d is %g", i, v)
		}
	}

	start := time.Now()
	res := &Result{Backend: m.cfg.Backend, Algorithm: m.cfg.Algorithm, Status: Configured}
	r := newRun(ctx, m.cfg, obj, name)

	res.Status = Running
	r.log("Starting minimization", "dim", obj.Dim(), "max_iterations", m.cfg.MaxIterations, "tolerance", m.cfg.Tolerance)

	x := append([]float64(nil), x0...)
	res.InitialF = r.f(x)
	if err := obj.Err(); err != nil {
		return r.fail(res, x, err, start)
	}
	r.lastF, r.lastX = res.InitialF, x
	if err := r.ctx.Err(); err != nil {
		return r.fail(res, x, err, start)
	}

	var out *outcome
	if obj.Dim() == 0 {
		out = &outcome{x: x, status: Converged}
	} else {
		var err error
		out, err = m.method.minimize(r, x)
		if err != nil {
			return r.fail(res, r.lastX, err, start)
		}
	}

	res.X = append([]float64(nil), out.x...)
	res.F = r.f(res.X)
	res.Gradient = make([]float64, len(res.X))
	if len(res.X) > 0 {
		r.grad(res.Gradient, res.X)
	}
	if err := obj.Err(); err != nil {
		return r.fail(res, res.X, err, start)
	}
	if math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return r.fail(res, res.X, errs.Unstable(name, "final objective is %g", res.F), start)
	}
	if len(res.Gradient) > 0 {
		res.GradNorm = floats.Norm(res.Gradient, math.Inf(1))
	}
	res.Status = out.status
	res.Iterations = out.iterations
	res.Evaluations = r.funcEvals
	res.Runtime = time.Since(start)

	args := []any{
		"status", res.Status.String(),
		"iterations", res.Iterations,
		"evaluations", res.Evaluations,
		"initial_objective", res.InitialF,
		"objective", res.F,
		"grad_norm", res.GradNorm,
		"runtime", res.Runtime,
	}
	if out.stall != nil {
		args = append(args, "best_objective", out.stall.BestCost(), "stale_count", out.stall.StaleCount())
	}
	r.log("Minimization finished", args...)
	if res.Status == MaxIterReached {
		slog.Warn("Iteration limit reached", "backend", m.cfg.Backend, "algorithm", m.cfg.Algorithm, "iterations", res.Iterations, "grad_norm", res.GradNorm)
	}
	return res, nil
}

// run carries the per-run state shared by all methods.
type run struct {
	ctx       context.Context
	cfg       Config
	obj       Objective
	name      string
	iter      int
	lastF     float64
	lastX     []float64
	funcEvals int
	gradEvals int
}

func newRun(ctx context.Context, cfg Config, obj Objective, name string) *run {
	if ctx == nil {
		ctx = context.Background()
	}
	return &run{ctx: ctx, cfg: cfg, obj: obj, name: name, lastF: math.NaN()}
}

func (r *run) f(x []float64) float64 {
	r.funcEvals++
	return r.obj.Func(x)
}

func (r *run) grad(g, x []float64) {
	r.gradEvals++
	r.obj.Grad(g, x)
}

// log writes at Info when the run is verbose and at Debug otherwise.
func (r *run) log(msg string, args ...any) {
	level := slog.LevelDebug
	if r.cfg.Verbose {
		level = slog.LevelInfo
	}
	args = append([]any{"backend", r.cfg.Backend, "algorithm", r.cfg.Algorithm}, args...)
	slog.Log(r.ctx, level, msg, args...)
}

// iteration records completed major iteration iter, counted from 1. It is
// where gradient backends observe cancellation.
func (r *run) iteration(iter int, x []float64, f float64, grad []float64) error {
	r.iter = iter
	if !math.IsNaN(f) && !math.IsInf(f, 0) {
		r.lastF = f
		r.lastX = append(r.lastX[:0:0], x...)
	}
	gradNorm := math.NaN()
	if len(grad) > 0 {
		gradNorm = floats.Norm(grad, math.Inf(1))
	}
	r.log("Iteration", "iteration", iter, "objective", f, "grad_norm", gradNorm)
	if r.cfg.Observer != nil {
		r.cfg.Observer(Iteration{Iteration: iter, X: x, F: f, GradNorm: gradNorm})
	}
	return r.ctx.Err()
}

// fail finalizes res as Failed and decorates err with iteration context.
func (r *run) fail(res *Result, x []float64, err error, start time.Time) (*Result, error) {
	res.Status = Failed
	res.X = append([]float64(nil), x...)
	res.F = r.lastF
	res.Iterations = r.iter
	res.Evaluations = r.funcEvals
	res.Runtime = time.Since(start)

	var e *errs.Error
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%s stopped at iteration %d: %w", r.name, r.iter, err)
	case errors.As(err, &e):
		annotated := *e
		if annotated.Kind == errs.NumericalInstability || annotated.Kind == errs.BackendFailure {
			annotated.Iteration = r.iter
			if !math.IsNaN(r.lastF) {
				annotated.LastObjective = r.lastF
				annotated.HasObjective = true
			}
		}
		err = &annotated
	default:
		err = &errs.Error{
			Kind:          errs.BackendFailure,
			Op:            r.name,
			Iteration:     r.iter,
			LastObjective: r.lastF,
			HasObjective:  !math.IsNaN(r.lastF),
			Err:           err,
		}
	}
	slog.Error("Minimization failed", "backend", r.cfg.Backend, "algorithm", r.cfg.Algorithm, "iteration", r.iter, "error", err)
	return res, err
}
