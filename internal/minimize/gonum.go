package minimize

import (
	"gonum.org/v1/gonum/optimize"
)

// gonumMethod runs a gonum/optimize method with the run's evaluator,
// tolerances and iteration hook.
type gonumMethod struct {
	cfg   Config
	build func(Config) optimize.Method
}

func gonumFactory(build func(Config) optimize.Method) factory {
	return func(cfg Config) method {
		return &gonumMethod{cfg: cfg, build: build}
	}
}

func (g *gonumMethod) minimize(r *run, x0 []float64) (*outcome, error) {
	problem := optimize.Problem{
		Func: r.f,
		Grad: r.grad,
		Status: func() (optimize.Status, error) {
			if err := r.obj.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	convergence := DefaultConvergenceConfig()
	convergence.Enabled = g.cfg.Patience > 0
	convergence.Patience = g.cfg.Patience
	stall := NewConverger(convergence)
	settings := &optimize.Settings{
		GradientThreshold: g.cfg.Tolerance,
		MajorIterations:   g.cfg.MaxIterations + 1, // the starting point counts as one
		Converger:         stall,
		Recorder:          &recorder{run: r},
	}

	// Each run gets a fresh method; gonum methods keep internal state.
	result, err := optimize.Minimize(problem, x0, settings, g.build(g.cfg))
	if err != nil {
		return nil, err
	}
	iterations := result.Stats.MajorIterations - 1
	if iterations < 0 {
		iterations = 0
	}
	out := &outcome{x: result.X, iterations: iterations, stall: stall}
	switch result.Status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence,
		optimize.FunctionThreshold, optimize.StepConvergence, optimize.MethodConverge:
		out.status = Converged
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit,
		optimize.GradientEvaluationLimit, optimize.RuntimeLimit:
		out.status = MaxIterReached
	default:
		return nil, &statusError{status: result.Status}
	}
	return out, nil
}

type statusError struct {
	status optimize.Status
}

func (e *statusError) Error() string {
	return "optimizer terminated with status " + e.status.String()
}

// recorder forwards major iterations to the run. gonum reports the starting
// point as the first major iteration; it is skipped so that observers see
// completed iterations numbered from 1 on every backend.
type recorder struct {
	run *run
}

func (rec *recorder) Init() error { return nil }

func (rec *recorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op != optimize.MajorIteration {
		return nil
	}
	if stats.MajorIterations <= 1 {
		return rec.run.ctx.Err()
	}
	return rec.run.iteration(stats.MajorIterations-1, loc.X, loc.F, loc.Gradient)
}
