package minimize

import (
	"math"

	"github.com/cwbudde/bioenfit/internal/opt"
	"gonum.org/v1/gonum/floats"
)

// mayflyMethod searches the box x0 ± Bound with the mayfly swarm. It never
// uses the gradient during the search; the gradient at the best point only
// decides whether the run counts as converged.
type mayflyMethod struct {
	cfg       Config
	optimizer opt.Optimizer
}

func mayflyFactory(cfg Config) method {
	return &mayflyMethod{
		cfg:       cfg,
		optimizer: opt.NewMayfly(cfg.MaxIterations, cfg.Population, cfg.Seed),
	}
}

func (m *mayflyMethod) minimize(r *run, x0 []float64) (*outcome, error) {
	lower := make([]float64, len(x0))
	upper := make([]float64, len(x0))
	for i, v := range x0 {
		lower[i] = v - m.cfg.Bound
		upper[i] = v + m.cfg.Bound
	}

	// The swarm has no stop hook; after cancellation it runs out its
	// iterations without touching the objective.
	eval := func(x []float64) float64 {
		if r.ctx.Err() != nil {
			return math.Inf(1)
		}
		f := r.f(x)
		if math.IsNaN(f) {
			return math.Inf(1)
		}
		return f
	}
	best, cost, err := m.optimizer.Run(eval, lower, upper)
	if err != nil {
		return nil, err
	}
	if err := r.obj.Err(); err != nil {
		return nil, err
	}
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	// The swarm does not seed itself with x0.
	if !(cost < r.lastF) {
		best, cost = append([]float64(nil), x0...), r.lastF
	}

	grad := make([]float64, len(best))
	r.grad(grad, best)
	if err := r.iteration(m.cfg.MaxIterations, best, cost, grad); err != nil {
		return nil, err
	}

	out := &outcome{x: best, iterations: m.cfg.MaxIterations, status: MaxIterReached}
	if floats.Norm(grad, math.Inf(1)) < m.cfg.Tolerance {
		out.status = Converged
	}
	return out, nil
}
