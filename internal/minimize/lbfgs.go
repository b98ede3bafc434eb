package minimize

import (
	"errors"
	"math"

	"github.com/cwbudde/bioenfit/internal/lbfgs"
	"gonum.org/v1/gonum/floats"
)

// errGradientThreshold stops lbfgs once the gradient passes Tolerance.
var errGradientThreshold = errors.New("gradient threshold reached")

// lbfgsMethod adapts the liblbfgs-style implementation. It stops on
// whichever passes first: the lbfgs test ‖g‖₂ ≤ Epsilon·max(1, ‖x‖₂), or
// ‖g‖∞ ≤ Tolerance after a completed iteration as on the gonum backends.
type lbfgsMethod struct {
	params    lbfgs.Params
	tolerance float64
}

func lbfgsFactory(cfg Config) method {
	params := lbfgs.DefaultParams()
	params.M = cfg.M
	params.Epsilon = cfg.Epsilon
	params.Past = cfg.Past
	params.Delta = cfg.Delta
	params.MaxIterations = cfg.MaxIterations
	params.MaxLineSearch = cfg.MaxLineSearch
	params.Ftol = cfg.Ftol
	params.Gtol = cfg.Gtol
	// Validate has already checked the name.
	params.LineSearch, _ = lbfgs.ParseLineSearch(cfg.LineSearch)
	return &lbfgsMethod{params: params, tolerance: cfg.Tolerance}
}

func (m *lbfgsMethod) minimize(r *run, x0 []float64) (*outcome, error) {
	prob := lbfgs.Problem{
		Evaluate: func(x, g []float64) (float64, error) {
			f := r.f(x)
			r.grad(g, x)
			return f, r.obj.Err()
		},
		Progress: func(k int, x, g []float64, fx, _ float64) error {
			if err := r.iteration(k, x, fx, g); err != nil {
				return err
			}
			if floats.Norm(g, math.Inf(1)) <= m.tolerance {
				return errGradientThreshold
			}
			return nil
		},
	}
	res, err := lbfgs.Minimize(x0, prob, m.params)
	if errors.Is(err, errGradientThreshold) {
		return &outcome{x: res.X, iterations: res.Iterations, status: Converged}, nil
	}
	if err != nil {
		return nil, err
	}
	out := &outcome{x: res.X, iterations: res.Iterations, status: Converged}
	if res.Status == lbfgs.MaxIterations {
		out.status = MaxIterReached
	}
	return out, nil
}
