// Package lbfgs implements the limited-memory BFGS method with the
// parameterization and stopping rules of liblbfgs: a gradient test
// ‖g‖ ≤ ε·max(1, ‖x‖), an optional delta test on the objective over the
// last Past iterations, and a choice of More-Thuente or backtracking line
// searches.
package lbfgs

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// LineSearch selects the step length procedure.
type LineSearch int

const (
	MoreThuente LineSearch = iota
	BacktrackingArmijo
	BacktrackingWolfe
	BacktrackingStrongWolfe
)

func (l LineSearch) String() string {
	switch l {
	case MoreThuente:
		return "morethuente"
	case BacktrackingArmijo:
		return "armijo"
	case BacktrackingWolfe:
		return "wolfe"
	case BacktrackingStrongWolfe:
		return "strong_wolfe"
	default:
		return fmt.Sprintf("linesearch(%d)", int(l))
	}
}

// ParseLineSearch maps a line search name to its value.
func ParseLineSearch(name string) (LineSearch, error) {
	for l := MoreThuente; l <= BacktrackingStrongWolfe; l++ {
		if l.String() == name {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown line search %q", name)
}

// Params mirrors the liblbfgs parameter block.
type Params struct {
	// M is the number of corrections kept for the inverse Hessian.
	M int
	// Epsilon is the gradient convergence tolerance.
	Epsilon float64
	// Past is the distance in iterations for the delta test; 0 disables it.
	Past int
	// Delta is the minimum relative objective decrease over Past iterations.
	Delta float64
	// MaxIterations caps the number of iterations; 0 means unlimited.
	MaxIterations int
	LineSearch    LineSearch
	// MaxLineSearch caps the trials per line search.
	MaxLineSearch int
	MinStep       float64
	MaxStep       float64
	// Ftol is the sufficient decrease (Armijo) parameter.
	Ftol float64
	// Gtol is the curvature parameter, shared by the More-Thuente and the
	// backtracking Wolfe conditions.
	Gtol float64
}

// DefaultParams returns the liblbfgs defaults.
func DefaultParams() Params {
	return Params{
		M:             6,
		Epsilon:       1e-5,
		Past:          0,
		Delta:         1e-5,
		MaxIterations: 0,
		LineSearch:    MoreThuente,
		MaxLineSearch: 40,
		MinStep:       1e-20,
		MaxStep:       1e20,
		Ftol:          1e-4,
		Gtol:          0.9,
	}
}

func (p Params) validate() error {
	switch {
	case p.M < 1:
		return fmt.Errorf("lbfgs: m must be positive, got %d", p.M)
	case p.Epsilon < 0:
		return fmt.Errorf("lbfgs: epsilon must be non-negative, got %g", p.Epsilon)
	case p.Past < 0:
		return fmt.Errorf("lbfgs: past must be non-negative, got %d", p.Past)
	case p.Delta < 0:
		return fmt.Errorf("lbfgs: delta must be non-negative, got %g", p.Delta)
	case p.MaxLineSearch < 1:
		return fmt.Errorf("lbfgs: max_linesearch must be positive, got %d", p.MaxLineSearch)
	case !(p.MinStep >= 0 && p.MaxStep > p.MinStep):
		return fmt.Errorf("lbfgs: invalid step bounds [%g, %g]", p.MinStep, p.MaxStep)
	case !(p.Ftol > 0 && p.Ftol < 0.5):
		return fmt.Errorf("lbfgs: ftol must be in (0, 0.5), got %g", p.Ftol)
	case !(p.Gtol > p.Ftol && p.Gtol < 1):
		return fmt.Errorf("lbfgs: gtol must be in (ftol, 1), got %g", p.Gtol)
	case p.LineSearch < MoreThuente || p.LineSearch > BacktrackingStrongWolfe:
		return fmt.Errorf("lbfgs: unknown line search %d", int(p.LineSearch))
	}
	return nil
}

// Status says why a successful run stopped.
type Status int

const (
	// Converged means the gradient test passed.
	Converged Status = iota
	// AlreadyMinimized means the starting point passed the gradient test.
	AlreadyMinimized
	// Stopped means the delta test passed.
	Stopped
	// MaxIterations means the iteration cap was hit.
	MaxIterations
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case AlreadyMinimized:
		return "already_minimized"
	case Stopped:
		return "stopped"
	case MaxIterations:
		return "max_iterations"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Line search failures.
var (
	ErrIncreaseGradient  = errors.New("lbfgs: search direction is not a descent direction")
	ErrMaximumLineSearch = errors.New("lbfgs: line search reached the maximum number of trials")
	ErrMinimumStep       = errors.New("lbfgs: line search step became smaller than the minimum step")
	ErrMaximumStep       = errors.New("lbfgs: line search step became larger than the maximum step")
)

// Problem supplies the objective and an optional progress hook.
type Problem struct {
	// Evaluate returns f(x) and writes ∇f(x) into g.
	Evaluate func(x, g []float64) (float64, error)
	// Progress is called after every iteration. A non-nil error stops the
	// run and is returned unchanged.
	Progress func(k int, x, g []float64, fx, step float64) error
}

// Result is the final state of a run. On error it holds the last accepted
// iterate.
type Result struct {
	X           []float64
	F           float64
	G           []float64
	Status      Status
	Iterations  int
	Evaluations int
}

type correction struct {
	s, y  []float64
	ys    float64
	alpha float64
}

// Minimize runs L-BFGS from x0. x0 is not modified.
func Minimize(x0 []float64, prob Problem, params Params) (*Result, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if prob.Evaluate == nil {
		return nil, errors.New("lbfgs: Evaluate is nil")
	}
	n := len(x0)
	if n == 0 {
		return nil, errors.New("lbfgs: zero-dimensional problem")
	}

	x := append([]float64(nil), x0...)
	g := make([]float64, n)
	xp := make([]float64, n)
	gp := make([]float64, n)
	d := make([]float64, n)
	res := &Result{X: x, G: g}

	fx, err := prob.Evaluate(x, g)
	res.Evaluations++
	if err != nil {
		return res, err
	}
	res.F = fx

	var pf []float64
	if params.Past > 0 {
		pf = make([]float64, params.Past)
		pf[0] = fx
	}

	floats.ScaleTo(d, -1, g)
	xnorm := math.Max(floats.Norm(x, 2), 1)
	gnorm := floats.Norm(g, 2)
	if gnorm/xnorm <= params.Epsilon {
		res.Status = AlreadyMinimized
		return res, nil
	}

	lm := make([]correction, params.M)
	for i := range lm {
		lm[i] = correction{s: make([]float64, n), y: make([]float64, n)}
	}

	step := 1 / floats.Norm(d, 2)
	end, stored := 0, 0
	for k := 1; ; k++ {
		copy(xp, x)
		copy(gp, g)

		var evals int
		if params.LineSearch == MoreThuente {
			fx, step, evals, err = moreThuente(prob.Evaluate, x, g, d, xp, fx, step, params)
		} else {
			fx, step, evals, err = backtracking(prob.Evaluate, x, g, d, xp, fx, step, params)
		}
		res.Evaluations += evals
		if err != nil {
			copy(x, xp)
			copy(g, gp)
			return res, err
		}
		res.F = fx
		res.Iterations = k

		if prob.Progress != nil {
			if err := prob.Progress(k, x, g, fx, step); err != nil {
				return res, err
			}
		}

		xnorm = math.Max(floats.Norm(x, 2), 1)
		gnorm = floats.Norm(g, 2)
		if gnorm/xnorm <= params.Epsilon {
			res.Status = Converged
			return res, nil
		}

		if pf != nil {
			if params.Past <= k {
				rate := (pf[k%params.Past] - fx) / fx
				if math.Abs(rate) < params.Delta {
					res.Status = Stopped
					return res, nil
				}
			}
			pf[k%params.Past] = fx
		}

		if params.MaxIterations != 0 && params.MaxIterations < k+1 {
			res.Status = MaxIterations
			return res, nil
		}

		// Update the correction pairs: s = x - xp, y = g - gp.
		c := &lm[end]
		floats.SubTo(c.s, x, xp)
		floats.SubTo(c.y, g, gp)
		ys := floats.Dot(c.y, c.s)
		yy := floats.Dot(c.y, c.y)
		floats.ScaleTo(d, -1, g)
		if !(ys > 0 && yy > 0) {
			// No positive curvature along the step; drop the pair and take a
			// steepest descent step.
			step = 1 / floats.Norm(d, 2)
			continue
		}
		c.ys = ys
		end = (end + 1) % params.M
		if stored < params.M {
			stored++
		}

		// Two-loop recursion for d = -H·g.
		j := end
		for i := 0; i < stored; i++ {
			j = (j + params.M - 1) % params.M
			it := &lm[j]
			it.alpha = floats.Dot(it.s, d) / it.ys
			floats.AddScaled(d, -it.alpha, it.y)
		}
		floats.Scale(ys/yy, d)
		for i := 0; i < stored; i++ {
			it := &lm[j]
			beta := floats.Dot(it.y, d) / it.ys
			floats.AddScaled(d, it.alpha-beta, it.s)
			j = (j + 1) % params.M
		}

		step = 1
	}
}
