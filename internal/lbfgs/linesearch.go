package lbfgs

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

type evaluateFunc func(x, g []float64) (float64, error)

// Both line searches move x along d from xp and leave x, g and the returned
// f at the accepted point. They return the accepted step and the number of
// evaluations performed.

// backtracking implements the liblbfgs backtracking search with the Armijo,
// Wolfe or strong Wolfe acceptance test.
func backtracking(eval evaluateFunc, x, g, d, xp []float64, f, step float64, p Params) (float64, float64, int, error) {
	const (
		dec = 0.5
		inc = 2.1
	)
	if step <= 0 {
		return f, step, 0, fmt.Errorf("lbfgs: non-positive initial step %g", step)
	}
	dginit := floats.Dot(g, d)
	if dginit > 0 {
		return f, step, 0, ErrIncreaseGradient
	}
	finit := f
	dgtest := p.Ftol * dginit

	for count := 1; ; count++ {
		floats.AddScaledTo(x, xp, step, d)
		var err error
		f, err = eval(x, g)
		if err != nil {
			return f, step, count, err
		}

		width := dec
		if f <= finit+step*dgtest {
			if p.LineSearch == BacktrackingArmijo {
				return f, step, count, nil
			}
			dg := floats.Dot(g, d)
			switch {
			case dg < p.Gtol*dginit:
				width = inc
			case p.LineSearch == BacktrackingWolfe:
				return f, step, count, nil
			case dg > -p.Gtol*dginit:
				width = dec
			default:
				return f, step, count, nil
			}
		}

		switch {
		case step < p.MinStep:
			return f, step, count, ErrMinimumStep
		case step > p.MaxStep:
			return f, step, count, ErrMaximumStep
		case count >= p.MaxLineSearch:
			return f, step, count, ErrMaximumLineSearch
		}
		step *= width
	}
}

// moreThuente drives gonum's More-Thuente line searcher, which enforces the
// strong Wolfe conditions with Ftol and Gtol.
func moreThuente(eval evaluateFunc, x, g, d, xp []float64, f, step float64, p Params) (float64, float64, int, error) {
	dginit := floats.Dot(g, d)
	if dginit >= 0 {
		return f, step, 0, ErrIncreaseGradient
	}
	if step > p.MaxStep {
		step = p.MaxStep
	}
	mt := &optimize.MoreThuente{
		DecreaseFactor:  p.Ftol,
		CurvatureFactor: p.Gtol,
		MinimumStep:     p.MinStep,
		MaximumStep:     p.MaxStep,
	}
	mt.Init(f, dginit, step)

	for count := 1; ; count++ {
		floats.AddScaledTo(x, xp, step, d)
		var err error
		f, err = eval(x, g)
		if err != nil {
			return f, step, count, err
		}
		op, next, err := mt.Iterate(f, floats.Dot(g, d))
		if err != nil {
			return f, step, count, fmt.Errorf("lbfgs: %w", err)
		}
		if op == optimize.MajorIteration {
			return f, step, count, nil
		}
		if count >= p.MaxLineSearch {
			return f, step, count, ErrMaximumLineSearch
		}
		step = next
	}
}
