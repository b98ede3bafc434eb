package objective

import (
	"math"

	"github.com/cwbudde/bioenfit/internal/errs"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
)

// GradientCheck compares the analytical gradient with a central finite
// difference estimate.
type GradientCheck struct {
	Analytic []float64
	Numeric  []float64
	// MaxError is max_i |analytic_i - numeric_i| scaled by the larger of
	// the two gradients' infinity norms.
	MaxError float64
	// Index is the component where MaxError occurs.
	Index int
}

// CheckGradient evaluates ev at x analytically and by central differences.
// step <= 0 uses the fd package default.
func CheckGradient(ev Evaluator, x []float64, step float64) (*GradientCheck, error) {
	if len(x) != ev.Dim() {
		return nil, errs.Invalid("gradcheck", "point has %d entries, evaluator expects %d", len(x), ev.Dim())
	}
	analytic := make([]float64, len(x))
	ev.Grad(analytic, x)
	if err := ev.Err(); err != nil {
		return nil, err
	}

	settings := &fd.Settings{Formula: fd.Central}
	if step > 0 {
		settings.Step = step
	}
	numeric := fd.Gradient(nil, ev.Func, x, settings)
	if err := ev.Err(); err != nil {
		return nil, err
	}

	check := &GradientCheck{Analytic: analytic, Numeric: numeric, Index: -1}
	if len(x) == 0 {
		return check, nil
	}
	scale := math.Max(floats.Norm(analytic, math.Inf(1)), floats.Norm(numeric, math.Inf(1)))
	if scale == 0 {
		scale = 1
	}
	for i := range analytic {
		if d := math.Abs(analytic[i]-numeric[i]) / scale; d > check.MaxError || check.Index < 0 {
			check.MaxError, check.Index = d, i
		}
	}
	return check, nil
}
