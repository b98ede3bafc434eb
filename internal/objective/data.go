package objective

import (
	"math"

	"github.com/cwbudde/bioenfit/internal/errs"
	"github.com/cwbudde/bioenfit/internal/kernel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// weightSumTolerance bounds |Σ w0 - 1| for accepted reference weights.
const weightSumTolerance = 1e-6

// Data is the uncertainty-scaled reweighting problem.
type Data struct {
	// W0 holds the N reference weights.
	W0 []float64
	// YTilde is the M×N matrix of scaled predictions, y[k,i]/sigma[k].
	YTilde *mat.Dense
	// Observed holds the M scaled experimental values, Y[k]/sigma[k].
	Observed []float64
	// Theta is the confidence parameter weighting the entropy term.
	Theta float64
	// Y optionally holds the unscaled M×N predictions. It never enters the
	// objective; when set, evaluations report Y·w in observable units.
	Y *mat.Dense
}

// Dims returns the number of observables and ensemble members.
func (d Data) Dims() (m, n int) {
	if d.YTilde == nil {
		return 0, 0
	}
	return d.YTilde.Dims()
}

// Validate checks shapes and value domains. op names the caller in the
// returned InvalidInput error.
func (d Data) Validate(op string) error {
	if d.YTilde == nil {
		return errs.Invalid(op, "yTilde is nil")
	}
	m, n := d.YTilde.Dims()
	if len(d.W0) != n {
		return errs.Invalid(op, "w0 has %d entries, yTilde has %d members", len(d.W0), n)
	}
	if len(d.Observed) != m {
		return errs.Invalid(op, "observed has %d entries, yTilde has %d observables", len(d.Observed), m)
	}
	if math.IsNaN(d.Theta) || math.IsInf(d.Theta, 0) || d.Theta < 0 {
		return errs.Invalid(op, "theta must be finite and non-negative, got %g", d.Theta)
	}
	if err := ValidateReferenceWeights(op, d.W0); err != nil {
		return err
	}
	if !kernel.Finite(d.Observed) {
		return errs.Invalid(op, "observed contains non-finite values")
	}
	if !kernel.Finite(d.YTilde.RawMatrix().Data) {
		return errs.Invalid(op, "yTilde contains non-finite values")
	}
	if d.Y != nil {
		if ym, yn := d.Y.Dims(); ym != m || yn != n {
			return errs.Invalid(op, "y is %dx%d, yTilde is %dx%d", ym, yn, m, n)
		}
		if !kernel.Finite(mat.DenseCopyOf(d.Y).RawMatrix().Data) {
			return errs.Invalid(op, "y contains non-finite values")
		}
	}
	return nil
}

// Predict returns the unscaled ensemble averages Y·w, or nil without Y.
func (d Data) Predict(w []float64) []float64 {
	if d.Y == nil {
		return nil
	}
	m, n := d.Y.Dims()
	out := make([]float64, m)
	mat.NewVecDense(m, out).MulVec(d.Y, mat.NewVecDense(n, w))
	return out
}

// ValidateReferenceWeights checks that w0 is a probability distribution.
func ValidateReferenceWeights(op string, w0 []float64) error {
	for i, w := range w0 {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return errs.Invalid(op, "w0[%d] = %g is not a non-negative finite weight", i, w)
		}
	}
	if s := floats.Sum(w0); math.Abs(s-1) > weightSumTolerance {
		return errs.Invalid(op, "w0 sums to %.10g, want 1", s)
	}
	return nil
}

// ChiSquare returns ½ Σ_k (avg[k] - observed[k])².
func ChiSquare(avg, observed []float64) float64 {
	var s float64
	for k, a := range avg {
		d := a - observed[k]
		s += d * d
	}
	return 0.5 * s
}
