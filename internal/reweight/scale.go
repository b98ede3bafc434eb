package reweight

import (
	"math"

	"github.com/cwbudde/bioenfit/internal/errs"
	"github.com/cwbudde/bioenfit/internal/objective"
	"gonum.org/v1/gonum/mat"
)

// Scale divides the M×N predictions y and the M observed values by the
// per-observable uncertainties sigma. The objective only ever sees the
// scaled pair.
func Scale(y *mat.Dense, observed, sigma []float64) (*mat.Dense, []float64, error) {
	if y == nil {
		return nil, nil, errs.Invalid("scale", "y is nil")
	}
	m, n := y.Dims()
	if len(observed) != m || len(sigma) != m {
		return nil, nil, errs.Invalid("scale", "observed has %d and sigma %d entries, y has %d observables", len(observed), len(sigma), m)
	}
	for k, s := range sigma {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, nil, errs.Invalid("scale", "sigma[%d] = %g is not a positive finite uncertainty", k, s)
		}
	}
	yTilde := mat.NewDense(m, n, nil)
	yTilde.Apply(func(k, _ int, v float64) float64 { return v / sigma[k] }, y)
	scaled := make([]float64, m)
	for k := range observed {
		scaled[k] = observed[k] / sigma[k]
	}
	return yTilde, scaled, nil
}

// LogWeightsFromForces returns the gauge-fixed log-weights
// g = log(w0) - yTildeᵀf that produce the same weights as forces f.
func LogWeightsFromForces(f, w0 []float64, yTilde *mat.Dense) ([]float64, error) {
	if yTilde == nil {
		return nil, errs.Invalid("forces.logweights", "yTilde is nil")
	}
	m, n := yTilde.Dims()
	if len(f) != m || len(w0) != n {
		return nil, errs.Invalid("forces.logweights", "shape mismatch: forces %d, w0 %d, yTilde %dx%d", len(f), len(w0), m, n)
	}
	for i, w := range w0 {
		if !(w > 0) {
			return nil, errs.Invalid("forces.logweights", "w0[%d] = %g has no finite logarithm", i, w)
		}
	}
	g := make([]float64, n)
	if m > 0 && n > 0 {
		gv := mat.NewVecDense(n, g)
		gv.MulVec(yTilde.T(), mat.NewVecDense(m, append([]float64(nil), f...)))
	}
	for i := range g {
		g[i] = math.Log(w0[i]) - g[i]
	}
	return objective.GaugeFix(g), nil
}
