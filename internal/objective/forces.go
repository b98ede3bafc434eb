package objective

import (
	"math"

	"github.com/cwbudde/bioenfit/internal/errs"
	"github.com/cwbudde/bioenfit/internal/kernel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Forces evaluates the objective in the forces parameterization, where
// w[i] ∝ w0[i]·exp(-Σ_k f[k]·yTilde[k,i]). The parameter vector has one
// entry per observable.
type Forces struct {
	data   Data
	y      *kernel.Matrix
	kern   kernel.Kernel
	logW0  []float64
	m, n   int
	last   []float64
	valid  bool
	evals  int
	err    error
	v      []float64
	w      []float64
	avg    []float64
	diff   []float64
	c      []float64
	t      []float64
	chi2   float64
	ent    float64
	objVal float64
}

// NewForces validates data and allocates an evaluator.
func NewForces(data Data, opts ...Option) (*Forces, error) {
	if err := data.Validate("forces"); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	m, n := data.Dims()
	e := &Forces{
		data:  data,
		y:     kernel.NewMatrix(data.YTilde),
		kern:  o.kernel,
		logW0: make([]float64, n),
		m:     m,
		n:     n,
		last:  make([]float64, m),
		v:     make([]float64, n),
		w:     make([]float64, n),
		avg:   make([]float64, m),
		diff:  make([]float64, m),
		c:     make([]float64, m),
		t:     make([]float64, n),
	}
	kernel.Log(e.logW0, data.W0)
	if o.cache {
		e.y.Cache()
	}
	return e, nil
}

func (e *Forces) Dim() int { return e.m }

// Err returns the first evaluation failure.
func (e *Forces) Err() error { return e.err }

// Evaluations counts distinct points evaluated.
func (e *Forces) Evaluations() int { return e.evals }

// Cached reports whether the transposed matrix is held.
func (e *Forces) Cached() bool { return e.y.Cached() }

// Release drops the transposed copy. The evaluator stays usable.
func (e *Forces) Release() { e.y.Release() }

// Func returns the objective at forces f, or NaN after a failure.
func (e *Forces) Func(f []float64) float64 {
	if !e.compute(f) {
		return math.NaN()
	}
	return e.objVal
}

// Grad writes ∇_f[k] = Σ_j Cov_w(yTilde_k, yTilde_j)·(theta·f[j] - (avg[j] - observed[j])).
func (e *Forces) Grad(grad, f []float64) {
	if len(grad) != e.m {
		panic("objective: gradient length mismatch")
	}
	if !e.compute(f) {
		for i := range grad {
			grad[i] = math.NaN()
		}
		return
	}
	for k := range e.c {
		e.c[k] = e.data.Theta*f[k] - e.diff[k]
	}
	t := e.t
	e.y.MulTransVec(e.kern, t, e.c)
	avgC := e.kern.Dot(e.avg, e.c)
	for i := range t {
		t[i] = e.w[i] * (t[i] - avgC)
	}
	e.y.MulVec(e.kern, grad, t)
}

// Evaluate returns a snapshot of the objective at f.
func (e *Forces) Evaluate(f []float64) (Evaluation, error) {
	if !e.compute(f) {
		return Evaluation{}, e.err
	}
	return Evaluation{
		Objective:  e.objVal,
		ChiSquare:  e.chi2,
		Entropy:    e.ent,
		Weights:    append([]float64(nil), e.w...),
		YTildePred: append([]float64(nil), e.avg...),
		YPred:      e.data.Predict(e.w),
	}, nil
}

func (e *Forces) compute(f []float64) bool {
	if e.err != nil {
		return false
	}
	if len(f) != e.m {
		panic("objective: forces length mismatch")
	}
	if e.valid && floats.Equal(f, e.last) {
		return true
	}
	e.evals++
	if err := forcesWeights(e.kern, e.y, f, e.logW0, e.v, e.w); err != nil {
		e.err = err
		return false
	}
	e.y.MulVec(e.kern, e.avg, e.w)
	floats.SubTo(e.diff, e.avg, e.data.Observed)
	e.chi2 = ChiSquare(e.avg, e.data.Observed)
	e.ent = kernel.RelativeEntropy(e.w, e.data.W0)
	e.objVal = e.chi2 + e.data.Theta*e.ent
	if math.IsNaN(e.objVal) || math.IsInf(e.objVal, 0) {
		e.err = errs.Unstable("forces.objective", "objective is %g (chi2 %g, entropy %g)", e.objVal, e.chi2, e.ent)
		return false
	}
	copy(e.last, f)
	e.valid = true
	return true
}

// forcesWeights writes the normalized weights for forces f into w, using v
// as scratch for the exponents.
func forcesWeights(k kernel.Kernel, y *kernel.Matrix, f, logW0, v, w []float64) error {
	y.MulTransVec(k, v, f)
	floats.Scale(-1, v)
	kernel.ShiftedExp(w, v, logW0)
	return kernel.Normalize("forces.weights", w)
}

// WeightsFromForces converts forces to normalized weights.
func WeightsFromForces(f, w0 []float64, yTilde *mat.Dense) ([]float64, error) {
	m, n := yTilde.Dims()
	if len(f) != m || len(w0) != n {
		return nil, errs.Invalid("forces.weights", "shape mismatch: forces %d, w0 %d, yTilde %dx%d", len(f), len(w0), m, n)
	}
	logW0 := make([]float64, n)
	kernel.Log(logW0, w0)
	w := make([]float64, n)
	if err := forcesWeights(kernel.Generic{}, kernel.NewMatrix(yTilde), f, logW0, make([]float64, n), w); err != nil {
		return nil, err
	}
	return w, nil
}
