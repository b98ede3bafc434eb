package objective

import (
	"math"

	"github.com/cwbudde/bioenfit/internal/errs"
	"github.com/cwbudde/bioenfit/internal/kernel"
	"gonum.org/v1/gonum/floats"
)

// LogWeights evaluates the objective in the log-weights parameterization,
// w = softmax(g). The last log-weight is fixed at zero, so the parameter
// vector holds the first N-1 entries of g.
type LogWeights struct {
	data   Data
	y      *kernel.Matrix
	kern   kernel.Kernel
	logW0  []float64
	m, n   int
	last   []float64
	valid  bool
	evals  int
	err    error
	g      []float64
	logW   []float64
	w      []float64
	avg    []float64
	diff   []float64
	s      []float64
	chi2   float64
	ent    float64
	objVal float64
}

// NewLogWeights validates data and allocates an evaluator. G holds the N
// prior log-weights; nil means log(data.W0). The reference distribution is
// softmax(G).
func NewLogWeights(data Data, G []float64, opts ...Option) (*LogWeights, error) {
	if err := data.Validate("logweights"); err != nil {
		return nil, err
	}
	m, n := data.Dims()
	if G != nil && len(G) != n {
		return nil, errs.Invalid("logweights", "G has %d entries, yTilde has %d members", len(G), n)
	}
	if G != nil && !kernel.Finite(G) {
		return nil, errs.Invalid("logweights", "G contains non-finite values")
	}
	if G == nil {
		for i, w := range data.W0 {
			if w == 0 {
				return nil, errs.Invalid("logweights", "w0[%d] is zero, log-weights need a strictly positive reference", i)
			}
		}
	}
	o := buildOptions(opts)
	e := &LogWeights{
		data:  data,
		y:     kernel.NewMatrix(data.YTilde),
		kern:  o.kernel,
		logW0: make([]float64, n),
		m:     m,
		n:     n,
		last:  make([]float64, n-1),
		g:     make([]float64, n),
		logW:  make([]float64, n),
		w:     make([]float64, n),
		avg:   make([]float64, m),
		diff:  make([]float64, m),
		s:     make([]float64, n),
	}
	if G == nil {
		kernel.Log(e.logW0, data.W0)
	} else {
		kernel.LogSoftmax(e.logW0, G)
	}
	if o.cache {
		e.y.Cache()
	}
	return e, nil
}

// Dim is N-1, the number of free log-weights.
func (e *LogWeights) Dim() int { return e.n - 1 }

func (e *LogWeights) Err() error { return e.err }

func (e *LogWeights) Evaluations() int { return e.evals }

func (e *LogWeights) Cached() bool { return e.y.Cached() }

func (e *LogWeights) Release() { e.y.Release() }

func (e *LogWeights) Func(x []float64) float64 {
	if !e.compute(x) {
		return math.NaN()
	}
	return e.objVal
}

// Grad writes ∇[α] = w[α]·(theta·(log(w/w0)[α] - S) + (yTildeᵀd)[α] - avg·d)
// with d = avg - observed, for the N-1 free log-weights.
func (e *LogWeights) Grad(grad, x []float64) {
	if len(grad) != e.n-1 {
		panic("objective: gradient length mismatch")
	}
	if !e.compute(x) {
		for i := range grad {
			grad[i] = math.NaN()
		}
		return
	}
	e.y.MulTransVec(e.kern, e.s, e.diff)
	avgD := e.kern.Dot(e.avg, e.diff)
	theta := e.data.Theta
	for a := range grad {
		grad[a] = e.w[a] * (theta*(e.logW[a]-e.logW0[a]-e.ent) + e.s[a] - avgD)
	}
}

// Evaluate returns a snapshot of the objective at the free log-weights x.
func (e *LogWeights) Evaluate(x []float64) (Evaluation, error) {
	if !e.compute(x) {
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

func (e *LogWeights) compute(x []float64) bool {
	if e.err != nil {
		return false
	}
	if len(x) != e.n-1 {
		panic("objective: log-weights length mismatch")
	}
	if e.valid && floats.Equal(x, e.last) {
		return true
	}
	e.evals++
	copy(e.g, x)
	e.g[e.n-1] = 0
	if lse := kernel.LogSoftmax(e.logW, e.g); math.IsNaN(lse) || math.IsInf(lse, 0) {
		e.err = errs.Unstable("logweights.weights", "log-sum-exp is %g", lse)
		return false
	}
	for i, l := range e.logW {
		e.w[i] = math.Exp(l)
	}
	// exp(g - lse) is off by a few ulps of lse; fold the residual back into
	// both forms so the weights sum to one.
	s := floats.Sum(e.w)
	floats.Scale(1/s, e.w)
	floats.AddConst(-math.Log(s), e.logW)
	e.y.MulVec(e.kern, e.avg, e.w)
	floats.SubTo(e.diff, e.avg, e.data.Observed)
	e.chi2 = ChiSquare(e.avg, e.data.Observed)
	e.ent = kernel.RelativeEntropyLog(e.w, e.logW, e.logW0)
	e.objVal = e.chi2 + e.data.Theta*e.ent
	if math.IsNaN(e.objVal) || math.IsInf(e.objVal, 0) {
		e.err = errs.Unstable("logweights.objective", "objective is %g (chi2 %g, entropy %g)", e.objVal, e.chi2, e.ent)
		return false
	}
	copy(e.last, x)
	e.valid = true
	return true
}

// WeightsFromLogWeights returns softmax(g).
func WeightsFromLogWeights(g []float64) []float64 {
	w := make([]float64, len(g))
	kernel.Softmax(w, g)
	return w
}

// GaugeFix returns g shifted so that its last entry is zero. Weights are
// unchanged by the shift.
func GaugeFix(g []float64) []float64 {
	out := make([]float64, len(g))
	if len(g) == 0 {
		return out
	}
	last := g[len(g)-1]
	for i, v := range g {
		out[i] = v - last
	}
	return out
}
