package objective

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/bioenfit/internal/errs"
	"github.com/cwbudde/bioenfit/internal/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ---------------------- Test Utilities ----------------------

// randomProblem builds an m×n problem whose observed values come from a
// perturbed reweighting of a random reference distribution.
func randomProblem(m, n int, theta float64, seed int64) Data {
	rng := rand.New(rand.NewSource(seed))
	w0 := make([]float64, n)
	for i := range w0 {
		w0[i] = 0.1 + rng.Float64()
	}
	floats.Scale(1/floats.Sum(w0), w0)

	y := mat.NewDense(m, n, nil)
	for k := 0; k < m; k++ {
		for i := 0; i < n; i++ {
			y.Set(k, i, rng.NormFloat64())
		}
	}
	observed := make([]float64, m)
	for k := range observed {
		observed[k] = 0.5 * rng.NormFloat64()
	}
	return Data{W0: w0, YTilde: y, Observed: observed, Theta: theta}
}

func randomPoint(n int, scale float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float64, n)
	for i := range x {
		x[i] = scale * rng.NormFloat64()
	}
	return x
}

// tenMemberExample is the uniform N=10, M=1 example problem.
func tenMemberExample() Data {
	y := make([]float64, 10)
	w0 := make([]float64, 10)
	for i := range y {
		y[i] = float64(i) / 10
		w0[i] = 0.1
	}
	return Data{
		W0:       w0,
		YTilde:   mat.NewDense(1, 10, y),
		Observed: []float64{0.5},
		Theta:    1.0,
	}
}

// ---------------------- Gradient Tests ----------------------

func TestForcesGradientMatchesFiniteDifference(t *testing.T) {
	for _, theta := range []float64{0, 0.1, 1, 10} {
		data := randomProblem(5, 40, theta, 1)
		ev, err := NewForces(data)
		require.NoError(t, err)

		for trial := 0; trial < 5; trial++ {
			f := randomPoint(5, 0.5, int64(10+trial))
			check, err := CheckGradient(ev, f, 0)
			require.NoError(t, err)
			assert.Less(t, check.MaxError, 1e-6, "theta=%g trial=%d component %d", theta, trial, check.Index)
		}
	}
}

func TestLogWeightsGradientMatchesFiniteDifference(t *testing.T) {
	for _, theta := range []float64{0, 0.1, 1, 10} {
		data := randomProblem(4, 25, theta, 2)
		ev, err := NewLogWeights(data, nil)
		require.NoError(t, err)
		require.Equal(t, 24, ev.Dim())

		for trial := 0; trial < 5; trial++ {
			g := randomPoint(24, 0.5, int64(20+trial))
			check, err := CheckGradient(ev, g, 0)
			require.NoError(t, err)
			assert.Less(t, check.MaxError, 1e-6, "theta=%g trial=%d component %d", theta, trial, check.Index)
		}
	}
}

func TestLogWeightsGradientWithPriorLogWeights(t *testing.T) {
	data := randomProblem(3, 12, 2, 3)
	G := randomPoint(12, 1, 4)
	data.W0 = WeightsFromLogWeights(G)

	ev, err := NewLogWeights(data, G)
	require.NoError(t, err)
	check, err := CheckGradient(ev, randomPoint(11, 0.3, 5), 0)
	require.NoError(t, err)
	assert.Less(t, check.MaxError, 1e-6)
}

func TestCheckGradientRejectsWrongLength(t *testing.T) {
	ev, err := NewForces(randomProblem(2, 5, 1, 1))
	require.NoError(t, err)
	_, err = CheckGradient(ev, []float64{1}, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

// ---------------------- Cache Tests ----------------------

func TestForcesCacheIdenticalOverManyEvaluations(t *testing.T) {
	data := randomProblem(8, 200, 0.5, 6)
	plain, err := NewForces(data, WithCache(false))
	require.NoError(t, err)
	cached, err := NewForces(data, WithCache(true))
	require.NoError(t, err)
	require.False(t, plain.Cached())
	require.True(t, cached.Cached())

	gPlain := make([]float64, 8)
	gCached := make([]float64, 8)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		f := make([]float64, 8)
		for k := range f {
			f[k] = rng.NormFloat64()
		}
		require.Equal(t, plain.Func(f), cached.Func(f), "evaluation %d", i)
		plain.Grad(gPlain, f)
		cached.Grad(gCached, f)
		require.Equal(t, gPlain, gCached, "gradient %d", i)
	}
}

func TestLogWeightsCacheIdenticalOverManyEvaluations(t *testing.T) {
	data := randomProblem(6, 80, 0.5, 8)
	plain, err := NewLogWeights(data, nil)
	require.NoError(t, err)
	cached, err := NewLogWeights(data, nil, WithCache(true))
	require.NoError(t, err)

	gPlain := make([]float64, 79)
	gCached := make([]float64, 79)
	for i := 0; i < 1000; i++ {
		x := randomPoint(79, 0.5, int64(i))
		require.Equal(t, plain.Func(x), cached.Func(x), "evaluation %d", i)
		plain.Grad(gPlain, x)
		cached.Grad(gCached, x)
		require.Equal(t, gPlain, gCached, "gradient %d", i)
	}
}

func TestReleaseKeepsEvaluatorUsable(t *testing.T) {
	data := randomProblem(3, 30, 1, 9)
	ev, err := NewForces(data, WithCache(true))
	require.NoError(t, err)
	f := randomPoint(3, 0.5, 10)
	before := ev.Func(f)
	ev.Release()
	assert.False(t, ev.Cached())

	fresh, err := NewForces(data)
	require.NoError(t, err)
	assert.Equal(t, before, fresh.Func(f))
}

func TestNativeKernelAgreesWithGeneric(t *testing.T) {
	data := randomProblem(10, 300, 1, 11)
	generic, err := NewForces(data)
	require.NoError(t, err)
	native, err := NewForces(data, WithKernel(kernel.Native{}), WithCache(true))
	require.NoError(t, err)
	threaded, err := NewForces(data, WithKernel(kernel.Generic{Threads: 4}))
	require.NoError(t, err)

	f := randomPoint(10, 0.3, 12)
	want := generic.Func(f)
	assert.InEpsilon(t, want, native.Func(f), 1e-12)
	assert.Equal(t, want, threaded.Func(f))

	gWant := make([]float64, 10)
	gGot := make([]float64, 10)
	generic.Grad(gWant, f)
	native.Grad(gGot, f)
	assert.InDeltaSlice(t, gWant, gGot, 1e-12)
}

// ---------------------- Weight properties ----------------------

func TestWeightsNormalizedAndEntropyNonNegative(t *testing.T) {
	data := randomProblem(5, 50, 1, 13)
	forces, err := NewForces(data)
	require.NoError(t, err)
	logw, err := NewLogWeights(data, nil)
	require.NoError(t, err)

	for trial := 0; trial < 20; trial++ {
		for _, run := range []struct {
			name string
			eval func() (Evaluation, error)
		}{
			{"forces", func() (Evaluation, error) { return forces.Evaluate(randomPoint(5, 2, int64(trial))) }},
			{"logweights", func() (Evaluation, error) { return logw.Evaluate(randomPoint(49, 2, int64(trial))) }},
		} {
			ev, err := run.eval()
			require.NoError(t, err, run.name)
			for i, w := range ev.Weights {
				require.GreaterOrEqual(t, w, 0.0, "%s weight %d", run.name, i)
			}
			assert.InDelta(t, 1.0, floats.Sum(ev.Weights), 1e-12, run.name)
			assert.GreaterOrEqual(t, ev.Entropy, 0.0, run.name)
			assert.GreaterOrEqual(t, ev.ChiSquare, 0.0, run.name)
			assert.InDelta(t, ev.ChiSquare+data.Theta*ev.Entropy, ev.Objective, 1e-12, run.name)
		}
	}
}

func TestLogWeightsNormalizedAtLargeLogits(t *testing.T) {
	data := randomProblem(2, 10, 1, 17)
	ev, err := NewLogWeights(data, nil)
	require.NoError(t, err)

	x := randomPoint(9, 0.5, 3)
	floats.AddConst(1e4, x)
	res, err := ev.Evaluate(x)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, floats.Sum(res.Weights), 1e-14)
	assert.GreaterOrEqual(t, res.Entropy, 0.0)
}

func TestZeroForcesReproduceReference(t *testing.T) {
	data := tenMemberExample()
	ev, err := NewForces(data)
	require.NoError(t, err)

	got, err := ev.Evaluate([]float64{0})
	require.NoError(t, err)
	assert.InDeltaSlice(t, data.W0, got.Weights, 1e-15)
	assert.Equal(t, 0.0, got.Entropy)
	// mean(y) = 0.45, observed = 0.5
	assert.InDelta(t, 0.5*0.05*0.05, got.ChiSquare, 1e-15)
	assert.InDelta(t, got.ChiSquare, got.Objective, 1e-15)
	assert.InDeltaSlice(t, []float64{0.45}, got.YTildePred, 1e-15)
}

func TestForcesAndLogWeightsAgreeOnWeights(t *testing.T) {
	data := randomProblem(3, 20, 1, 14)
	f := randomPoint(3, 0.7, 15)
	w, err := WeightsFromForces(f, data.W0, data.YTilde)
	require.NoError(t, err)

	// g = log w0 - yTildeᵀf, gauge-fixed.
	g := make([]float64, 20)
	for i := range g {
		g[i] = math.Log(data.W0[i])
		for k := range f {
			g[i] -= f[k] * data.YTilde.At(k, i)
		}
	}
	g = GaugeFix(g)
	assert.Equal(t, 0.0, g[19])
	assert.InDeltaSlice(t, w, WeightsFromLogWeights(g), 1e-14)

	forces, err := NewForces(data)
	require.NoError(t, err)
	logw, err := NewLogWeights(data, nil)
	require.NoError(t, err)
	assert.InEpsilon(t, forces.Func(f), logw.Func(g[:19]), 1e-12)
}

func TestEvaluationCachingSkipsRepeatedPoints(t *testing.T) {
	ev, err := NewForces(randomProblem(2, 10, 1, 16))
	require.NoError(t, err)
	f := []float64{0.1, -0.2}
	grad := make([]float64, 2)
	ev.Func(f)
	ev.Grad(grad, f)
	ev.Func(f)
	assert.Equal(t, 1, ev.Evaluations())
	ev.Func([]float64{0.2, -0.2})
	assert.Equal(t, 2, ev.Evaluations())
}

// ---------------------- Error Tests ----------------------

func TestValidateRejectsInvalidInput(t *testing.T) {
	base := func() Data { return randomProblem(2, 4, 1, 17) }
	tests := []struct {
		name   string
		mutate func(d *Data)
	}{
		{"nil matrix", func(d *Data) { d.YTilde = nil }},
		{"w0 length", func(d *Data) { d.W0 = d.W0[:3] }},
		{"observed length", func(d *Data) { d.Observed = []float64{1} }},
		{"negative theta", func(d *Data) { d.Theta = -1 }},
		{"nan theta", func(d *Data) { d.Theta = math.NaN() }},
		{"negative weight", func(d *Data) { d.W0 = []float64{1.5, -0.5, 0, 0} }},
		{"weights not normalized", func(d *Data) { d.W0 = []float64{0.5, 0.5, 0.5, 0.5} }},
		{"nan observed", func(d *Data) { d.Observed[0] = math.NaN() }},
		{"inf prediction", func(d *Data) { d.YTilde.Set(0, 0, math.Inf(1)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(&d)
			_, err := NewForces(d)
			assert.ErrorIs(t, err, errs.ErrInvalidInput)
			_, err = NewLogWeights(d, nil)
			assert.ErrorIs(t, err, errs.ErrInvalidInput)
		})
	}
}

func TestLogWeightsRejectsBadPrior(t *testing.T) {
	d := randomProblem(2, 4, 1, 18)
	_, err := NewLogWeights(d, []float64{0, 0})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = NewLogWeights(d, []float64{0, math.Inf(1), 0, 0})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	d.W0 = []float64{0.5, 0.5, 0, 0}
	_, err = NewLogWeights(d, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestOverflowReportsNumericalInstability(t *testing.T) {
	data := randomProblem(2, 10, 1, 19)
	ev, err := NewForces(data)
	require.NoError(t, err)

	v := ev.Func([]float64{math.Inf(1), math.Inf(-1)})
	assert.True(t, math.IsNaN(v))
	require.Error(t, ev.Err())
	assert.ErrorIs(t, ev.Err(), errs.ErrNumericalInstability)

	// The failure is sticky.
	assert.True(t, math.IsNaN(ev.Func([]float64{0, 0})))
	grad := make([]float64, 2)
	ev.Grad(grad, []float64{0, 0})
	assert.True(t, math.IsNaN(grad[0]))
}

func TestWeightsFromForcesShapeMismatch(t *testing.T) {
	data := randomProblem(2, 4, 1, 20)
	_, err := WeightsFromForces([]float64{1}, data.W0, data.YTilde)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestZeroReferenceWeightStaysZero(t *testing.T) {
	data := randomProblem(2, 4, 1, 21)
	data.W0 = []float64{0.5, 0.5, 0, 0}
	ev, err := NewForces(data)
	require.NoError(t, err)
	got, err := ev.Evaluate([]float64{0.3, -1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Weights[2])
	assert.Equal(t, 0.0, got.Weights[3])
	assert.False(t, math.IsInf(got.Entropy, 0))
}
