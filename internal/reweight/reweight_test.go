package reweight

import (
	"context"
	"math"
	"testing"

	"github.com/cwbudde/bioenfit/internal/errs"
	"github.com/cwbudde/bioenfit/internal/kernel"
	"github.com/cwbudde/bioenfit/internal/minimize"
	"github.com/cwbudde/bioenfit/internal/objective"
	"github.com/cwbudde/bioenfit/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// reEvalTolerance bounds the relative difference between the reported
	// final objective and a fresh evaluation at the returned point.
	reEvalTolerance = 5e-14
	// referenceTolerance bounds the relative difference to the reference
	// minimum for every gradient backend.
	referenceTolerance = 1e-3
)

func loadGolden(t *testing.T) *store.Golden {
	t.Helper()
	g, err := store.LoadGolden("testdata/reference.json")
	require.NoError(t, err)
	return g
}

func pairConfig(pair [2]string, cache bool) minimize.Config {
	cfg := minimize.DefaultConfig(pair[0])
	cfg.Algorithm = pair[1]
	cfg.CacheTransposed = cache
	return cfg
}

func logW0(w0 []float64) []float64 {
	g := make([]float64, len(w0))
	kernel.Log(g, w0)
	return g
}

// ---------------------- Reference Tests ----------------------

func TestForcesMatchReference(t *testing.T) {
	golden := loadGolden(t)
	for _, c := range golden.Cases {
		data, err := c.Data()
		require.NoError(t, err)

		for _, pair := range minimize.GradientPairs() {
			t.Run(c.Name+"/"+pair[0]+"/"+pair[1], func(t *testing.T) {
				res, err := FindOptimumForces(context.Background(), c.ForcesInit, data, pairConfig(pair, false))
				require.NoError(t, err)
				require.NoError(t, res.Err())
				assert.Equal(t, minimize.Converged, res.Status)

				assert.InDelta(t, c.InitialObjective, res.InitialObjective, 1e-14)
				assert.Less(t, kernel.RelativeDifference(res.FinalObjective, c.Objective), referenceTolerance,
					"objective %.16g, reference %.16g", res.FinalObjective, c.Objective)

				fresh, err := ForcesObjective(res.Forces, data)
				require.NoError(t, err)
				assert.Less(t, kernel.RelativeDifference(res.FinalObjective, fresh.Objective), reEvalTolerance)
			})
		}
	}
}

func TestLogWeightsMatchReference(t *testing.T) {
	golden := loadGolden(t)
	for _, c := range golden.Cases {
		data, err := c.Data()
		require.NoError(t, err)

		for _, pair := range minimize.GradientPairs() {
			t.Run(c.Name+"/"+pair[0]+"/"+pair[1], func(t *testing.T) {
				res, err := FindOptimumLogWeights(context.Background(), logW0(data.W0), nil, data, pairConfig(pair, false))
				require.NoError(t, err)
				assert.Equal(t, minimize.Converged, res.Status)

				// Starting at the reference weights gives the pure misfit.
				assert.InDelta(t, c.InitialObjective, res.InitialObjective, 1e-14)
				assert.Less(t, kernel.RelativeDifference(res.FinalObjective, c.Objective), referenceTolerance,
					"objective %.16g, reference %.16g", res.FinalObjective, c.Objective)

				require.Len(t, res.G, len(data.W0))
				assert.Equal(t, 0.0, res.G[len(res.G)-1])

				fresh, err := LogWeightsObjective(res.G, nil, data)
				require.NoError(t, err)
				assert.Less(t, kernel.RelativeDifference(res.FinalObjective, fresh.Objective), reEvalTolerance)
			})
		}
	}
}

func TestCacheDoesNotChangeResults(t *testing.T) {
	golden := loadGolden(t)
	c, ok := golden.Case("small_M3xN8")
	require.True(t, ok)
	data, err := c.Data()
	require.NoError(t, err)

	for _, pair := range minimize.GradientPairs() {
		t.Run(pair[0]+"/"+pair[1], func(t *testing.T) {
			plain, err := FindOptimumForces(context.Background(), c.ForcesInit, data, pairConfig(pair, false))
			require.NoError(t, err)
			cached, err := FindOptimumForces(context.Background(), c.ForcesInit, data, pairConfig(pair, true))
			require.NoError(t, err)

			assert.Equal(t, plain.Forces, cached.Forces)
			assert.Equal(t, plain.FinalObjective, cached.FinalObjective)
			assert.Equal(t, plain.Iterations, cached.Iterations)

			plainG, err := FindOptimumLogWeights(context.Background(), logW0(data.W0), nil, data, pairConfig(pair, false))
			require.NoError(t, err)
			cachedG, err := FindOptimumLogWeights(context.Background(), logW0(data.W0), nil, data, pairConfig(pair, true))
			require.NoError(t, err)
			assert.Equal(t, plainG.G, cachedG.G)
			assert.Equal(t, plainG.FinalObjective, cachedG.FinalObjective)
		})
	}
}

func TestTenMemberExample(t *testing.T) {
	golden := loadGolden(t)
	c, ok := golden.Case("uniform_M1xN10")
	require.True(t, ok)
	data, err := c.Data()
	require.NoError(t, err)

	res, err := FindOptimumForces(context.Background(), []float64{0}, data, minimize.DefaultConfig(""))
	require.NoError(t, err)

	// chi2 at the reference weights is ½(0.45 - 0.5)².
	assert.InDelta(t, 0.5*0.05*0.05, res.InitialObjective, 1e-15)
	assert.Less(t, res.FinalObjective, res.InitialObjective)
	assert.InDelta(t, 1.0, floats.Sum(res.Weights), 1e-12)
	for _, w := range res.Weights {
		assert.Greater(t, w, 0.0)
	}
	assert.GreaterOrEqual(t, res.Entropy, 0.0)
	assert.Less(t, kernel.RelativeDifference(res.ChiSquare, c.ChiSquare), 1e-2)
	assert.Less(t, kernel.RelativeDifference(res.Entropy, c.Entropy), 1e-2)

	// The observed value lies above the reference average, so weight moves
	// to members with larger predictions.
	assert.Less(t, res.Forces[0], 0.0)
	assert.Greater(t, res.Weights[9], res.Weights[0])
	assert.Greater(t, res.YTildePred[0], 0.45)
	assert.Less(t, res.YTildePred[0], 0.5)
	assert.Nil(t, res.YPred, "no unscaled predictions given")
}

func TestForcesAndLogWeightsReachSameWeights(t *testing.T) {
	golden := loadGolden(t)
	c, ok := golden.Case("small_M3xN8")
	require.True(t, ok)
	data, err := c.Data()
	require.NoError(t, err)

	cfg := minimize.DefaultConfig(minimize.BackendLBFGS)
	cfg.Epsilon = 1e-8
	cfg.Tolerance = 1e-10
	forces, err := FindOptimumForces(context.Background(), c.ForcesInit, data, cfg)
	require.NoError(t, err)

	g, err := LogWeightsFromForces(forces.Forces, data.W0, data.YTilde)
	require.NoError(t, err)
	assert.Equal(t, 0.0, g[len(g)-1])
	assert.InDeltaSlice(t, forces.Weights, objective.WeightsFromLogWeights(g), 1e-12)

	logw, err := FindOptimumLogWeights(context.Background(), g, nil, data, cfg)
	require.NoError(t, err)
	assert.InDeltaSlice(t, forces.Weights, logw.Weights, 1e-5)
	assert.Less(t, kernel.RelativeDifference(forces.FinalObjective, logw.FinalObjective), 1e-8)
}

// ---------------------- Edge Cases ----------------------

func TestMayflyImprovesObjective(t *testing.T) {
	golden := loadGolden(t)
	c, _ := golden.Case("small_M3xN8")
	data, err := c.Data()
	require.NoError(t, err)

	cfg := minimize.DefaultConfig(minimize.BackendMayfly)
	cfg.Bound = 1
	res, err := FindOptimumForces(context.Background(), c.ForcesInit, data, cfg)
	require.NoError(t, err)
	assert.Less(t, res.FinalObjective, res.InitialObjective)
	assert.Less(t, kernel.RelativeDifference(res.FinalObjective, c.Objective), 1e-1)
}

func TestIterationCapReturnsBestIterate(t *testing.T) {
	golden := loadGolden(t)
	c, _ := golden.Case("small_M3xN8")
	data, err := c.Data()
	require.NoError(t, err)

	cfg := minimize.DefaultConfig("")
	cfg.MaxIterations = 1
	res, err := FindOptimumForces(context.Background(), c.ForcesInit, data, cfg)
	require.NoError(t, err)
	assert.Equal(t, minimize.MaxIterReached, res.Status)
	assert.ErrorIs(t, res.Err(), errs.ErrNonConvergence)
	assert.Less(t, res.FinalObjective, res.InitialObjective)
	assert.Len(t, res.Weights, 8)
}

func TestCancelledRunFails(t *testing.T) {
	golden := loadGolden(t)
	c, _ := golden.Case("small_M3xN8")
	data, err := c.Data()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := FindOptimumForces(ctx, c.ForcesInit, data, minimize.DefaultConfig(""))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, minimize.Failed, res.Status)
}

func TestInvalidInputRejectedBeforeRun(t *testing.T) {
	golden := loadGolden(t)
	c, _ := golden.Case("small_M3xN8")
	data, err := c.Data()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = FindOptimumForces(ctx, []float64{0}, data, minimize.DefaultConfig(""))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = FindOptimumForces(ctx, c.ForcesInit, data, minimize.DefaultConfig("nlopt"))
	assert.ErrorIs(t, err, errs.ErrBackendUnavailable)

	bad := data
	bad.Theta = -1
	_, err = FindOptimumForces(ctx, c.ForcesInit, bad, minimize.DefaultConfig(""))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = FindOptimumLogWeights(ctx, []float64{0, 0}, nil, data, minimize.DefaultConfig(""))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = FindOptimumLogWeights(ctx, logW0(data.W0), []float64{1, 2}, data, minimize.DefaultConfig(""))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = ForcesObjective([]float64{1}, data)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = LogWeightsObjective([]float64{1}, nil, data)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestZeroThetaIsPureMisfit(t *testing.T) {
	golden := loadGolden(t)
	c, _ := golden.Case("small_M3xN8")
	data, err := c.Data()
	require.NoError(t, err)
	data.Theta = 0

	ev, err := ForcesObjective([]float64{0.3, -0.1, 0.2}, data)
	require.NoError(t, err)
	assert.Equal(t, ev.ChiSquare, ev.Objective)
	assert.Greater(t, ev.Entropy, 0.0)
}

// ---------------------- Helpers ----------------------

func TestScale(t *testing.T) {
	y := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	yTilde, scaled, err := Scale(y, []float64{2, 8}, []float64{0.5, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 4}, scaled)
	assert.Equal(t, []float64{2, 4, 6, 2, 2.5, 3}, yTilde.RawMatrix().Data)
	// y is unchanged.
	assert.Equal(t, 1.0, y.At(0, 0))

	_, _, err = Scale(y, []float64{1, 1}, []float64{1, 0})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, _, err = Scale(y, []float64{1}, []float64{1, 1})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, _, err = Scale(nil, nil, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestPredictionsInObservableUnits(t *testing.T) {
	y := mat.NewDense(1, 4, []float64{1, 2, 3, 4})
	sigma := []float64{2}
	yTilde, observed, err := Scale(y, []float64{3}, sigma)
	require.NoError(t, err)
	data := objective.Data{
		W0:       []float64{0.25, 0.25, 0.25, 0.25},
		YTilde:   yTilde,
		Observed: observed,
		Theta:    1,
		Y:        y,
	}
	cfg := minimize.DefaultConfig(minimize.BackendScipy)

	forces, err := FindOptimumForces(context.Background(), []float64{0}, data, cfg)
	require.NoError(t, err)
	logw, err := FindOptimumLogWeights(context.Background(), make([]float64, 4), nil, data, cfg)
	require.NoError(t, err)

	for name, sum := range map[string]Summary{"forces": forces.Summary, "logweights": logw.Summary} {
		require.Len(t, sum.YPred, 1, name)
		raw := floats.Dot(y.RawRowView(0), sum.Weights)
		assert.InDelta(t, raw, sum.YPred[0], 1e-12, name)
		assert.InDelta(t, sigma[0]*sum.YTildePred[0], sum.YPred[0], 1e-12, name)
		// Pulled from the reference mean 2.5 toward the observed 3.
		assert.Greater(t, sum.YPred[0], 2.5, name)
		assert.Less(t, sum.YPred[0], 3.0, name)
	}

	bad := data
	bad.Y = mat.NewDense(2, 4, nil)
	_, err = FindOptimumForces(context.Background(), []float64{0}, bad, cfg)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestLogWeightsFromForcesMatchesForcesWeights(t *testing.T) {
	y := mat.NewDense(2, 4, []float64{0.1, -0.3, 0.5, 1.2, 0.7, 0.2, -0.4, 0.0})
	w0 := []float64{0.1, 0.2, 0.3, 0.4}
	f := []float64{0.8, -1.5}

	g, err := LogWeightsFromForces(f, w0, y)
	require.NoError(t, err)
	w, err := objective.WeightsFromForces(f, w0, y)
	require.NoError(t, err)
	assert.InDeltaSlice(t, w, objective.WeightsFromLogWeights(g), 1e-14)

	_, err = LogWeightsFromForces(f, []float64{0, 0.2, 0.4, 0.4}, y)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = LogWeightsFromForces([]float64{1}, w0, y)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestSummaryErr(t *testing.T) {
	s := Summary{Status: minimize.Converged}
	assert.NoError(t, s.Err())
	s.Status = minimize.MaxIterReached
	s.FinalObjective = math.Pi
	assert.ErrorIs(t, s.Err(), errs.ErrNonConvergence)
}
