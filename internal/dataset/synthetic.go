package dataset

import (
	"math"
	"math/rand"

	"github.com/cwbudde/bioenfit/internal/errs"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultTheta is the confidence parameter of generated problems.
const DefaultTheta = 10.0

// Synthetic generates an m×n reweighting problem. The observed values are
// the averages under a hidden perturbed distribution plus noise, so a
// reweighting with lower misfit than w0 always exists. The same seed
// yields the same dataset.
//
// Keys: forces_init, w0, y, yTilde, YTilde, sigma, theta, GInit, G.
func Synthetic(seed int64, m, n int) (*Dataset, error) {
	if m < 1 || n < 2 {
		return nil, errs.Invalid("dataset.synthetic", "need m >= 1 and n >= 2, got %dx%d", m, n)
	}
	rng := rand.New(rand.NewSource(seed))

	w0 := make([]float64, n)
	for i := range w0 {
		w0[i] = 0.5 + rng.Float64()
	}
	floats.Scale(1/floats.Sum(w0), w0)

	hidden := make([]float64, n)
	for i := range hidden {
		hidden[i] = w0[i] * math.Exp(rng.NormFloat64())
	}
	floats.Scale(1/floats.Sum(hidden), hidden)

	y := mat.NewDense(m, n, nil)
	for k := 0; k < m; k++ {
		for i := 0; i < n; i++ {
			y.Set(k, i, float64(k%3)+rng.NormFloat64())
		}
	}
	sigma := make([]float64, m)
	for k := range sigma {
		sigma[k] = 0.5 + rng.Float64()
	}

	observed := make([]float64, m)
	mat.NewVecDense(m, observed).MulVec(y, mat.NewVecDense(n, hidden))
	for k := range observed {
		observed[k] += 0.1 * sigma[k] * rng.NormFloat64()
	}

	yTilde := mat.NewDense(m, n, nil)
	yTilde.Apply(func(k, _ int, v float64) float64 { return v / sigma[k] }, y)
	scaled := make([]float64, m)
	for k := range scaled {
		scaled[k] = observed[k] / sigma[k]
	}

	logW0 := make([]float64, n)
	for i, w := range w0 {
		logW0[i] = math.Log(w)
	}

	d := New()
	d.SetVector(KeyForcesInit, make([]float64, m))
	d.SetVector(KeyW0, w0)
	d.SetMatrix(KeyY, y)
	d.SetMatrix(KeyYTilde, yTilde)
	d.SetVector(KeyObserved, scaled)
	d.SetVector(KeySigma, sigma)
	d.SetScalar(KeyTheta, DefaultTheta)
	d.SetVector(KeyGInit, logW0)
	d.SetVector(KeyG, logW0)
	return d, nil
}
