package opt

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MinPopulation is the smallest population mayfly accepts.
const MinPopulation = 20

// MayflyAdapter runs the mayfly swarm optimizer. The library only takes a
// scalar box, so the search runs on the unit cube [-1, 1]^dim and points are
// mapped affinely onto the caller's per-dimension bounds.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a Mayfly optimizer. popSize below MinPopulation is
// raised to it.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	if popSize < MinPopulation {
		popSize = MinPopulation
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the search. The same seed yields the same result.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64) ([]float64, float64, error) {
	dim := len(lower)
	if dim == 0 || len(upper) != dim {
		return nil, 0, fmt.Errorf("mayfly: bounds have lengths %d and %d", len(lower), len(upper))
	}
	center := make([]float64, dim)
	half := make([]float64, dim)
	for i := range lower {
		if !(upper[i] >= lower[i]) {
			return nil, 0, fmt.Errorf("mayfly: empty interval [%g, %g] in dimension %d", lower[i], upper[i], i)
		}
		center[i] = 0.5 * (lower[i] + upper[i])
		half[i] = 0.5 * (upper[i] - lower[i])
	}

	x := make([]float64, dim)
	toBox := func(z []float64) []float64 {
		for i, v := range z {
			x[i] = center[i] + half[i]*math.Max(-1, math.Min(1, v))
		}
		return x
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(z []float64) float64 {
		return eval(toBox(z))
	}
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = -1
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly: %w", err)
	}
	best := append([]float64(nil), toBox(result.GlobalBest.Position)...)
	return best, result.GlobalBest.Cost, nil
}
