package minimize

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// ConvergenceConfig controls objective-stagnation detection.
type ConvergenceConfig struct {
	// Enabled controls whether stagnation stops the run.
	Enabled bool

	// Patience is the number of consecutive major iterations without a
	// significant decrease before the run is declared converged.
	Patience int

	// Threshold is the minimum relative decrease that counts as progress:
	// (lastSignificant - f) / max(|lastSignificant|, 1e-300).
	Threshold float64
}

// DefaultConvergenceConfig stops after 100 stagnant iterations.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  100,
		Threshold: 1e-13,
	}
}

// Converger tracks the best objective of the major iterations and reports
// FunctionConvergence once it stagnates. It implements optimize.Converger.
type Converger struct {
	config          ConvergenceConfig
	updates         int
	bestCost        float64
	lastSignificant float64
	staleCount      int
}

// NewConverger creates a converger with the given config.
func NewConverger(config ConvergenceConfig) *Converger {
	c := &Converger{config: config}
	c.Reset()
	return c
}

// Init implements optimize.Converger.
func (c *Converger) Init(int) {
	c.Reset()
}

// Converged implements optimize.Converger.
func (c *Converger) Converged(loc *optimize.Location) optimize.Status {
	if c.Update(loc.F) {
		return optimize.FunctionConvergence
	}
	return optimize.NotTerminated
}

// Update records an objective value and reports whether the run has
// stagnated for Patience iterations.
func (c *Converger) Update(cost float64) bool {
	if !c.config.Enabled {
		return false
	}
	c.updates++
	if cost < c.bestCost {
		c.bestCost = cost
	}
	if c.updates == 1 {
		c.lastSignificant = cost
		return false
	}

	improvement := (c.lastSignificant - cost) / math.Max(math.Abs(c.lastSignificant), 1e-300)
	if improvement >= c.config.Threshold {
		c.lastSignificant = cost
		c.staleCount = 0
		return false
	}

	c.staleCount++
	if c.staleCount >= c.config.Patience {
		slog.Debug("Objective stagnated",
			"stale_count", c.staleCount,
			"patience", c.config.Patience,
			"best_objective", c.bestCost,
		)
		return true
	}
	return false
}

// BestCost returns the lowest objective seen.
func (c *Converger) BestCost() float64 {
	return c.bestCost
}

// StaleCount returns the current number of iterations without progress.
func (c *Converger) StaleCount() int {
	return c.staleCount
}

// Reset clears all recorded state.
func (c *Converger) Reset() {
	c.updates = 0
	c.bestCost = math.Inf(1)
	c.lastSignificant = math.Inf(1)
	c.staleCount = 0
}
