package opt

// Optimizer is a derivative-free search over a box.
type Optimizer interface {
	// Run minimizes eval over lower[i] <= x[i] <= upper[i] and returns the
	// best point and its cost.
	Run(eval func([]float64) float64, lower, upper []float64) ([]float64, float64, error)
}
