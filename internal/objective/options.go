package objective

import "github.com/cwbudde/bioenfit/internal/kernel"

type options struct {
	cache  bool
	kernel kernel.Kernel
}

// Option configures an evaluator.
type Option func(*options)

// WithCache keeps a transposed copy of yTilde for the lifetime of the
// evaluator.
func WithCache(on bool) Option {
	return func(o *options) { o.cache = on }
}

// WithKernel selects the matrix-vector kernel. The default is the
// single-threaded generic kernel.
func WithKernel(k kernel.Kernel) Option {
	return func(o *options) {
		if k != nil {
			o.kernel = k
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{kernel: kernel.Generic{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Evaluation is a snapshot of one objective evaluation. YTildePred holds
// the ensemble averages of the scaled predictions; YPred holds them in
// observable units and is nil when Data.Y is unset.
type Evaluation struct {
	Objective  float64
	ChiSquare  float64
	Entropy    float64
	Weights    []float64
	YTildePred []float64
	YPred      []float64
}

// Evaluator is an objective with an analytical gradient over a flat
// parameter vector. Implementations are not safe for concurrent use.
type Evaluator interface {
	Dim() int
	Func(x []float64) float64
	Grad(grad, x []float64)
	// Err returns the first evaluation failure, if any. After a failure
	// Func returns NaN.
	Err() error
}
