package minimize

import (
	"sort"

	"gonum.org/v1/gonum/optimize"
)

// factory builds a fresh method for one run from a validated config.
type factory func(cfg Config) method

type backend struct {
	defaultAlgorithm string
	algorithms       map[string]factory
}

func (b backend) names() []string {
	names := make([]string, 0, len(b.algorithms))
	for n := range b.algorithms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// registry is the closed set of backend × algorithm pairs.
var registry = map[string]backend{
	BackendScipy: {
		defaultAlgorithm: "lbfgs",
		algorithms: map[string]factory{
			"bfgs": gonumFactory(func(Config) optimize.Method {
				return &optimize.BFGS{Linesearcher: &optimize.MoreThuente{DecreaseFactor: 1e-4, CurvatureFactor: 0.9}}
			}),
			"lbfgs": gonumFactory(func(Config) optimize.Method {
				return &optimize.LBFGS{
					Linesearcher: &optimize.MoreThuente{DecreaseFactor: 1e-4, CurvatureFactor: 0.9},
					Store:        10,
				}
			}),
			"cg": gonumFactory(func(Config) optimize.Method {
				return &optimize.CG{
					Linesearcher: &optimize.MoreThuente{DecreaseFactor: 1e-4, CurvatureFactor: 0.4},
					Variant:      &optimize.PolakRibierePolyak{},
				}
			}),
		},
	},
	BackendGSL: {
		defaultAlgorithm: "bfgs2",
		algorithms: map[string]factory{
			"conjugate_fr": gonumFactory(func(cfg Config) optimize.Method {
				return &optimize.CG{
					Linesearcher: &optimize.MoreThuente{DecreaseFactor: 1e-4, CurvatureFactor: cfg.LineTolerance},
					Variant:      &optimize.FletcherReeves{},
					InitialStep:  &optimize.FirstOrderStepSize{InitialStepFactor: cfg.StepSize},
				}
			}),
			"conjugate_pr": gonumFactory(func(cfg Config) optimize.Method {
				return &optimize.CG{
					Linesearcher: &optimize.MoreThuente{DecreaseFactor: 1e-4, CurvatureFactor: cfg.LineTolerance},
					Variant:      &optimize.PolakRibierePolyak{},
					InitialStep:  &optimize.FirstOrderStepSize{InitialStepFactor: cfg.StepSize},
				}
			}),
			"bfgs2": gonumFactory(func(cfg Config) optimize.Method {
				return &optimize.BFGS{Linesearcher: &optimize.MoreThuente{DecreaseFactor: 1e-4, CurvatureFactor: cfg.LineTolerance}}
			}),
			"bfgs": gonumFactory(func(Config) optimize.Method {
				return &optimize.BFGS{Linesearcher: &optimize.Bisection{}}
			}),
			"steepest_descent": gonumFactory(func(cfg Config) optimize.Method {
				return &optimize.GradientDescent{
					Linesearcher: &optimize.Backtracking{},
					StepSizer:    &optimize.FirstOrderStepSize{InitialStepFactor: cfg.StepSize},
				}
			}),
		},
	},
	BackendLBFGS: {
		defaultAlgorithm: "lbfgs",
		algorithms: map[string]factory{
			"lbfgs": lbfgsFactory,
		},
	},
	BackendMayfly: {
		defaultAlgorithm: "mayfly",
		algorithms: map[string]factory{
			"mayfly": mayflyFactory,
		},
	},
}

func backendNames() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BackendInfo describes a registered backend.
type BackendInfo struct {
	Name             string   `json:"name"`
	DefaultAlgorithm string   `json:"default_algorithm"`
	Algorithms       []string `json:"algorithms"`
	// Gradient is false for derivative-free backends.
	Gradient bool `json:"gradient"`
}

// Backends lists every registered backend and its algorithms, sorted by
// name.
func Backends() []BackendInfo {
	infos := make([]BackendInfo, 0, len(registry))
	for _, name := range backendNames() {
		b := registry[name]
		infos = append(infos, BackendInfo{
			Name:             name,
			DefaultAlgorithm: b.defaultAlgorithm,
			Algorithms:       b.names(),
			Gradient:         name != BackendMayfly,
		})
	}
	return infos
}

// GradientPairs lists every gradient-based backend/algorithm pair.
func GradientPairs() [][2]string {
	var pairs [][2]string
	for _, info := range Backends() {
		if !info.Gradient {
			continue
		}
		for _, alg := range info.Algorithms {
			pairs = append(pairs, [2]string{info.Name, alg})
		}
	}
	return pairs
}
