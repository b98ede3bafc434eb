package minimize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cwbudde/bioenfit/internal/errs"
)

// Backend names.
const (
	BackendScipy  = "scipy"
	BackendGSL    = "gsl"
	BackendLBFGS  = "lbfgs"
	BackendMayfly = "mayfly"
)

// Line search names for the lbfgs backend.
const (
	LineSearchMoreThuente = "morethuente"
	LineSearchArmijo      = "armijo"
	LineSearchWolfe       = "wolfe"
	LineSearchStrongWolfe = "strong_wolfe"
)

// Iteration is reported to an Observer after every completed major
// iteration. Iterations count from 1 on every backend; the starting point is
// not reported.
type Iteration struct {
	Iteration int
	X         []float64
	F         float64
	// GradNorm is the infinity norm of the gradient, NaN for gradient-free
	// backends.
	GradNorm float64
}

// Observer receives iteration progress. It runs on the minimizing
// goroutine and must not retain X.
type Observer func(Iteration)

// Config is the flat option set of a run. DefaultConfig fills in the
// defaults of a backend; Set overrides single options by key.
//
// Tolerance is the threshold on the gradient infinity norm for every
// gradient backend. lbfgs additionally stops on its own Epsilon test.
type Config struct {
	Backend         string  `json:"backend"`
	Algorithm       string  `json:"algorithm"`
	CacheTransposed bool    `json:"cache_transposed"`
	UseNativeKernel bool    `json:"use_native_kernel"`
	Verbose         bool    `json:"verbose"`
	Threads         int     `json:"threads"`
	Tolerance       float64 `json:"tolerance"`
	MaxIterations   int     `json:"max_iterations"`
	// Patience is the number of iterations without relative objective
	// improvement after which a gradient backend stops.
	Patience int `json:"patience"`

	// gsl
	StepSize      float64 `json:"step_size,omitempty"`
	LineTolerance float64 `json:"line_tolerance,omitempty"`

	// lbfgs
	M             int     `json:"m,omitempty"`
	Epsilon       float64 `json:"epsilon,omitempty"`
	Past          int     `json:"past,omitempty"`
	Delta         float64 `json:"delta,omitempty"`
	LineSearch    string  `json:"linesearch,omitempty"`
	MaxLineSearch int     `json:"max_linesearch,omitempty"`
	Ftol          float64 `json:"ftol,omitempty"`
	Gtol          float64 `json:"gtol,omitempty"`

	// mayfly
	Population int     `json:"population,omitempty"`
	Seed       int64   `json:"seed,omitempty"`
	Bound      float64 `json:"bound,omitempty"`

	Observer Observer `json:"-"`
}

// DefaultConfig returns the defaults for backend. An empty backend selects
// scipy. Unknown backends yield a config that fails Validate.
func DefaultConfig(backend string) Config {
	if backend == "" {
		backend = BackendScipy
	}
	cfg := Config{
		Backend:       backend,
		Threads:       1,
		Tolerance:     1e-5,
		MaxIterations: 5000,
		Patience:      100,
	}
	if b, ok := registry[backend]; ok {
		cfg.Algorithm = b.defaultAlgorithm
	}
	switch backend {
	case BackendGSL:
		cfg.StepSize = 0.01
		cfg.LineTolerance = 0.1
	case BackendLBFGS:
		cfg.M = 6
		cfg.Epsilon = 1e-5
		cfg.Past = 0
		cfg.Delta = 1e-5
		cfg.LineSearch = LineSearchMoreThuente
		cfg.MaxLineSearch = 40
		cfg.Ftol = 1e-4
		cfg.Gtol = 0.9
	case BackendMayfly:
		cfg.MaxIterations = 300
		cfg.Population = 20
		cfg.Seed = 1
		cfg.Bound = 5
	}
	return cfg
}

type setter func(c *Config, v string) error

func boolSetter(dst func(*Config) *bool) setter {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func intSetter(dst func(*Config) *int) setter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func floatSetter(dst func(*Config) *float64) setter {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

var setters = map[string]setter{
	"backend":           func(c *Config, v string) error { c.Backend = v; return nil },
	"algorithm":         func(c *Config, v string) error { c.Algorithm = v; return nil },
	"cache_transposed":  boolSetter(func(c *Config) *bool { return &c.CacheTransposed }),
	"use_native_kernel": boolSetter(func(c *Config) *bool { return &c.UseNativeKernel }),
	"verbose":           boolSetter(func(c *Config) *bool { return &c.Verbose }),
	"threads":           intSetter(func(c *Config) *int { return &c.Threads }),
	"tolerance":         floatSetter(func(c *Config) *float64 { return &c.Tolerance }),
	"max_iterations":    intSetter(func(c *Config) *int { return &c.MaxIterations }),
	"patience":          intSetter(func(c *Config) *int { return &c.Patience }),
	"step_size":         floatSetter(func(c *Config) *float64 { return &c.StepSize }),
	"line_tolerance":    floatSetter(func(c *Config) *float64 { return &c.LineTolerance }),
	"m":                 intSetter(func(c *Config) *int { return &c.M }),
	"epsilon":           floatSetter(func(c *Config) *float64 { return &c.Epsilon }),
	"past":              intSetter(func(c *Config) *int { return &c.Past }),
	"delta":             floatSetter(func(c *Config) *float64 { return &c.Delta }),
	"linesearch":        setLineSearch,
	"max_linesearch":    intSetter(func(c *Config) *int { return &c.MaxLineSearch }),
	"ftol":              floatSetter(func(c *Config) *float64 { return &c.Ftol }),
	"gtol":              floatSetter(func(c *Config) *float64 { return &c.Gtol }),
	"population":        intSetter(func(c *Config) *int { return &c.Population }),
	"seed": func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Seed = n
		return nil
	},
	"bound": floatSetter(func(c *Config) *float64 { return &c.Bound }),
}

var aliases = map[string]string{
	"cache_ytilde_transposed": "cache_transposed",
	"use_c_functions":         "use_native_kernel",
	"tol":                     "line_tolerance",
	"max_iter":                "max_iterations",
	"maxiter":                 "max_iterations",
}

// liblbfgs numbers its line searches; accept both forms.
var lineSearchCodes = map[string]string{
	"0": LineSearchMoreThuente,
	"1": LineSearchArmijo,
	"2": LineSearchWolfe,
	"3": LineSearchStrongWolfe,
}

func setLineSearch(c *Config, v string) error {
	if name, ok := lineSearchCodes[v]; ok {
		v = name
	}
	switch v {
	case LineSearchMoreThuente, LineSearchArmijo, LineSearchWolfe, LineSearchStrongWolfe:
		c.LineSearch = v
		return nil
	}
	return fmt.Errorf("unknown line search %q", v)
}

// Set overrides one option by its flat key. Setting backend does not reset
// other options; use DefaultConfig for that.
func (c *Config) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	set, ok := setters[key]
	if !ok {
		return errs.Invalid("config", "unknown option %q", key)
	}
	if err := set(c, strings.TrimSpace(value)); err != nil {
		return errs.Invalid("config", "option %s: %v", key, err)
	}
	return nil
}

// Keys lists the recognized option keys, aliases excluded.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks that the backend and algorithm are registered and that
// every option the backend reads is in range.
func (c Config) Validate() error {
	b, ok := registry[c.Backend]
	if !ok {
		return errs.Unavailable("config", "backend %q is not registered (have %s)", c.Backend, strings.Join(backendNames(), ", "))
	}
	if _, ok := b.algorithms[c.Algorithm]; !ok {
		return errs.Unavailable("config", "backend %q has no algorithm %q (have %s)", c.Backend, c.Algorithm, strings.Join(b.names(), ", "))
	}
	if c.Threads < 0 {
		return errs.Invalid("config", "threads must be non-negative, got %d", c.Threads)
	}
	if !(c.Tolerance > 0) {
		return errs.Invalid("config", "tolerance must be positive, got %g", c.Tolerance)
	}
	if c.MaxIterations <= 0 {
		return errs.Invalid("config", "max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.Patience < 0 {
		return errs.Invalid("config", "patience must be non-negative, got %d", c.Patience)
	}
	switch c.Backend {
	case BackendGSL:
		if !(c.StepSize > 0) {
			return errs.Invalid("config", "step_size must be positive, got %g", c.StepSize)
		}
		if !(c.LineTolerance > 0 && c.LineTolerance < 1) {
			return errs.Invalid("config", "line_tolerance must be in (0, 1), got %g", c.LineTolerance)
		}
	case BackendLBFGS:
		if c.M < 1 {
			return errs.Invalid("config", "m must be at least 1, got %d", c.M)
		}
		if c.Epsilon < 0 || c.Delta < 0 || c.Past < 0 {
			return errs.Invalid("config", "epsilon, delta and past must be non-negative")
		}
		if c.MaxLineSearch < 1 {
			return errs.Invalid("config", "max_linesearch must be at least 1, got %d", c.MaxLineSearch)
		}
		if !(c.Ftol > 0 && c.Ftol < 0.5) {
			return errs.Invalid("config", "ftol must be in (0, 0.5), got %g", c.Ftol)
		}
		if !(c.Gtol > c.Ftol && c.Gtol < 1) {
			return errs.Invalid("config", "gtol must be in (ftol, 1), got %g", c.Gtol)
		}
		if err := setLineSearch(&Config{}, c.LineSearch); err != nil {
			return errs.Invalid("config", "%v", err)
		}
	case BackendMayfly:
		if c.Population < 20 {
			return errs.Invalid("config", "population must be at least 20, got %d", c.Population)
		}
		if !(c.Bound > 0) {
			return errs.Invalid("config", "bound must be positive, got %g", c.Bound)
		}
	}
	return nil
}
