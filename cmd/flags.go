package main

import (
	"fmt"
	"strings"

	"github.com/cwbudde/bioenfit/internal/minimize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// optimizerFlags are shared by every command that runs a minimization.
type optimizerFlags struct {
	backend   string
	algorithm string
	cache     bool
	native    bool
	threads   int
	verbose   bool
	maxIter   int
	tolerance float64
	sets      []string
}

func (o *optimizerFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&o.backend, "backend", minimize.BackendScipy, "Minimizer backend (scipy, gsl, lbfgs, mayfly)")
	fs.StringVar(&o.algorithm, "algorithm", "", "Backend algorithm (default: the backend's default)")
	fs.BoolVar(&o.cache, "cache", false, "Cache the transposed prediction matrix")
	fs.BoolVar(&o.native, "native", false, "Use the BLAS-backed kernel")
	fs.IntVar(&o.threads, "threads", 1, "Kernel worker threads")
	fs.BoolVar(&o.verbose, "verbose", false, "Log every iteration at info level")
	fs.IntVar(&o.maxIter, "max-iter", 0, "Iteration cap (0 = backend default)")
	fs.Float64Var(&o.tolerance, "tolerance", 0, "Gradient tolerance (0 = default)")
	fs.StringArrayVar(&o.sets, "set", nil, "Override a backend option, key=value (repeatable)")
}

// config builds and validates the minimizer configuration. --set overrides
// are applied last.
func (o *optimizerFlags) config() (minimize.Config, error) {
	cfg := minimize.DefaultConfig(o.backend)
	if o.algorithm != "" {
		cfg.Algorithm = o.algorithm
	}
	cfg.CacheTransposed = o.cache
	cfg.UseNativeKernel = o.native
	cfg.Threads = o.threads
	cfg.Verbose = o.verbose
	if o.maxIter > 0 {
		cfg.MaxIterations = o.maxIter
	}
	if o.tolerance > 0 {
		cfg.Tolerance = o.tolerance
	}
	for _, kv := range o.sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return cfg, fmt.Errorf("--set %q: want key=value", kv)
		}
		if err := cfg.Set(key, value); err != nil {
			return cfg, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// dataDirFlag registers --data-dir on cmd.
func dataDirFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "data-dir", "./data", "Base directory for stored runs")
}
