package minimize

import (
	"fmt"
	"time"

	"github.com/cwbudde/bioenfit/internal/errs"
)

// Status is the state of a single minimization run.
type Status int

const (
	Configured Status = iota
	Running
	Converged
	MaxIterReached
	Failed
)

var statusNames = map[Status]string{
	Configured:     "configured",
	Running:        "running",
	Converged:      "converged",
	MaxIterReached: "max_iter_reached",
	Failed:         "failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether the run has ended.
func (s Status) Terminal() bool {
	return s == Converged || s == MaxIterReached || s == Failed
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for st, name := range statusNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Result is the outcome of a run.
type Result struct {
	Backend   string
	Algorithm string
	// X is the final iterate. For MaxIterReached it is the best iterate the
	// backend reported.
	X []float64
	// F is the objective at X, re-evaluated after the backend returned.
	F        float64
	InitialF float64
	Gradient []float64
	// GradNorm is the infinity norm of Gradient.
	GradNorm    float64
	Status      Status
	Iterations  int
	Evaluations int
	Runtime     time.Duration
}

// Err reports NonConvergence for runs that hit the iteration cap. A converged
// run returns nil.
func (r *Result) Err() error {
	if r.Status != MaxIterReached {
		return nil
	}
	return &errs.Error{
		Kind:          errs.NonConvergence,
		Op:            r.Backend + "/" + r.Algorithm,
		Msg:           fmt.Sprintf("gradient norm %.3g above tolerance", r.GradNorm),
		Iteration:     r.Iterations,
		LastObjective: r.F,
		HasObjective:  true,
	}
}
