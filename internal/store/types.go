package store

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/bioenfit/internal/minimize"
	"github.com/google/uuid"
)

// Parameterizations a run can use.
const (
	KindForces     = "forces"
	KindLogWeights = "logweights"
)

// Run is the persisted record of one reweighting run. Non-finite values are
// not representable in JSON; failed runs leave the objective fields zero.
type Run struct {
	ID string `json:"id"`

	// Kind is KindForces or KindLogWeights.
	Kind string `json:"kind"`

	// Input names the dataset the run read, if any.
	Input string `json:"input,omitempty"`

	Config minimize.Config `json:"config"`
	Theta  float64         `json:"theta"`
	Status minimize.Status `json:"status"`

	InitialObjective float64 `json:"initial_objective"`
	FinalObjective   float64 `json:"final_objective"`
	ChiSquare        float64 `json:"chi_square"`
	Entropy          float64 `json:"entropy"`
	GradNorm         float64 `json:"grad_norm"`

	// Params holds the forces or the gauge-fixed log-weights. YPred is in
	// observable units, YTildePred in uncertainty-scaled units.
	Params     []float64 `json:"params"`
	Weights    []float64 `json:"weights,omitempty"`
	YPred      []float64 `json:"y_pred,omitempty"`
	YTildePred []float64 `json:"y_tilde_pred,omitempty"`

	Iterations  int           `json:"iterations"`
	Evaluations int           `json:"evaluations"`
	Runtime     time.Duration `json:"runtime"`
	Error       string        `json:"error,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// RunInfo contains metadata about a run without the vectors.
type RunInfo struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	Input          string          `json:"input,omitempty"`
	Backend        string          `json:"backend"`
	Algorithm      string          `json:"algorithm"`
	Theta          float64         `json:"theta"`
	Status         minimize.Status `json:"status"`
	FinalObjective float64         `json:"final_objective"`
	Iterations     int             `json:"iterations"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewRunID returns a fresh random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// ToInfo converts a full Run to RunInfo (metadata only).
func (r *Run) ToInfo() RunInfo {
	return RunInfo{
		ID:             r.ID,
		Kind:           r.Kind,
		Input:          r.Input,
		Backend:        r.Config.Backend,
		Algorithm:      r.Config.Algorithm,
		Theta:          r.Theta,
		Status:         r.Status,
		FinalObjective: r.FinalObjective,
		Iterations:     r.Iterations,
		Timestamp:      r.Timestamp,
	}
}

// Validate checks that the run has valid data.
func (r *Run) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		return &ValidationError{Field: "ID", Reason: "must be a UUID"}
	}
	if r.Kind != KindForces && r.Kind != KindLogWeights {
		return &ValidationError{Field: "Kind", Reason: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	if !r.Status.Terminal() {
		return &ValidationError{Field: "Status", Reason: "run has not finished (" + r.Status.String() + ")"}
	}
	if r.Status != minimize.Failed && len(r.Params) == 0 {
		return &ValidationError{Field: "Params", Reason: "cannot be empty"}
	}
	if r.Status == minimize.Failed && r.Error == "" {
		return &ValidationError{Field: "Error", Reason: "failed run must carry an error"}
	}
	if r.Theta < 0 {
		return &ValidationError{Field: "Theta", Reason: "cannot be negative"}
	}
	if r.Iterations < 0 || r.Evaluations < 0 {
		return &ValidationError{Field: "Iterations", Reason: "cannot be negative"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"InitialObjective", r.InitialObjective},
		{"FinalObjective", r.FinalObjective},
		{"ChiSquare", r.ChiSquare},
		{"Entropy", r.Entropy},
		{"GradNorm", r.GradNorm},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &ValidationError{Field: f.name, Reason: "must be finite"}
		}
	}
	return nil
}

// ValidationError represents a validation error of a stored record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// Is matches any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}
