package errs

import (
	"fmt"
	"strings"
)

// Kind classifies failures of a reweighting run.
type Kind int

const (
	KindUnknown Kind = iota
	// InvalidInput covers shape mismatches, negative theta and reference
	// weights that are not a probability distribution. Raised before the
	// optimization loop starts.
	InvalidInput
	// NumericalInstability is raised when an evaluation produces a
	// non-finite intermediate value.
	NumericalInstability
	// BackendUnavailable is raised when the requested backend or algorithm
	// is not registered.
	BackendUnavailable
	// NonConvergence reports that the iteration cap was reached. It is a
	// status, callers may accept the returned iterate.
	NonConvergence
	// BackendFailure wraps errors reported by the solver itself.
	BackendFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid input"
	case NumericalInstability:
		return "numerical instability"
	case BackendUnavailable:
		return "backend unavailable"
	case NonConvergence:
		return "non-convergence"
	case BackendFailure:
		return "backend failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks. Matching is by Kind only.
var (
	ErrInvalidInput         = &Error{Kind: InvalidInput}
	ErrNumericalInstability = &Error{Kind: NumericalInstability}
	ErrBackendUnavailable   = &Error{Kind: BackendUnavailable}
	ErrNonConvergence       = &Error{Kind: NonConvergence}
	ErrBackendFailure       = &Error{Kind: BackendFailure}
)

// Error carries the kind of failure together with enough context to
// diagnose it.
type Error struct {
	Kind Kind
	// Op names the operation that failed (e.g. "forces.weights").
	Op string
	// Msg is a human readable description.
	Msg string
	// Iteration is the major iteration at which the failure was observed,
	// or -1 if it happened outside the optimization loop.
	Iteration int
	// LastObjective is the last finite objective value seen before the
	// failure. Only meaningful when HasObjective is set.
	LastObjective float64
	HasObjective  bool
	Err           error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Iteration >= 0 && (e.Kind == NumericalInstability || e.Kind == BackendFailure || e.Kind == NonConvergence) {
		fmt.Fprintf(&b, " (iteration %d", e.Iteration)
		if e.HasObjective {
			fmt.Fprintf(&b, ", last objective %.16g", e.LastObjective)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Invalid returns an InvalidInput error.
func Invalid(op, format string, args ...any) error {
	return &Error{Kind: InvalidInput, Op: op, Msg: fmt.Sprintf(format, args...), Iteration: -1}
}

// Unavailable returns a BackendUnavailable error.
func Unavailable(op, format string, args ...any) error {
	return &Error{Kind: BackendUnavailable, Op: op, Msg: fmt.Sprintf(format, args...), Iteration: -1}
}

// Unstable returns a NumericalInstability error without iteration context.
// The driver fills in Iteration and LastObjective when it surfaces the error.
func Unstable(op, format string, args ...any) error {
	return &Error{Kind: NumericalInstability, Op: op, Msg: fmt.Sprintf(format, args...), Iteration: -1}
}
