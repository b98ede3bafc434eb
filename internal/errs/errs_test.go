package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := Invalid("forces", "theta must be non-negative, got %g", -1.0)

	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.False(t, errors.Is(err, ErrNumericalInstability))

	wrapped := fmt.Errorf("loading run: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInvalidInput))

	var e *Error
	assert.True(t, errors.As(wrapped, &e))
	assert.Equal(t, "forces", e.Op)
}

func TestErrorMessageCarriesIterationContext(t *testing.T) {
	err := &Error{
		Kind:          NumericalInstability,
		Op:            "forces.weights",
		Msg:           "normalization sum is zero",
		Iteration:     12,
		LastObjective: 3.5,
		HasObjective:  true,
	}

	assert.Equal(t,
		"numerical instability in forces.weights: normalization sum is zero (iteration 12, last objective 3.5)",
		err.Error())
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("line search failed")
	err := &Error{Kind: BackendFailure, Op: "gsl/bfgs", Iteration: -1, Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.ErrorIs(t, err, ErrBackendFailure)
	assert.Contains(t, err.Error(), "line search failed")
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{InvalidInput, "invalid input"},
		{NumericalInstability, "numerical instability"},
		{BackendUnavailable, "backend unavailable"},
		{NonConvergence, "non-convergence"},
		{BackendFailure, "backend failure"},
		{KindUnknown, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}
