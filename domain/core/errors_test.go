package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy(t *testing.T) {
	dup := fmt.Errorf("adding parameter: %w", &DuplicateParameterError{Name: "loss"})
	assert.True(t, errors.Is(dup, ErrDuplicateParameter))
	assert.True(t, IsValidationError(dup), "duplicate parameters are validation failures")

	var dupErr *DuplicateParameterError
	assert.True(t, errors.As(dup, &dupErr))
	assert.Equal(t, "loss", dupErr.Name)

	val := NewValidationError("std", "must be positive")
	assert.True(t, IsValidationError(val))
	assert.Contains(t, val.Error(), "std")

	initErr := &InitializationError{Chains: 4, Attempts: 100}
	assert.True(t, errors.Is(initErr, ErrInitialization))
	assert.False(t, IsValidationError(initErr))

	simErr := &SimulationFailureError{
		Rate:      0.5,
		Threshold: 0.05,
		Evaluated: 2,
		Failures:  []FailedDraw{{Index: 1, Values: []float64{3}, Error: "boom"}},
	}
	assert.True(t, errors.Is(simErr, ErrSimulationFailure))
	assert.Contains(t, simErr.Error(), "boom")

	assert.True(t, IsNotFoundError(NewNotFoundError("run", "abc")))
	assert.True(t, IsNotFoundError(ErrRunNotFound))
}
