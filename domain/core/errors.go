package core

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors - centralized error definitions
var (
	// Construction errors
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateParameter = fmt.Errorf("%w: duplicate parameter", ErrValidation)
	ErrSpaceFrozen        = errors.New("parameter space is frozen")

	// Fatal run errors
	ErrInitialization    = errors.New("no finite-probability starting point")
	ErrSimulationFailure = errors.New("risk function failure rate exceeded threshold")

	// Lookup errors
	ErrNotFound    = errors.New("resource not found")
	ErrRunNotFound = fmt.Errorf("%w: run", ErrNotFound)

	// Determinism errors
	ErrNonDeterministic = errors.New("non-deterministic result")
	ErrSeedMismatch     = errors.New("seed mismatch")
)

// ValidationError reports a malformed parameter space or run configuration.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DuplicateParameterError is returned when a parameter name is already declared.
type DuplicateParameterError struct {
	Name string
}

func (e *DuplicateParameterError) Error() string {
	return fmt.Sprintf("duplicate parameter %q", e.Name)
}

func (e *DuplicateParameterError) Unwrap() error { return ErrDuplicateParameter }

// InitializationError is returned when no chain found a finite log density.
type InitializationError struct {
	Chains   int
	Attempts int
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("%v: %d chains x %d attempts all non-finite", ErrInitialization, e.Chains, e.Attempts)
}

func (e *InitializationError) Unwrap() error { return ErrInitialization }

// FailedDraw records a single risk-function evaluation that did not produce a usable output.
type FailedDraw struct {
	Index  int       `json:"index"`
	Values []float64 `json:"values"`
	Error  string    `json:"error"`
}

// SimulationFailureError carries the failing draws so callers can debug the risk function.
type SimulationFailureError struct {
	Rate      float64
	Threshold float64
	Evaluated int
	Failures  []FailedDraw
}

func (e *SimulationFailureError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v: %d/%d draws failed (rate %.4f > %.4f)",
		ErrSimulationFailure, len(e.Failures), e.Evaluated, e.Rate, e.Threshold)
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, "; first failure at draw %d: %s", e.Failures[0].Index, e.Failures[0].Error)
	}
	return b.String()
}

func (e *SimulationFailureError) Unwrap() error { return ErrSimulationFailure }

// Error constructors with context
func NewValidationError(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func NewValidationErrorf(field string, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

// Error checking helpers
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsDeterminismError(err error) bool {
	return errors.Is(err, ErrNonDeterministic) ||
		errors.Is(err, ErrSeedMismatch)
}
