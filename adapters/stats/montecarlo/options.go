package montecarlo

import (
	"gorisk/domain/core"
	"gorisk/domain/paramspace"
	"gorisk/domain/simulation"
)

// Default run settings
const (
	DefaultChunkSize          = 1024
	DefaultTolerance          = 0.01
	DefaultCheckpointFraction = 0.1
	DefaultFailureThreshold   = 0.05
)

// Options configures one Monte Carlo run. Zero values select the defaults.
type Options struct {
	Samples     int
	Method      paramspace.SamplingMethod
	Seed        int64
	Parallelism int
	// ChunkSize is the unit of parallel work. Results depend on neither it nor Parallelism.
	ChunkSize int

	Strata     []paramspace.Stratum
	Allocation simulation.Allocation

	Tolerance          float64
	CheckpointFraction float64
	EarlyStop          bool

	// FailureThreshold is the tolerated fraction of failed draws. Use a
	// negative value to tolerate no failures at all.
	FailureThreshold float64
}

func (o Options) withDefaults(defaultParallelism int) Options {
	if o.Method == "" {
		o.Method = paramspace.MethodSRS
	}
	if o.Parallelism <= 0 {
		o.Parallelism = defaultParallelism
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Tolerance == 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.CheckpointFraction == 0 {
		o.CheckpointFraction = DefaultCheckpointFraction
	}
	switch {
	case o.FailureThreshold == 0:
		o.FailureThreshold = DefaultFailureThreshold
	case o.FailureThreshold < 0:
		o.FailureThreshold = 0
	}
	if o.Method == paramspace.MethodStratified && o.Allocation == "" {
		o.Allocation = simulation.AllocationProportional
	}
	return o
}

func (o Options) validate() error {
	if o.Samples <= 0 {
		return core.NewValidationErrorf("n_samples", "must be positive, got %d", o.Samples)
	}
	switch o.Method {
	case paramspace.MethodSRS, paramspace.MethodLHS, paramspace.MethodQuasiRandom:
		if len(o.Strata) > 0 {
			return core.NewValidationErrorf("strata", "strata are only used by stratified sampling, not %s", o.Method)
		}
	case paramspace.MethodStratified:
		if len(o.Strata) == 0 {
			return core.NewValidationError("strata", "stratified sampling requires at least one stratum")
		}
		if o.Allocation != simulation.AllocationProportional && o.Allocation != simulation.AllocationEqual {
			return core.NewValidationErrorf("allocation", "unknown allocation %q", o.Allocation)
		}
	default:
		return core.NewValidationErrorf("method", "unknown sampling method %q", o.Method)
	}
	if o.Tolerance < 0 {
		return core.NewValidationErrorf("tolerance", "must be positive, got %v", o.Tolerance)
	}
	if o.CheckpointFraction < 0 || o.CheckpointFraction > 1 {
		return core.NewValidationErrorf("checkpoint_fraction", "must be in (0, 1], got %v", o.CheckpointFraction)
	}
	if o.FailureThreshold > 1 {
		return core.NewValidationErrorf("failure_threshold", "must be at most 1, got %v", o.FailureThreshold)
	}
	return nil
}
