package mcmc

import (
	"math"

	"gorisk/domain/core"
	"gorisk/domain/simulation"
)

// Default sampler settings
const (
	DefaultChains       = 4
	DefaultDraws        = 1000
	DefaultTune         = 1000
	DefaultTargetAccept = 0.8
	DefaultMaxTreeDepth = 10
	DefaultInitAttempts = 100

	// lowAcceptance is the post-tuning acceptance rate below which a chain is reported.
	lowAcceptance = 0.05
)

// Config configures one MCMC run. Zero values select the defaults.
type Config struct {
	Chains int
	Draws  int
	// Tune is the number of adaptation steps per chain. A negative value disables tuning.
	Tune         int
	TargetAccept float64
	MaxTreeDepth int
	Seed         int64
	Kernel       simulation.KernelType
	Parallelism  int
	InitAttempts int

	// InitialPoint, when set, is where every chain starts. It must have a
	// finite log density.
	InitialPoint []float64
}

func (c Config) withDefaults(defaultParallelism int) Config {
	if c.Chains == 0 {
		c.Chains = DefaultChains
	}
	if c.Draws == 0 {
		c.Draws = DefaultDraws
	}
	switch {
	case c.Tune == 0:
		c.Tune = DefaultTune
	case c.Tune < 0:
		c.Tune = 0
	}
	if c.TargetAccept == 0 {
		c.TargetAccept = DefaultTargetAccept
	}
	if c.MaxTreeDepth == 0 {
		c.MaxTreeDepth = DefaultMaxTreeDepth
	}
	if c.Kernel == "" {
		c.Kernel = simulation.KernelAuto
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaultParallelism
	}
	if c.InitAttempts == 0 {
		c.InitAttempts = DefaultInitAttempts
	}
	return c
}

func (c Config) validate(dim int) error {
	if c.Chains < 1 {
		return core.NewValidationErrorf("chains", "must be at least 1, got %d", c.Chains)
	}
	if c.Draws < 1 {
		return core.NewValidationErrorf("draws", "must be at least 1, got %d", c.Draws)
	}
	if !(c.TargetAccept > 0 && c.TargetAccept < 1) {
		return core.NewValidationErrorf("target_accept", "must be in (0, 1), got %v", c.TargetAccept)
	}
	if c.MaxTreeDepth < 1 || c.MaxTreeDepth > 30 {
		return core.NewValidationErrorf("max_tree_depth", "must be in [1, 30], got %d", c.MaxTreeDepth)
	}
	if c.InitAttempts < 1 {
		return core.NewValidationErrorf("init_attempts", "must be positive, got %d", c.InitAttempts)
	}
	switch c.Kernel {
	case simulation.KernelAuto, simulation.KernelNUTS, simulation.KernelMetropolis, simulation.KernelSlice:
	default:
		return core.NewValidationErrorf("kernel", "unknown kernel %q", c.Kernel)
	}
	if c.InitialPoint != nil {
		if len(c.InitialPoint) != dim {
			return core.NewValidationErrorf("initial_point", "has %d values, want %d", len(c.InitialPoint), dim)
		}
		for _, v := range c.InitialPoint {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return core.NewValidationError("initial_point", "must be finite")
			}
		}
	}
	return nil
}
