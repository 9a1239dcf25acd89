package mcmc

import (
	"fmt"
	"math/rand/v2"

	"gorisk/domain/core"
	"gorisk/domain/simulation"
	"gorisk/ports"
)

// kernel is one chain's transition kernel together with its current state.
// The variants are nutsKernel, metropolisKernel and sliceKernel; newKernel is
// the only way to build one.
type kernel interface {
	// step performs one transition. tuning is true during the adaptation phase.
	step(rng *rand.Rand, tuning bool) simulation.StepStats
	// endTuning freezes the adapted settings.
	endTuning()
	position() []float64
	// settings returns the step size and inverse metric, where the kernel has them.
	settings() (stepSize float64, invMetric []float64)
}

// resolveKernel picks the kernel for auto and checks the density offers what
// the requested kernel needs.
func resolveKernel(kind simulation.KernelType, density ports.LogDensity) (simulation.KernelType, error) {
	switch kind {
	case simulation.KernelAuto:
		if density.HasGradient() {
			return simulation.KernelNUTS, nil
		}
		return simulation.KernelSlice, nil
	case simulation.KernelNUTS:
		if !density.HasGradient() {
			return "", core.NewValidationError("kernel", "nuts requires a log density with a gradient")
		}
		return kind, nil
	case simulation.KernelMetropolis, simulation.KernelSlice:
		if density.Fn == nil && density.Grad == nil {
			return "", core.NewValidationError("log_density", "a log density function is required")
		}
		return kind, nil
	}
	return "", core.NewValidationErrorf("kernel", "unknown kernel %q", kind)
}

func newKernel(kind simulation.KernelType, t *target, start []float64, cfg Config, rng *rand.Rand) (kernel, error) {
	switch kind {
	case simulation.KernelNUTS:
		return newNUTSKernel(t, start, cfg, rng), nil
	case simulation.KernelMetropolis:
		return newMetropolisKernel(t, start, cfg), nil
	case simulation.KernelSlice:
		return newSliceKernel(t, start), nil
	}
	return nil, fmt.Errorf("unresolved kernel %q", kind)
}

// scaleHints returns a per-dimension length scale taken from the prior.
func scaleHints(t *target) []float64 {
	out := make([]float64, t.dim)
	for j := range out {
		out[j] = t.space.At(j).ScaleHint()
	}
	return out
}
