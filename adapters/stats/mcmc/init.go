package mcmc

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"
	"gorisk/domain/simulation"
)

// chainStart is where a chain begins and how it got there.
type chainStart struct {
	point    []float64
	attempts int
	borrowed bool
}

// findStart draws prior points until one has a finite log density, trying at
// most cfg.InitAttempts points. It returns a nil point when none was found.
func findStart(t *target, kind simulation.KernelType, cfg Config, rng *rand.Rand) (chainStart, error) {
	eval := func(x []float64) float64 {
		if kind == simulation.KernelNUTS {
			return t.logpGrad(x, make([]float64, len(x)))
		}
		return t.logp(x)
	}

	if cfg.InitialPoint != nil {
		x := append([]float64(nil), cfg.InitialPoint...)
		if math.IsInf(eval(x), -1) {
			return chainStart{attempts: 1}, nil
		}
		return chainStart{point: x, attempts: 1}, nil
	}

	for attempt := 1; attempt <= cfg.InitAttempts; attempt++ {
		pts, err := t.space.Sample(1, paramspace.MethodSRS, rng)
		if err != nil {
			return chainStart{}, err
		}
		if !math.IsInf(eval(pts[0]), -1) {
			return chainStart{point: pts[0], attempts: attempt}, nil
		}
	}
	return chainStart{attempts: cfg.InitAttempts}, nil
}

// shareStarts gives chains without a finite starting point a copy of the
// lowest-index chain's point. It fails when no chain found one.
func shareStarts(starts []chainStart) ([]string, error) {
	donor := -1
	for c, st := range starts {
		if st.point != nil {
			donor = c
			break
		}
	}
	if donor < 0 {
		return nil, &core.InitializationError{Chains: len(starts), Attempts: starts[0].attempts}
	}

	var warnings []string
	for c := range starts {
		if starts[c].point != nil {
			continue
		}
		starts[c].point = append([]float64(nil), starts[donor].point...)
		starts[c].borrowed = true
		warnings = append(warnings, fmt.Sprintf(
			"chain %d found no finite starting point in %d attempts and starts from chain %d's point",
			c, starts[c].attempts, donor))
	}
	return warnings, nil
}
