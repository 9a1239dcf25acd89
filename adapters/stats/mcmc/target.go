package mcmc

import (
	"math"

	"gorisk/domain/paramspace"
	"gorisk/ports"
)

// target is the log density restricted to the parameter space. Points outside
// the space have log density -Inf and are never passed to the caller's function.
type target struct {
	space   *paramspace.ParameterSpace
	density ports.LogDensity
	dim     int
}

func newTarget(space *paramspace.ParameterSpace, density ports.LogDensity) *target {
	return &target{space: space, density: density, dim: space.Len()}
}

func (t *target) inBounds(x []float64) bool {
	return t.space.ValidatePoint(x)
}

// logp returns the log density at x, -Inf for every non-finite or panicking evaluation.
func (t *target) logp(x []float64) (lp float64) {
	if !t.inBounds(x) {
		return math.Inf(-1)
	}
	defer func() {
		if recover() != nil {
			lp = math.Inf(-1)
		}
	}()
	return finiteOrNegInf(t.density.Eval(x))
}

// logpGrad is logp that also writes the gradient into grad. A non-finite
// gradient makes the point unusable.
func (t *target) logpGrad(x, grad []float64) (lp float64) {
	if !t.inBounds(x) {
		return math.Inf(-1)
	}
	defer func() {
		if recover() != nil {
			lp = math.Inf(-1)
		}
	}()
	lp = finiteOrNegInf(t.density.Grad(x, grad))
	for _, g := range grad {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return math.Inf(-1)
		}
	}
	return lp
}

func finiteOrNegInf(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.Inf(-1)
	}
	return v
}
