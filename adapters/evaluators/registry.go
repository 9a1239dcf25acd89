package evaluators

import (
	"math"
	"sort"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"
	"gorisk/ports"
)

// Registry resolves the built-in risk functions and log densities by name.
type Registry struct {
	risk    map[string]riskBuilder
	density map[string]densityBuilder
}

type (
	riskBuilder    func(space *paramspace.ParameterSpace) (ports.RiskFunction, error)
	densityBuilder func(space *paramspace.ParameterSpace) (ports.LogDensity, error)
)

// NewRegistry creates a registry holding every built-in evaluator.
func NewRegistry() *Registry {
	r := &Registry{
		risk:    make(map[string]riskBuilder),
		density: make(map[string]densityBuilder),
	}
	r.risk["identity"] = identity
	r.risk["sum"] = reduce("total", func(acc, v float64) float64 { return acc + v }, 0)
	r.risk["product"] = reduce("product", func(acc, v float64) float64 { return acc * v }, 1)
	r.risk["max"] = reduce("max", math.Max, math.Inf(-1))
	r.risk["expected_loss"] = expectedLoss
	r.density["std_normal"] = stdNormal
	r.density["prior"] = prior
	return r
}

// RiskFunction resolves a named risk function against space.
func (r *Registry) RiskFunction(name string, space *paramspace.ParameterSpace) (ports.RiskFunction, error) {
	build, ok := r.risk[name]
	if !ok {
		return ports.RiskFunction{}, core.NewValidationErrorf("risk_function", "unknown risk function %q, available: %v", name, r.RiskFunctions())
	}
	return build(space)
}

// LogDensity resolves a named log density against space.
func (r *Registry) LogDensity(name string, space *paramspace.ParameterSpace) (ports.LogDensity, error) {
	build, ok := r.density[name]
	if !ok {
		return ports.LogDensity{}, core.NewValidationErrorf("log_density", "unknown log density %q, available: %v", name, r.LogDensities())
	}
	return build(space)
}

// RiskFunctions lists the registered risk function names in order.
func (r *Registry) RiskFunctions() []string { return sortedKeys(r.risk) }

// LogDensities lists the registered log density names in order.
func (r *Registry) LogDensities() []string { return sortedKeys(r.density) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// identity reports every parameter as an output of the same name.
func identity(space *paramspace.ParameterSpace) (ports.RiskFunction, error) {
	return ports.RiskFunction{
		Name:    "identity",
		Outputs: space.Names(),
		Eval: func(x []float64) ([]float64, error) {
			return append([]float64(nil), x...), nil
		},
	}, nil
}

func reduce(output string, op func(acc, v float64) float64, start float64) riskBuilder {
	return func(space *paramspace.ParameterSpace) (ports.RiskFunction, error) {
		return ports.RiskFunction{
			Name:    output,
			Outputs: []string{output},
			Eval: func(x []float64) ([]float64, error) {
				acc := start
				for _, v := range x {
					acc = op(acc, v)
				}
				return []float64{acc}, nil
			},
		}, nil
	}
}

// expectedLoss is likelihood × impact × (1 − control_effectiveness). The
// control term is optional.
func expectedLoss(space *paramspace.ParameterSpace) (ports.RiskFunction, error) {
	li, ok := space.Index("likelihood")
	if !ok {
		return ports.RiskFunction{}, core.NewValidationError("risk_function", "expected_loss needs a parameter named likelihood")
	}
	ii, ok := space.Index("impact")
	if !ok {
		return ports.RiskFunction{}, core.NewValidationError("risk_function", "expected_loss needs a parameter named impact")
	}
	ci, hasControl := space.Index("control_effectiveness")
	return ports.RiskFunction{
		Name:    "expected_loss",
		Outputs: []string{"expected_loss"},
		Eval: func(x []float64) ([]float64, error) {
			loss := x[li] * x[ii]
			if hasControl {
				loss *= 1 - x[ci]
			}
			return []float64{loss}, nil
		},
	}, nil
}

func stdNormal(*paramspace.ParameterSpace) (ports.LogDensity, error) {
	return ports.LogDensity{
		Name: "std_normal",
		Fn: func(x []float64) float64 {
			lp := 0.0
			for _, v := range x {
				lp -= v * v / 2
			}
			return lp
		},
		Grad: func(x, grad []float64) float64 {
			lp := 0.0
			for j, v := range x {
				lp -= v * v / 2
				grad[j] = -v
			}
			return lp
		},
	}, nil
}

// prior targets the space's own joint marginal density.
func prior(space *paramspace.ParameterSpace) (ports.LogDensity, error) {
	return ports.LogDensity{
		Name: "prior",
		Fn:   space.LogPrior,
	}, nil
}
