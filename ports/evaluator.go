package ports

import (
	"math/rand/v2"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"
)

// RiskFunc maps one parameter vector to one value per declared output.
// It must be safe to call from several goroutines at once.
type RiskFunc func(x []float64) ([]float64, error)

// StochasticRiskFunc is a RiskFunc that needs randomness. The stream it is given
// is derived from the run seed and the draw index and is not shared.
type StochasticRiskFunc func(x []float64, rng *rand.Rand) ([]float64, error)

// RiskFunction is the evaluator a Monte Carlo run propagates uncertainty through.
// Exactly one of Eval and Stochastic is set.
type RiskFunction struct {
	Name       string
	Outputs    []string
	Eval       RiskFunc
	Stochastic StochasticRiskFunc
}

// Validate checks the capability contract.
func (f RiskFunction) Validate() error {
	if (f.Eval == nil) == (f.Stochastic == nil) {
		return core.NewValidationError("risk_function", "exactly one of Eval and Stochastic must be set")
	}
	if len(f.Outputs) == 0 {
		return core.NewValidationError("risk_function.outputs", "at least one output name is required")
	}
	seen := make(map[string]bool, len(f.Outputs))
	for _, name := range f.Outputs {
		if name == "" || seen[name] {
			return core.NewValidationErrorf("risk_function.outputs", "output names must be unique and non-empty, got %q", name)
		}
		seen[name] = true
	}
	return nil
}

// Call evaluates the function. rng is only consulted for stochastic functions.
func (f RiskFunction) Call(x []float64, rng *rand.Rand) ([]float64, error) {
	if f.Stochastic != nil {
		return f.Stochastic(x, rng)
	}
	return f.Eval(x)
}

// LogDensityFunc returns an unnormalised log density. Non-finite values mean
// probability zero.
type LogDensityFunc func(x []float64) float64

// GradientFunc returns the log density at x and writes its gradient into grad.
type GradientFunc func(x, grad []float64) float64

// LogDensity is the posterior an MCMC run targets. Grad is optional; without it
// only gradient-free kernels are available.
type LogDensity struct {
	Name string
	Fn   LogDensityFunc
	Grad GradientFunc
}

// HasGradient reports whether gradient-guided kernels can be used.
func (l LogDensity) HasGradient() bool { return l.Grad != nil }

// Validate checks the capability contract.
func (l LogDensity) Validate() error {
	if l.Fn == nil && l.Grad == nil {
		return core.NewValidationError("log_density", "a log density function is required")
	}
	return nil
}

// Eval returns the log density, falling back to the gradient function when no
// plain function was supplied.
func (l LogDensity) Eval(x []float64) float64 {
	if l.Fn != nil {
		return l.Fn(x)
	}
	return l.Grad(x, make([]float64, len(x)))
}

// EvaluatorRegistry resolves named evaluators against a parameter space, for
// callers that cannot hand the core a Go function (CLI, HTTP API).
type EvaluatorRegistry interface {
	RiskFunction(name string, space *paramspace.ParameterSpace) (RiskFunction, error)
	LogDensity(name string, space *paramspace.ParameterSpace) (LogDensity, error)
	RiskFunctions() []string
	LogDensities() []string
}
