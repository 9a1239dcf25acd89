package simulation

import (
	"math"

	"gorisk/domain/core"
)

// Signal strengths reported by sensitivity measures
const (
	SignalInsufficient = "insufficient_data"
	SignalWeak         = "weak"
	SignalModerate     = "moderate"
	SignalStrong       = "strong"
	SignalVeryStrong   = "very_strong"
)

// MeasureResult is one dependence measure between a parameter and an output.
type MeasureResult struct {
	Measure string     `json:"measure"`
	Effect  core.Float `json:"effect"`
	PValue  core.Float `json:"p_value"`
	Signal  string     `json:"signal"`
}

// ParameterSensitivity holds every measure computed for one parameter.
type ParameterSensitivity struct {
	Parameter string          `json:"parameter"`
	Measures  []MeasureResult `json:"measures"`
}

// Measure returns the result of the named measure.
func (p ParameterSensitivity) Measure(name string) (MeasureResult, bool) {
	for _, m := range p.Measures {
		if m.Measure == name {
			return m, true
		}
	}
	return MeasureResult{}, false
}

// OutputSensitivity ranks the parameters driving one output, strongest first.
type OutputSensitivity struct {
	Output     string                 `json:"output"`
	Draws      int                    `json:"draws"`
	Parameters []ParameterSensitivity `json:"parameters"`
}

// SensitivityReport is the sensitivity analysis of a Monte Carlo run.
type SensitivityReport struct {
	RunID    core.RunID          `json:"run_id"`
	Seed     int64               `json:"seed"`
	Measures []string            `json:"measures"`
	Outputs  []OutputSensitivity `json:"outputs"`
}

// Output returns the analysis of the named output.
func (r *SensitivityReport) Output(name string) (OutputSensitivity, bool) {
	for _, o := range r.Outputs {
		if o.Output == name {
			return o, true
		}
	}
	return OutputSensitivity{}, false
}

// RankingEffect is the absolute effect of measure used to order parameters.
// Non-finite effects sort last.
func (p ParameterSensitivity) RankingEffect(measure string) float64 {
	m, ok := p.Measure(measure)
	if !ok || !m.Effect.IsFinite() {
		return -1
	}
	return math.Abs(m.Effect.Value())
}
