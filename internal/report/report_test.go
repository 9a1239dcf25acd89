package report

import (
	"math"
	"strings"
	"testing"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"
	"gorisk/domain/simulation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simulationFixture() *simulation.SimulationResult {
	outputs := make([]core.Float, 200)
	samples := make([]float64, 200)
	for i := range outputs {
		samples[i] = float64(i)
		outputs[i] = core.Float(float64(i % 17))
	}
	return &simulation.SimulationResult{
		RunID:          core.NewRunID(),
		Method:         paramspace.MethodLHS,
		ParameterNames: []string{"x"},
		Samples:        map[string][]float64{"x": samples},
		OutputNames:    []string{"loss"},
		Outputs:        map[string][]core.Float{"loss": outputs},
		Summaries:      map[string]simulation.OutputSummary{"loss": {N: 200, Mean: 7.9, P95: 16}},
		ConvergenceHistory: []simulation.ConvergenceCheckpoint{
			{Draws: 100, Outputs: map[string]simulation.RunningStats{"loss": {Mean: 8, RelativeChange: core.Float(math.Inf(1))}}},
		},
		Converged:   true,
		ConvergedAt: 200,
		Metadata:    simulation.SimulationMetadata{Seed: 5, RequestedSamples: 200, EvaluatedSamples: 200},
	}
}

func TestSimulationReport(t *testing.T) {
	md := string(NewGenerator().Simulation("Breach loss", simulationFixture(), nil, FormatMarkdown))

	assert.True(t, strings.HasPrefix(md, "# Breach loss\n"))
	assert.Contains(t, md, "lhs, 200 of 200 draws evaluated, seed 5")
	assert.Contains(t, md, "yes, at 200 draws")
	assert.Contains(t, md, "| loss | 7.9 |")
	assert.Contains(t, md, "## Output shape")
	assert.Contains(t, md, "| 100 | loss | 8 |")
	assert.Contains(t, md, "+Inf")
	assert.NotContains(t, md, "## Strata")
	assert.NotContains(t, md, "## Drivers")
}

func TestSimulationReport_Drivers(t *testing.T) {
	sens := &simulation.SensitivityReport{
		Measures: []string{"spearman", "mutual_information"},
		Outputs: []simulation.OutputSensitivity{{
			Output: "loss",
			Draws:  200,
			Parameters: []simulation.ParameterSensitivity{{
				Parameter: "x",
				Measures: []simulation.MeasureResult{
					{Measure: "spearman", Effect: 0.25, PValue: 0.001, Signal: simulation.SignalModerate},
					{Measure: "mutual_information", Effect: 0.5, PValue: 0.01, Signal: simulation.SignalVeryStrong},
				},
			}},
		}},
	}
	md := string(NewGenerator().Simulation("Breach loss", simulationFixture(), sens, FormatMarkdown))

	assert.Contains(t, md, "## Drivers")
	assert.Contains(t, md, "### loss (200 draws)")
	assert.Contains(t, md, "| Parameter | spearman | p | mutual_information | p | Signal |")
	assert.Contains(t, md, "| x | 0.25 | 0.001 | 0.5 | 0.01 | moderate |")
}

func TestMCMCReport_HTML(t *testing.T) {
	r := &simulation.MCMCSamplingResult{
		RunID:          core.NewRunID(),
		NChains:        1,
		NDraws:         10,
		AcceptanceRate: 0.02,
		Chains:         []simulation.Chain{{Index: 0, AcceptanceRate: 0.02, InitAttempts: 3}},
		Metadata: simulation.MCMCMetadata{
			Kernel:   simulation.KernelMetropolis,
			Warnings: []string{"chain 0 acceptance rate 0.020 is below 0.05 after tuning"},
		},
	}
	diag := &simulation.ConvergenceDiagnostics{
		Parameters: []simulation.ParameterDiagnostics{{Name: "theta", RHat: 1.2, ESSBulk: 12}},
		Vectors:    []simulation.VectorDiagnostics{{Base: "beta", Size: 2, MaxRHat: 1.1}},
		Warnings:   []string{"parameter theta: R-hat 1.2000 is not below 1.01; chains disagree"},
	}

	out := string(NewGenerator().MCMC("Posterior <check>", r, diag, FormatHTML))
	require.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "<title>Posterior &lt;check&gt;</title>")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<td>theta</td>")
	assert.Contains(t, out, "<td>beta</td>")
	assert.Contains(t, out, "below 0.05 after tuning")
	assert.Contains(t, out, "chains disagree")
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatMarkdown, "md": FormatMarkdown, "HTML": FormatHTML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}
