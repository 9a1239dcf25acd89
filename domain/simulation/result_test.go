package simulation

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip[T any](t *testing.T, in T) T {
	t.Helper()
	data, err := json.Marshal(in)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestSimulationResult_JSONRoundTrip(t *testing.T) {
	in := SimulationResult{
		RunID:          core.NewRunID(),
		Method:         paramspace.MethodStratified,
		ParameterNames: []string{"likelihood", "impact"},
		Samples: map[string][]float64{
			"likelihood": {0.1, 0.25, 0.5},
			"impact":     {1000, 2500.5, 1e6},
		},
		OutputNames: []string{"loss"},
		Outputs: map[string][]core.Float{
			"loss": {100, core.Float(math.NaN()), 5e5},
		},
		Weights: []float64{0.5, 0.25, 0.25},
		Summaries: map[string]OutputSummary{
			"loss": {N: 2, Mean: 250050, StdDev: 353482.2, Min: 100, Max: 5e5, Skewness: core.Float(math.NaN()), Kurtosis: core.Float(math.Inf(1))},
		},
		Strata: []StratumSummary{{
			Stratum: paramspace.Stratum{Name: "low", Parameter: "likelihood", Lower: 0, Upper: 0.3},
			Weight:  0.3,
			Draws:   2,
			Means:   map[string]core.Float{"loss": 100},
		}},
		ConvergenceHistory: []ConvergenceCheckpoint{
			{Draws: 1, Outputs: map[string]RunningStats{"loss": {Mean: 100, Variance: 0, StdError: 0, RelativeChange: core.Float(math.Inf(1))}}},
			{Draws: 3, Outputs: map[string]RunningStats{"loss": {Mean: 250050, RelativeChange: 2499.5}}, Converged: false},
		},
		Failures:   []core.FailedDraw{{Index: 1, Values: []float64{0.25, 2500.5}, Error: "division by zero"}},
		Incomplete: true,
		Metadata: SimulationMetadata{
			Seed:             -42,
			RequestedSamples: 10,
			EvaluatedSamples: 3,
			Parallelism:      4,
			ChunkSize:        1024,
			Tolerance:        0.01,
			FailureThreshold: 0.05,
			FailureRate:      1.0 / 3,
			Allocation:       AllocationProportional,
			SpaceHash:        core.ConfigHash("abc"),
			StartedAt:        time.Date(2024, 3, 1, 12, 0, 0, 123, time.UTC),
			Duration:         1500 * time.Millisecond,
		},
	}

	out := roundTrip(t, in)
	assert.True(t, math.IsNaN(out.Outputs["loss"][1].Value()))
	assert.True(t, math.IsNaN(out.Summaries["loss"].Skewness.Value()))

	// NaN never compares equal, so blank the known NaNs before comparing the rest.
	in.Outputs["loss"][1], out.Outputs["loss"][1] = 0, 0
	s := in.Summaries["loss"]
	s.Skewness = 0
	in.Summaries["loss"] = s
	s = out.Summaries["loss"]
	s.Skewness = 0
	out.Summaries["loss"] = s
	assert.Equal(t, in, out)
	require.NoError(t, out.Validate())
	assert.Equal(t, []float64{0.25, 2500.5}, out.Point(1))
}

func TestMCMCSamplingResult_JSONRoundTrip(t *testing.T) {
	in := MCMCSamplingResult{
		RunID:          core.NewRunID(),
		ParameterNames: []string{"mu"},
		PosteriorSamples: map[string][]float64{
			"mu": {0.1, -0.2, 0.3, 0.05},
		},
		NChains:        2,
		NDraws:         2,
		NTune:          1,
		AcceptanceRate: 0.81,
		Divergences:    1,
		Chains: []Chain{
			{Index: 0, Draws: [][]float64{{0.1}, {-0.2}}, Stats: []StepStats{{AcceptProb: 0.9, StepSize: 0.7, TreeDepth: 2, Evals: 3, LogDensity: -0.9}, {Diverging: true, AcceptProb: 0.1, StepSize: 0.7, TreeDepth: 1, Evals: 1, LogDensity: -0.92}},
				Tune: [][]float64{{1.5}}, TuneStats: []StepStats{{AcceptProb: 1}}, AcceptanceRate: 0.5, Divergences: 1, StepSize: 0.7, InverseMetric: []float64{1.1}, InitAttempts: 1},
			{Index: 1, Draws: [][]float64{{0.3}, {0.05}}, Stats: []StepStats{{AcceptProb: 0.8}, {AcceptProb: 0.85}}, InitAttempts: 3, BorrowedInit: true},
		},
		Metadata: MCMCMetadata{
			Kernel:       KernelNUTS,
			TargetAccept: 0.8,
			MaxTreeDepth: 10,
			Seed:         7,
			Parallelism:  2,
			InitAttempts: 100,
			Warnings:     []string{"chain 1: initialised from chain 0"},
			StartedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Duration:     time.Second,
		},
	}
	require.NoError(t, in.Validate())

	out := roundTrip(t, in)
	assert.Equal(t, in, out)
	assert.Equal(t, 4, out.TotalDraws())
	assert.Len(t, out.ChainDraws(), 2)
}

func TestMCMCSamplingResult_ValidateLength(t *testing.T) {
	r := MCMCSamplingResult{
		ParameterNames:   []string{"a"},
		PosteriorSamples: map[string][]float64{"a": {1, 2, 3}},
		NChains:          2,
		NDraws:           2,
	}
	assert.Error(t, r.Validate())
}

func TestConvergenceDiagnostics_JSONRoundTrip(t *testing.T) {
	in := ConvergenceDiagnostics{
		Parameters: []ParameterDiagnostics{
			{Name: "beta[0]", RHat: 1.002, ESSBulk: 3510.25, ESSTail: 2890.5, GewekeZ: -0.31, GewekeChain: 2, Mean: 0.01, StdDev: 0.99, MCSE: 0.017},
			{Name: "beta[1]", RHat: core.Float(math.Inf(1)), ESSBulk: 2, ESSTail: 2, GewekeZ: 5.5, GewekeChain: 0},
		},
		Vectors:        []VectorDiagnostics{{Base: "beta", Size: 2, MaxRHat: core.Float(math.Inf(1)), MinESSBulk: 2, MinESSTail: 2}},
		NChains:        4,
		NDraws:         1000,
		Divergences:    3,
		DivergenceRate: 0.00075,
		Converged:      false,
		Warnings:       []string{"beta[1]: R-hat +Inf exceeds 1.01"},
		Metadata: DiagnosticsMetadata{
			Thresholds:  DefaultThresholds(),
			GewekeFirst: 0.1,
			GewekeLast:  0.5,
			RHatMethod:  "rank_normalized_split",
			ESSMethod:   "geyer_fft",
		},
	}

	out := roundTrip(t, in)
	assert.Equal(t, in, out)
	assert.True(t, math.IsInf(out.MaxRHat(), 1))
	assert.Equal(t, 2.0, out.MinESS())

	p, ok := out.Parameter("beta[0]")
	require.True(t, ok)
	assert.Equal(t, core.Float(1.002), p.RHat)
}

func TestThresholds_Validate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())
	bad := DefaultThresholds()
	bad.RHat = 1
	assert.True(t, core.IsValidationError(bad.Validate()))
}

func TestParseKernelType(t *testing.T) {
	k, err := ParseKernelType("")
	require.NoError(t, err)
	assert.Equal(t, KernelAuto, k)
	_, err = ParseKernelType("gibbs")
	assert.True(t, core.IsValidationError(err))
}
