package diagnostics

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"gorisk/domain/core"
	"gorisk/domain/simulation"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalChains(seed uint64, m, n int, shift func(c int) float64) [][]float64 {
	chains := make([][]float64, m)
	for c := range chains {
		rng := rand.New(rand.NewPCG(seed, uint64(c)))
		chains[c] = make([]float64, n)
		for i := range chains[c] {
			chains[c][i] = rng.NormFloat64() + shift(c)
		}
	}
	return chains
}

func noShift(int) float64 { return 0 }

// ar1 returns a stationary autoregressive chain with unit innovations.
func ar1(seed uint64, n int, phi float64) []float64 {
	rng := rand.New(rand.NewPCG(seed, 99))
	out := make([]float64, n)
	out[0] = rng.NormFloat64() / math.Sqrt(1-phi*phi)
	for i := 1; i < n; i++ {
		out[i] = phi*out[i-1] + rng.NormFloat64()
	}
	return out
}

// asDraws turns per-parameter chains into chain × draw × parameter.
func asDraws(series ...[][]float64) [][][]float64 {
	m := len(series[0])
	out := make([][][]float64, m)
	for c := 0; c < m; c++ {
		n := len(series[0][c])
		out[c] = make([][]float64, n)
		for i := 0; i < n; i++ {
			draw := make([]float64, len(series))
			for j := range series {
				draw[j] = series[j][c][i]
			}
			out[c][i] = draw
		}
	}
	return out
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(simulation.DefaultThresholds(), zerolog.Nop())
	require.NoError(t, err)
	return e
}

func TestRHat_SameDistributionIsNearOne(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		r := RHat(normalChains(seed, 4, 1000, noShift))
		assert.Less(t, r, 1.05, "seed %d", seed)
		assert.Greater(t, r, 0.99, "seed %d", seed)
	}
}

func TestRHat_ShiftedChainFlagsNonConvergence(t *testing.T) {
	chains := normalChains(7, 2, 1000, func(c int) float64 { return 4 * float64(c) })
	assert.Greater(t, RHat(chains), 1.5)

	d, err := newTestEngine(t).DiagnoseChains([]string{"loss_rate"}, asDraws(chains))
	require.NoError(t, err)
	assert.False(t, d.Converged)

	found := false
	for _, w := range d.Warnings {
		if strings.Contains(w, "loss_rate") && strings.Contains(w, "R-hat") {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", d.Warnings)
}

func TestRHat_DetectsScaleDifference(t *testing.T) {
	chains := normalChains(3, 2, 2000, noShift)
	for i := range chains[1] {
		chains[1][i] *= 5
	}
	// Same mean, different spread: only the folded R-hat sees it.
	assert.Greater(t, RHat(chains), 1.01)
}

func TestESS_BoundedByDrawCount(t *testing.T) {
	chains := normalChains(11, 4, 1000, noShift)
	n := 4000.0
	for name, v := range map[string]float64{
		"bulk": BulkESS(chains),
		"tail": TailESS(chains),
		"mean": MeanESS(chains),
	} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), name)
		assert.Positive(t, v, name)
		assert.LessOrEqual(t, v, n, name)
		assert.Greater(t, v, 0.5*n, name)
	}
}

func TestESS_AutocorrelatedChain(t *testing.T) {
	chains := [][]float64{ar1(1, 4000, 0.9), ar1(2, 4000, 0.9)}
	bulk := BulkESS(chains)
	// (1 - φ) / (1 + φ) of 8000 draws is about 420.
	assert.Positive(t, bulk)
	assert.Less(t, bulk, 0.2*8000)
	assert.Greater(t, bulk, 150.0)
}

func TestESS_AntitheticChainIsClamped(t *testing.T) {
	chain := make([]float64, 1000)
	for i := range chain {
		chain[i] = float64(i%2)*2 - 1 + 0.01*float64(i%7)
	}
	v := ess([][]float64{chain})
	assert.LessOrEqual(t, v, 1000.0)
	assert.Positive(t, v)
}

func TestAutocovariance_MatchesDirectSum(t *testing.T) {
	x := []float64{1.5, -0.3, 2.2, 0.7, -1.1, 0.4, 3.0, -2.4, 0.9}
	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))

	acov := autocovariance(x)
	for lag := 0; lag < len(x); lag++ {
		want := 0.0
		for i := 0; i+lag < len(x); i++ {
			want += (x[i] - mean) * (x[i+lag] - mean)
		}
		want /= float64(len(x))
		assert.InDelta(t, want, acov[lag], 1e-9, "lag %d", lag)
	}
}

func TestGeweke_StationaryChainsMostlyWithinTwo(t *testing.T) {
	within := 0
	const trials = 200
	for seed := uint64(0); seed < trials; seed++ {
		chain := normalChains(seed+100, 1, 1000, noShift)[0]
		if math.Abs(Geweke(chain, 0.1, 0.5)) < 2 {
			within++
		}
	}
	assert.GreaterOrEqual(t, within, int(0.88*trials))
}

func TestGeweke_DriftExceedsTwo(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		chain := normalChains(seed, 1, 1000, noShift)[0]
		for i := range chain {
			chain[i] += 0.01 * float64(i)
		}
		z := Geweke(chain, 0.1, 0.5)
		assert.Greater(t, math.Abs(z), 2.0, "seed %d", seed)
		assert.Negative(t, z)
	}
}

func TestGeweke_TooShort(t *testing.T) {
	assert.True(t, math.IsNaN(Geweke([]float64{1, 2, 3, 4, 5}, 0.1, 0.5)))
}

func TestDiagnoseChains_ConvergedSample(t *testing.T) {
	a := normalChains(21, 4, 1000, noShift)
	b := normalChains(22, 4, 1000, func(int) float64 { return 10 })
	d, err := newTestEngine(t).DiagnoseChains([]string{"a", "b"}, asDraws(a, b))
	require.NoError(t, err)

	assert.True(t, d.Converged, "warnings: %v", d.Warnings)
	assert.Equal(t, 4, d.NChains)
	assert.Equal(t, 1000, d.NDraws)
	require.Len(t, d.Parameters, 2)

	pb, ok := d.Parameter("b")
	require.True(t, ok)
	assert.InDelta(t, 10, pb.Mean.Value(), 0.1)
	assert.InDelta(t, 1, pb.StdDev.Value(), 0.05)
	assert.InDelta(t, 1/math.Sqrt(4000), pb.MCSE.Value(), 0.005)
	assert.Less(t, d.MaxRHat(), 1.01)
	assert.GreaterOrEqual(t, d.MinESS(), 400.0)
	assert.Equal(t, simulation.DefaultThresholds(), d.Metadata.Thresholds)
}

func TestDiagnoseChains_LowESSWarns(t *testing.T) {
	chains := [][]float64{ar1(5, 500, 0.97), ar1(6, 500, 0.97)}
	d, err := newTestEngine(t).DiagnoseChains([]string{"slow"}, asDraws(chains))
	require.NoError(t, err)
	assert.False(t, d.Converged)

	found := false
	for _, w := range d.Warnings {
		if strings.Contains(w, "slow") && strings.Contains(w, "ESS") {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", d.Warnings)
}

func TestDiagnoseChains_ZeroVariance(t *testing.T) {
	constant := make([][]float64, 4)
	for c := range constant {
		constant[c] = make([]float64, 200)
		for i := range constant[c] {
			constant[c][i] = 3.5
		}
	}
	d, err := newTestEngine(t).DiagnoseChains([]string{"fixed"}, asDraws(constant))
	require.NoError(t, err)

	p := d.Parameters[0]
	assert.Equal(t, 1.0, p.RHat.Value())
	assert.Equal(t, 800.0, p.ESSBulk.Value())
	assert.Equal(t, 800.0, p.ESSTail.Value())
	assert.True(t, d.Converged)
	require.Len(t, d.Warnings, 1)
	assert.Contains(t, d.Warnings[0], "zero variance")
}

func TestDiagnoseChains_VectorParameters(t *testing.T) {
	good := normalChains(31, 2, 1000, noShift)
	shifted := normalChains(32, 2, 1000, func(c int) float64 { return 3 * float64(c) })
	sigma := normalChains(33, 2, 1000, noShift)

	d, err := newTestEngine(t).DiagnoseChains(
		[]string{"beta[0]", "beta[1]", "sigma"},
		asDraws(good, shifted, sigma))
	require.NoError(t, err)

	require.Len(t, d.Vectors, 1)
	v := d.Vectors[0]
	assert.Equal(t, "beta", v.Base)
	assert.Equal(t, 2, v.Size)
	b1, _ := d.Parameter("beta[1]")
	assert.Equal(t, b1.RHat, v.MaxRHat)
	assert.Greater(t, v.MaxRHat.Value(), 1.01)
}

func TestDiagnoseChains_SingleChainWarns(t *testing.T) {
	d, err := newTestEngine(t).DiagnoseChains([]string{"x"}, asDraws(normalChains(41, 1, 2000, noShift)))
	require.NoError(t, err)
	assert.Contains(t, d.Warnings[0], "one chain")
	assert.False(t, math.IsNaN(d.Parameters[0].RHat.Value()))
}

func TestDiagnoseChains_RejectsMalformedInput(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.DiagnoseChains([]string{"x"}, nil)
	assert.True(t, core.IsValidationError(err))

	uneven := asDraws(normalChains(1, 2, 10, noShift))
	uneven[1] = uneven[1][:8]
	_, err = e.DiagnoseChains([]string{"x"}, uneven)
	assert.True(t, core.IsValidationError(err))

	_, err = e.DiagnoseChains([]string{"x"}, asDraws(normalChains(1, 2, 3, noShift)))
	assert.True(t, core.IsValidationError(err))

	_, err = e.DiagnoseChains([]string{"x", "y"}, asDraws(normalChains(1, 2, 10, noShift)))
	assert.True(t, core.IsValidationError(err))
}

func mcmcResult(chains [][]float64, divergences int) *simulation.MCMCSamplingResult {
	r := &simulation.MCMCSamplingResult{
		RunID:            core.NewRunID(),
		ParameterNames:   []string{"theta"},
		PosteriorSamples: map[string][]float64{"theta": pool(chains)},
		NChains:          len(chains),
		NDraws:           len(chains[0]),
		Divergences:      divergences,
	}
	for c, ch := range chains {
		chain := simulation.Chain{Index: c}
		for _, v := range ch {
			chain.Draws = append(chain.Draws, []float64{v})
		}
		r.Chains = append(r.Chains, chain)
	}
	return r
}

func TestDiagnose_ReportsDivergences(t *testing.T) {
	result := mcmcResult(normalChains(51, 4, 1000, noShift), 8)
	d, err := newTestEngine(t).Diagnose(result)
	require.NoError(t, err)

	assert.Equal(t, 8, d.Divergences)
	assert.InDelta(t, 0.002, d.DivergenceRate, 1e-12)
	assert.Equal(t, result.RunID, d.Metadata.SourceRunID)
	assert.Equal(t, "mcmc", d.Metadata.SourceRunKind)
	// Divergences warn but do not decide convergence.
	assert.True(t, d.Converged)

	found := false
	for _, w := range d.Warnings {
		if strings.Contains(w, "divergent") && strings.Contains(w, "target_accept") {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", d.Warnings)
}

func TestDiagnose_DivergenceRateTolerance(t *testing.T) {
	th := simulation.DefaultThresholds()
	th.DivergenceRate = 0.01
	e, err := NewEngine(th, zerolog.Nop())
	require.NoError(t, err)

	d, err := e.Diagnose(mcmcResult(normalChains(52, 4, 1000, noShift), 8))
	require.NoError(t, err)
	for _, w := range d.Warnings {
		assert.NotContains(t, w, "divergent")
	}
}

func TestDiagnose_RoundTripsThroughJSON(t *testing.T) {
	d, err := newTestEngine(t).Diagnose(mcmcResult(normalChains(53, 2, 500, noShift), 0))
	require.NoError(t, err)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	var back simulation.ConvergenceDiagnostics
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d.Parameters, back.Parameters)
	assert.Equal(t, d.Warnings, back.Warnings)
	assert.Equal(t, d.Converged, back.Converged)
	assert.Equal(t, d.Metadata, back.Metadata)
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(simulation.Thresholds{RHat: 1, ESS: 400, GewekeZ: 2}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewEngine(simulation.DefaultThresholds(), zerolog.Nop(), WithGewekeSegments(0.6, 0.5))
	assert.Error(t, err)
}

func TestAverageRanks(t *testing.T) {
	assert.Equal(t, []float64{3.5, 1, 3.5, 2}, averageRanks([]float64{3, 1, 3, 2}))
}

func TestChainsFromSimulations(t *testing.T) {
	run := func(offset float64, failAt int) *simulation.SimulationResult {
		r := &simulation.SimulationResult{
			ParameterNames: []string{"x"},
			Samples:        map[string][]float64{"x": make([]float64, 10)},
			OutputNames:    []string{"y", "z"},
			Outputs:        map[string][]core.Float{"y": make([]core.Float, 10), "z": make([]core.Float, 10)},
		}
		for i := 0; i < 10; i++ {
			r.Samples["x"][i] = offset + float64(i)
			r.Outputs["y"][i] = core.Float(2 * (offset + float64(i)))
			r.Outputs["z"][i] = core.Float(i)
		}
		if failAt >= 0 {
			r.Outputs["z"][failAt] = core.Float(math.NaN())
		}
		return r
	}

	names, chains, err := ChainsFromSimulations([]*simulation.SimulationResult{run(0, -1), run(100, 3)})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, names)
	require.Len(t, chains, 2)
	assert.Equal(t, []float64{103, 206}, chains[1][3])

	_, _, err = ChainsFromSimulations(nil)
	assert.True(t, core.IsValidationError(err))
}
