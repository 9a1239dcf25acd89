package profiling

import (
	"math"
	"math/rand/v2"
	"testing"

	"gorisk/domain/core"
	"gorisk/domain/simulation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

func normalSample(n int, mu, sigma float64, seed uint64) []float64 {
	src := rand.New(rand.NewPCG(seed, seed+1))
	d := distuv.Normal{Mu: mu, Sigma: sigma, Src: src}
	out := make([]float64, n)
	for i := range out {
		out[i] = d.Rand()
	}
	return out
}

func TestSummarize(t *testing.T) {
	da := NewDistributionAnalyzer()
	s, err := da.Summarize([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, err)
	assert.Equal(t, 10, s.N)
	assert.InDelta(t, 5.5, s.Mean.Value(), 1e-12)
	assert.InDelta(t, 3.0276503540974917, s.StdDev.Value(), 1e-12)
	assert.Equal(t, core.Float(1), s.Min)
	assert.Equal(t, core.Float(10), s.Max)
	assert.Equal(t, core.Float(5.5), s.Median)
	assert.InDelta(t, 0, s.Skewness.Value(), 1e-12)
}

func TestSummarize_Empty(t *testing.T) {
	s, err := NewDistributionAnalyzer().Summarize(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, s.N)
	assert.True(t, math.IsNaN(s.Mean.Value()))
}

func TestWeightedSummarize_UniformWeightsMatchUnweighted(t *testing.T) {
	da := NewDistributionAnalyzer()
	data := normalSample(500, 3, 2, 1)
	original := append([]float64(nil), data...)
	w := make([]float64, len(data))
	for i := range w {
		w[i] = 0.002
	}
	plain, err := da.Summarize(data)
	require.NoError(t, err)
	weighted, err := da.WeightedSummarize(data, w)
	require.NoError(t, err)

	assert.InDelta(t, plain.Mean.Value(), weighted.Mean.Value(), 1e-9)
	assert.InDelta(t, plain.StdDev.Value(), weighted.StdDev.Value(), 1e-9)
	assert.InDelta(t, plain.StdError.Value(), weighted.StdError.Value(), 1e-9)
	assert.Equal(t, plain.Min, weighted.Min)
	assert.Equal(t, plain.Max, weighted.Max)
	assert.Equal(t, original, data, "input must not be reordered")
}

func TestWeightedSummarize_Reweights(t *testing.T) {
	da := NewDistributionAnalyzer()
	s, err := da.WeightedSummarize([]float64{0, 10}, []float64{0.9, 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s.Mean.Value(), 1e-12)

	_, err = da.WeightedSummarize([]float64{1}, []float64{1, 2})
	assert.True(t, core.IsValidationError(err))
}

func TestProfileColumn_Normality(t *testing.T) {
	op := NewOutputProfiler()
	normal, err := op.ProfileColumn("normal", normalSample(5000, 0, 1, 9))
	require.NoError(t, err)
	assert.Greater(t, normal.NormalityP, 0.001, "JB=%v", normal.JarqueBera)

	skewed := normalSample(5000, 0, 1, 10)
	for i, v := range skewed {
		skewed[i] = math.Exp(v)
	}
	logn, err := op.ProfileColumn("lognormal", skewed)
	require.NoError(t, err)
	assert.False(t, logn.IsNormal)
	assert.Greater(t, logn.Outliers, 0)
}

func TestProfileResult_SkipsFailedDraws(t *testing.T) {
	result := &simulation.SimulationResult{
		OutputNames: []string{"loss"},
		Outputs:     map[string][]core.Float{"loss": {1, 2, core.Float(math.NaN()), 4}},
	}
	profiles, err := NewOutputProfiler().ProfileResult(result)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, 3, profiles[0].Summary.N)
}

func TestKolmogorovSmirnov(t *testing.T) {
	data := normalSample(4000, 0, 1, 3)
	d, p := KolmogorovSmirnov(data, distuv.UnitNormal.CDF)
	assert.Less(t, d, 0.03)
	assert.Greater(t, p, 0.001)

	shifted := distuv.Normal{Mu: 0.5, Sigma: 1}
	_, p = KolmogorovSmirnov(data, shifted.CDF)
	assert.Less(t, p, 1e-6)
}
