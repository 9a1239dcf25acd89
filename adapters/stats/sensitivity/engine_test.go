package sensitivity

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"gorisk/adapters/rng"
	"gorisk/domain/core"
	"gorisk/domain/simulation"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniforms(n int, seed uint64) []float64 {
	src := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float64, n)
	for i := range out {
		out[i] = src.Float64()
	}
	return out
}

func TestRanks_AverageTies(t *testing.T) {
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, ranks([]float64{1, 2, 2, 3}))
	assert.Equal(t, []float64{3, 1, 2}, ranks([]float64{30, 10, 20}))
}

func TestSpearman(t *testing.T) {
	s := NewSpearman()
	x := uniforms(500, 1)

	cubed := make([]float64, len(x))
	negated := make([]float64, len(x))
	for i, v := range x {
		cubed[i] = v * v * v
		negated[i] = -v
	}

	r := s.Analyze(x, cubed, nil)
	assert.InDelta(t, 1, r.Effect.Value(), 1e-12)
	assert.InDelta(t, 0, r.PValue.Value(), 1e-12)
	assert.Equal(t, simulation.SignalVeryStrong, r.Signal)

	r = s.Analyze(x, negated, nil)
	assert.InDelta(t, -1, r.Effect.Value(), 1e-12)

	r = s.Analyze(x, uniforms(500, 99), nil)
	assert.Less(t, math.Abs(r.Effect.Value()), 0.15)
	assert.Greater(t, r.PValue.Value(), 0.0)
	assert.Equal(t, simulation.SignalWeak, r.Signal)
}

func TestSpearman_Degenerate(t *testing.T) {
	s := NewSpearman()
	assert.Equal(t, simulation.SignalInsufficient, s.Analyze([]float64{1, 2}, []float64{1, 2}, nil).Signal)

	r := s.Analyze([]float64{1, 2, 3, 4}, []float64{5, 5, 5, 5}, nil)
	assert.Equal(t, core.Float(0), r.Effect)
	assert.Equal(t, core.Float(1), r.PValue)
}

func TestCorrelationPValue(t *testing.T) {
	// t = 0.5·sqrt(28/0.75) ≈ 3.055 on 28 df
	p := correlationPValue(0.5, 30)
	assert.InDelta(t, 0.0049, p, 0.0005)
}

func TestMutualInformation(t *testing.T) {
	m := NewMutualInformation(10, 50)
	x := uniforms(1000, 3)

	r := m.Analyze(x, x, rand.New(rand.NewPCG(1, 2)))
	assert.InDelta(t, math.Log2(10), r.Effect.Value(), 1e-9)
	assert.InDelta(t, 1.0/51, r.PValue.Value(), 1e-12)
	assert.Equal(t, simulation.SignalVeryStrong, r.Signal)

	r = m.Analyze(x, uniforms(1000, 4), rand.New(rand.NewPCG(1, 2)))
	assert.Less(t, r.Effect.Value(), 0.15)

	// Non-monotonic dependence that rank correlation misses.
	folded := make([]float64, len(x))
	for i, v := range x {
		folded[i] = math.Abs(v - 0.5)
	}
	r = m.Analyze(x, folded, rand.New(rand.NewPCG(1, 2)))
	assert.Greater(t, r.Effect.Value(), 0.5)
	rho := NewSpearman().Analyze(x, folded, nil)
	assert.Less(t, math.Abs(rho.Effect.Value()), 0.15)
}

func TestMutualInformation_SmallSample(t *testing.T) {
	r := NewMutualInformation(10, 10).Analyze(uniforms(15, 1), uniforms(15, 2), nil)
	assert.Equal(t, simulation.SignalInsufficient, r.Signal)
}

func linearResult(n int) *simulation.SimulationResult {
	a, b := uniforms(n, 10), uniforms(n, 11)
	y := make([]core.Float, n)
	for i := range y {
		y[i] = core.Float(10*a[i] + b[i])
	}
	y[3] = core.Float(math.NaN())
	return &simulation.SimulationResult{
		RunID:          core.NewRunID(),
		ParameterNames: []string{"b", "a"},
		Samples:        map[string][]float64{"a": a, "b": b},
		OutputNames:    []string{"y"},
		Outputs:        map[string][]core.Float{"y": y},
	}
}

func TestEngine_RanksParameters(t *testing.T) {
	e := NewEngine(rng.NewPCGAdapter(), zerolog.Nop(), WithParallelism(2))
	result := linearResult(400)

	report, err := e.Analyze(context.Background(), result, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{MeasureSpearman, MeasureMutualInformation}, report.Measures)

	out, ok := report.Output("y")
	require.True(t, ok)
	assert.Equal(t, 399, out.Draws, "the NaN draw is left out")
	require.Len(t, out.Parameters, 2)
	assert.Equal(t, "a", out.Parameters[0].Parameter)
	assert.Equal(t, "b", out.Parameters[1].Parameter)

	rho, ok := out.Parameters[0].Measure(MeasureSpearman)
	require.True(t, ok)
	assert.Greater(t, rho.Effect.Value(), 0.9)

	again, err := e.Analyze(context.Background(), result, 7)
	require.NoError(t, err)
	assert.Equal(t, report, again)
}

func TestEngine_Errors(t *testing.T) {
	e := NewEngine(rng.NewPCGAdapter(), zerolog.Nop())
	_, err := e.Analyze(context.Background(), &simulation.SimulationResult{}, 1)
	assert.True(t, core.IsValidationError(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Analyze(ctx, linearResult(50), 1)
	assert.ErrorIs(t, err, context.Canceled)
}
