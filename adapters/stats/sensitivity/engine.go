// Package sensitivity measures how strongly each sampled parameter drives
// each output of a Monte Carlo run.
package sensitivity

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"

	"gorisk/domain/core"
	"gorisk/domain/simulation"
	"gorisk/ports"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Measure is one dependence measure between a parameter and an output.
type Measure interface {
	Name() string
	// Analyze returns the effect of x on y. rng is only used by
	// permutation-based measures.
	Analyze(x, y []float64, rng *rand.Rand) simulation.MeasureResult
}

// Engine runs every measure over every (output, parameter) pair of a result
type Engine struct {
	measures    []Measure
	rng         ports.RNGPort
	parallelism int
	logger      zerolog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithMeasures replaces the default measures. The first measure orders the
// parameters of each output.
func WithMeasures(measures ...Measure) Option {
	return func(e *Engine) { e.measures = measures }
}

// WithParallelism bounds the number of pairs analysed at once.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// NewEngine creates an engine with Spearman rank correlation and binned
// mutual information.
func NewEngine(rng ports.RNGPort, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		measures:    []Measure{NewSpearman(), NewMutualInformation(DefaultBins, DefaultPermutations)},
		rng:         rng,
		parallelism: runtime.GOMAXPROCS(0),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Measures lists the measure names in the order they are reported.
func (e *Engine) Measures() []string {
	names := make([]string, len(e.measures))
	for i, m := range e.measures {
		names[i] = m.Name()
	}
	return names
}

// Analyze computes the sensitivity of every output of result. Draws whose
// output is not finite are left out of that output's analysis. Permutation
// tests draw from streams derived from seed, so the report is reproducible.
func (e *Engine) Analyze(ctx context.Context, result *simulation.SimulationResult, seed int64) (*simulation.SensitivityReport, error) {
	if result == nil || result.Len() == 0 {
		return nil, core.NewValidationError("result", "sensitivity analysis needs at least one draw")
	}
	if len(result.OutputNames) == 0 {
		return nil, core.NewValidationError("result", "sensitivity analysis needs at least one output")
	}
	if len(e.measures) == 0 {
		return nil, core.NewValidationError("measures", "no sensitivity measures configured")
	}

	report := &simulation.SensitivityReport{
		RunID:    result.RunID,
		Seed:     seed,
		Measures: e.Measures(),
		Outputs:  make([]simulation.OutputSensitivity, len(result.OutputNames)),
	}

	nParams := len(result.ParameterNames)
	cells := make([]simulation.ParameterSensitivity, len(result.OutputNames)*nParams)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for oi, output := range result.OutputNames {
		xs, y := finiteRows(result, output)
		report.Outputs[oi] = simulation.OutputSensitivity{Output: output, Draws: len(y)}

		for pi, param := range result.ParameterNames {
			idx := oi*nParams + pi
			x := xs[pi]
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				cell := simulation.ParameterSensitivity{
					Parameter: param,
					Measures:  make([]simulation.MeasureResult, len(e.measures)),
				}
				for mi, m := range e.measures {
					stream := e.rng.Stream(seed, "sensitivity/"+m.Name(), idx)
					cell.Measures[mi] = m.Analyze(x, y, stream)
				}
				cells[idx] = cell
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranking := e.measures[0].Name()
	for oi := range report.Outputs {
		params := append([]simulation.ParameterSensitivity(nil), cells[oi*nParams:(oi+1)*nParams]...)
		sort.SliceStable(params, func(i, j int) bool {
			return params[i].RankingEffect(ranking) > params[j].RankingEffect(ranking)
		})
		report.Outputs[oi].Parameters = params
	}

	e.logger.Debug().
		Str("run_id", result.RunID.String()).
		Int("outputs", len(report.Outputs)).
		Int("parameters", nParams).
		Msg("sensitivity analysis complete")
	return report, nil
}

// finiteRows returns the parameter columns and output values of the draws
// whose output is finite.
func finiteRows(result *simulation.SimulationResult, output string) ([][]float64, []float64) {
	values := result.Outputs[output]
	keep := make([]int, 0, len(values))
	for i, v := range values {
		if v.IsFinite() {
			keep = append(keep, i)
		}
	}

	y := make([]float64, len(keep))
	for k, i := range keep {
		y[k] = values[i].Value()
	}
	xs := make([][]float64, len(result.ParameterNames))
	for p, name := range result.ParameterNames {
		col := result.Samples[name]
		x := make([]float64, len(keep))
		for k, i := range keep {
			x[k] = col[i]
		}
		xs[p] = x
	}
	return xs, y
}

// classifySignal converts an absolute effect size to a signal strength using
// the measure's cut points.
func classifySignal(effect float64, cuts [3]float64) string {
	abs := math.Abs(effect)
	switch {
	case abs < cuts[0]:
		return simulation.SignalWeak
	case abs < cuts[1]:
		return simulation.SignalModerate
	case abs < cuts[2]:
		return simulation.SignalStrong
	}
	return simulation.SignalVeryStrong
}

func insufficient(name string) simulation.MeasureResult {
	return simulation.MeasureResult{
		Measure: name,
		Effect:  0,
		PValue:  1,
		Signal:  simulation.SignalInsufficient,
	}
}
