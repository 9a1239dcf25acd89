package diagnostics

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"gorisk/domain/core"
	"gorisk/domain/simulation"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Segment defaults for the Geweke diagnostic
const (
	DefaultGewekeFirst = 0.1
	DefaultGewekeLast  = 0.5
)

var vectorElement = regexp.MustCompile(`^(.+)\[(\d+)\]$`)

// Engine computes convergence diagnostics against a fixed set of thresholds.
type Engine struct {
	thresholds  simulation.Thresholds
	gewekeFirst float64
	gewekeLast  float64
	logger      zerolog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithGewekeSegments sets the fractions of each chain compared by the Geweke diagnostic.
func WithGewekeSegments(first, last float64) Option {
	return func(e *Engine) {
		e.gewekeFirst = first
		e.gewekeLast = last
	}
}

// NewEngine creates a diagnostics engine.
func NewEngine(thresholds simulation.Thresholds, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		thresholds:  thresholds,
		gewekeFirst: DefaultGewekeFirst,
		gewekeLast:  DefaultGewekeLast,
		logger:      logger.With().Str("component", "diagnostics").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if !(e.gewekeFirst > 0 && e.gewekeLast > 0 && e.gewekeFirst+e.gewekeLast <= 1) {
		return nil, core.NewValidationErrorf("geweke", "segments %v and %v must be positive and sum to at most 1", e.gewekeFirst, e.gewekeLast)
	}
	return e, nil
}

// Diagnose computes the diagnostics of an MCMC run, including its divergences.
func (e *Engine) Diagnose(result *simulation.MCMCSamplingResult) (*simulation.ConvergenceDiagnostics, error) {
	if result == nil {
		return nil, core.NewValidationError("result", "an MCMC result is required")
	}
	if err := result.Validate(); err != nil {
		return nil, core.NewValidationError("result", err.Error())
	}
	d, err := e.DiagnoseChains(result.ParameterNames, result.ChainDraws())
	if err != nil {
		return nil, err
	}
	d.Metadata.SourceRunID = result.RunID
	d.Metadata.SourceRunKind = string(core.RunKindMCMC)

	if result.Incomplete {
		d.Warnings = append(d.Warnings, fmt.Sprintf(
			"sampling was cancelled; diagnostics cover %d draws per chain", result.NDraws))
	}

	d.Divergences = result.Divergences
	if total := result.TotalDraws(); total > 0 {
		d.DivergenceRate = float64(result.Divergences) / float64(total)
	}
	if d.Divergences > 0 && d.DivergenceRate > e.thresholds.DivergenceRate {
		d.Warnings = append(d.Warnings, fmt.Sprintf(
			"%d of %d draws (%.2f%%) were divergent; increase target_accept to take smaller steps or reparameterise the model",
			d.Divergences, result.TotalDraws(), 100*d.DivergenceRate))
	}

	e.logger.Info().
		Str("run_id", result.RunID.String()).
		Bool("converged", d.Converged).
		Float64("max_rhat", d.MaxRHat()).
		Float64("min_ess", d.MinESS()).
		Int("divergences", d.Divergences).
		Int("warnings", len(d.Warnings)).
		Msg("diagnostics computed")
	return d, nil
}

// DiagnoseChains computes diagnostics for any multi-chain sample, given as
// chain × draw × parameter. Every chain must have the same length.
func (e *Engine) DiagnoseChains(names []string, chains [][][]float64) (*simulation.ConvergenceDiagnostics, error) {
	if len(chains) == 0 {
		return nil, core.NewValidationError("chains", "at least one chain is required")
	}
	n := len(chains[0])
	for c, ch := range chains {
		if len(ch) != n {
			return nil, core.NewValidationErrorf("chains", "chain %d has %d draws, chain 0 has %d", c, len(ch), n)
		}
		for i, draw := range ch {
			if len(draw) != len(names) {
				return nil, core.NewValidationErrorf("chains", "chain %d draw %d has %d values for %d parameters", c, i, len(draw), len(names))
			}
		}
	}
	if n < 4 {
		return nil, core.NewValidationErrorf("chains", "need at least 4 draws per chain, got %d", n)
	}

	d := &simulation.ConvergenceDiagnostics{
		Parameters: make([]simulation.ParameterDiagnostics, len(names)),
		NChains:    len(chains),
		NDraws:     n,
		Converged:  true,
		Warnings:   []string{},
		Metadata: simulation.DiagnosticsMetadata{
			Thresholds:  e.thresholds,
			GewekeFirst: e.gewekeFirst,
			GewekeLast:  e.gewekeLast,
			RHatMethod:  "rank-normalized split R-hat, max of bulk and folded",
			ESSMethod:   "Geyer initial monotone sequence on rank-normalized split chains",
		},
	}
	if len(chains) == 1 {
		d.Warnings = append(d.Warnings, "only one chain: R-hat compares its two halves; run at least 2 chains")
	}

	for j, name := range names {
		series := make([][]float64, len(chains))
		for c, ch := range chains {
			series[c] = make([]float64, n)
			for i, draw := range ch {
				series[c][i] = draw[j]
			}
		}
		pd, warnings, ok := e.diagnoseParameter(name, series)
		d.Parameters[j] = pd
		d.Warnings = append(d.Warnings, warnings...)
		d.Converged = d.Converged && ok
	}
	d.Vectors = vectorSummaries(d.Parameters)
	return d, nil
}

func (e *Engine) diagnoseParameter(name string, series [][]float64) (simulation.ParameterDiagnostics, []string, bool) {
	th := e.thresholds
	flat := pool(series)
	mean, variance := stat.MeanVariance(flat, nil)
	pd := simulation.ParameterDiagnostics{
		Name:   name,
		Mean:   core.Float(mean),
		StdDev: core.Float(math.Sqrt(variance)),
	}
	for _, v := range flat {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			pd.RHat, pd.ESSBulk, pd.ESSTail = core.Float(math.NaN()), core.Float(math.NaN()), core.Float(math.NaN())
			pd.GewekeZ, pd.MCSE = core.Float(math.NaN()), core.Float(math.NaN())
			return pd, []string{fmt.Sprintf("parameter %s has non-finite draws", name)}, false
		}
	}

	total := float64(len(flat))
	if variance == 0 {
		pd.RHat = 1
		pd.ESSBulk = core.Float(total)
		pd.ESSTail = core.Float(total)
		return pd, []string{fmt.Sprintf("parameter %s has zero variance across all draws", name)}, total >= th.ESS
	}

	rhat := RHat(series)
	bulk := BulkESS(series)
	tail := TailESS(series)
	pd.RHat = core.Float(rhat)
	pd.ESSBulk = core.Float(bulk)
	pd.ESSTail = core.Float(tail)
	pd.MCSE = core.Float(math.Sqrt(variance / MeanESS(series)))

	pd.GewekeZ = core.Float(math.NaN())
	for c, ch := range series {
		z := Geweke(ch, e.gewekeFirst, e.gewekeLast)
		if math.IsNaN(z) {
			continue
		}
		if math.IsNaN(pd.GewekeZ.Value()) || math.Abs(z) > math.Abs(pd.GewekeZ.Value()) {
			pd.GewekeZ = core.Float(z)
			pd.GewekeChain = c
		}
	}

	var warnings []string
	ok := true
	if !(rhat < th.RHat) {
		ok = false
		warnings = append(warnings, fmt.Sprintf("parameter %s: R-hat %.4f is not below %.4g; chains disagree", name, rhat, th.RHat))
	}
	if !(bulk >= th.ESS) {
		ok = false
		warnings = append(warnings, fmt.Sprintf("parameter %s: bulk ESS %.1f is below %.0f; draw more samples", name, bulk, th.ESS))
	}
	if !(tail >= th.ESS) {
		ok = false
		warnings = append(warnings, fmt.Sprintf("parameter %s: tail ESS %.1f is below %.0f; draw more samples", name, tail, th.ESS))
	}
	if z := pd.GewekeZ.Value(); math.Abs(z) > th.GewekeZ {
		warnings = append(warnings, fmt.Sprintf("parameter %s: Geweke Z %.2f on chain %d exceeds %.2g; the chain has not stabilised", name, z, pd.GewekeChain, th.GewekeZ))
	}
	return pd, warnings, ok
}

// vectorSummaries groups parameters named base[i] by base, in order of first appearance.
func vectorSummaries(params []simulation.ParameterDiagnostics) []simulation.VectorDiagnostics {
	var out []simulation.VectorDiagnostics
	index := make(map[string]int)
	for _, p := range params {
		m := vectorElement.FindStringSubmatch(p.Name)
		if m == nil {
			continue
		}
		if _, err := strconv.Atoi(m[2]); err != nil {
			continue
		}
		k, ok := index[m[1]]
		if !ok {
			k = len(out)
			index[m[1]] = k
			out = append(out, simulation.VectorDiagnostics{
				Base:       m[1],
				MaxRHat:    p.RHat,
				MinESSBulk: p.ESSBulk,
				MinESSTail: p.ESSTail,
			})
		}
		v := &out[k]
		v.Size++
		if p.RHat > v.MaxRHat || math.IsNaN(p.RHat.Value()) {
			v.MaxRHat = p.RHat
		}
		if p.ESSBulk < v.MinESSBulk {
			v.MinESSBulk = p.ESSBulk
		}
		if p.ESSTail < v.MinESSTail {
			v.MinESSTail = p.ESSTail
		}
	}
	return out
}

// ChainsFromSimulations treats repeated Monte Carlo runs as chains. Runs are
// cut to the shortest one; outputs with a failed draw in any run are left out.
func ChainsFromSimulations(results []*simulation.SimulationResult) ([]string, [][][]float64, error) {
	if len(results) == 0 {
		return nil, nil, core.NewValidationError("results", "at least one simulation result is required")
	}
	first := results[0]
	n := first.Len()
	for _, r := range results[1:] {
		if len(r.ParameterNames) != len(first.ParameterNames) {
			return nil, nil, core.NewValidationError("results", "simulation results cover different parameters")
		}
		for i, name := range r.ParameterNames {
			if name != first.ParameterNames[i] {
				return nil, nil, core.NewValidationError("results", "simulation results cover different parameters")
			}
		}
		n = min(n, r.Len())
	}

	columns := make([]func(r *simulation.SimulationResult) []float64, 0)
	names := make([]string, 0, len(first.ParameterNames)+len(first.OutputNames))
	for _, name := range first.ParameterNames {
		names = append(names, name)
		columns = append(columns, func(r *simulation.SimulationResult) []float64 { return r.Samples[name] })
	}
outputs:
	for _, name := range first.OutputNames {
		for _, r := range results {
			vals, ok := r.Outputs[name]
			if !ok {
				continue outputs
			}
			for _, v := range vals[:n] {
				if !v.IsFinite() {
					continue outputs
				}
			}
		}
		names = append(names, name)
		columns = append(columns, func(r *simulation.SimulationResult) []float64 { return r.Output(name) })
	}

	chains := make([][][]float64, len(results))
	for c, r := range results {
		cols := make([][]float64, len(columns))
		for k, col := range columns {
			cols[k] = col(r)
		}
		chains[c] = make([][]float64, n)
		for i := 0; i < n; i++ {
			draw := make([]float64, len(cols))
			for k := range cols {
				draw[k] = cols[k][i]
			}
			chains[c][i] = draw
		}
	}
	return names, chains, nil
}
