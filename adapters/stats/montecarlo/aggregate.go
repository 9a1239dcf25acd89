package montecarlo

import (
	"math"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"
	"gorisk/domain/simulation"

	"gonum.org/v1/gonum/stat"
)

// accumulator is a weighted Welford accumulator.
type accumulator struct {
	sumW, sumW2 float64
	mean, m2    float64
}

func (a *accumulator) add(x, w float64) {
	a.sumW += w
	a.sumW2 += w * w
	d := x - a.mean
	a.mean += d * w / a.sumW
	a.m2 += w * d * (x - a.mean)
}

func (a *accumulator) effectiveN() float64 {
	if a.sumW2 == 0 {
		return 0
	}
	return a.sumW * a.sumW / a.sumW2
}

func (a *accumulator) stats() (mean, variance, stdErr float64) {
	if a.sumW == 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	nEff := a.effectiveN()
	if nEff <= 1 {
		return a.mean, math.NaN(), math.NaN()
	}
	variance = a.m2 / a.sumW * nEff / (nEff - 1)
	return a.mean, variance, math.Sqrt(variance / nEff)
}

// convergenceMonitor records running statistics at each checkpoint and tracks
// whether the relative change of every output mean has stayed below tolerance
// for two consecutive checkpoints.
type convergenceMonitor struct {
	names       []string
	tolerance   float64
	acc         []accumulator
	consumed    int
	prevMeans   []float64
	streak      int
	converged   bool
	convergedAt int
	history     []simulation.ConvergenceCheckpoint
}

func newConvergenceMonitor(names []string, tolerance float64) *convergenceMonitor {
	return &convergenceMonitor{
		names:     names,
		tolerance: tolerance,
		acc:       make([]accumulator, len(names)),
	}
}

func (m *convergenceMonitor) observe(r *run, upTo int) simulation.ConvergenceCheckpoint {
	for i := m.consumed; i < upTo; i++ {
		if r.errs[i] != "" {
			continue
		}
		w := 1.0
		if r.plan.weights != nil {
			w = r.plan.weights[i]
		}
		for k := range m.acc {
			m.acc[k].add(r.outputs[k][i], w)
		}
	}
	m.consumed = upTo

	cp := simulation.ConvergenceCheckpoint{
		Draws:   upTo,
		Outputs: make(map[string]simulation.RunningStats, len(m.names)),
	}
	means := make([]float64, len(m.names))
	allBelow := m.prevMeans != nil
	for k, name := range m.names {
		mean, variance, se := m.acc[k].stats()
		means[k] = mean
		rel := math.Inf(1)
		if m.prevMeans != nil && !math.IsNaN(m.prevMeans[k]) && !math.IsNaN(mean) {
			rel = math.Abs(mean-m.prevMeans[k]) / math.Max(math.Abs(m.prevMeans[k]), 1e-12)
		}
		if !(rel < m.tolerance) {
			allBelow = false
		}
		cp.Outputs[name] = simulation.RunningStats{
			Mean:           core.Float(mean),
			Variance:       core.Float(variance),
			StdError:       core.Float(se),
			RelativeChange: core.Float(rel),
		}
	}

	if allBelow {
		m.streak++
	} else {
		m.streak = 0
	}
	wasConverged := m.converged
	m.converged = m.streak >= 2
	if m.converged && !wasConverged {
		m.convergedAt = upTo
	}
	if !m.converged {
		m.convergedAt = 0
	}
	cp.Converged = m.converged
	m.prevMeans = means
	m.history = append(m.history, cp)
	return cp
}

// assemble builds the result from the first evaluated draws.
func (s *Simulator) assemble(space *paramspace.ParameterSpace, r *run, evaluated int, monitor *convergenceMonitor) (*simulation.SimulationResult, error) {
	names := space.Names()
	result := &simulation.SimulationResult{
		RunID:              core.NewRunID(),
		Method:             r.opts.Method,
		ParameterNames:     names,
		Samples:            make(map[string][]float64, len(names)),
		OutputNames:        append([]string(nil), r.risk.Outputs...),
		Outputs:            make(map[string][]core.Float, len(r.risk.Outputs)),
		Summaries:          make(map[string]simulation.OutputSummary, len(r.risk.Outputs)),
		ConvergenceHistory: monitor.history,
		Converged:          monitor.converged,
		ConvergedAt:        monitor.convergedAt,
	}

	for j, name := range names {
		col := make([]float64, evaluated)
		for i := 0; i < evaluated; i++ {
			col[i] = r.plan.points[i][j]
		}
		result.Samples[name] = col
	}

	failed := 0
	for i := 0; i < evaluated; i++ {
		if r.errs[i] == "" {
			continue
		}
		failed++
		result.Failures = append(result.Failures, core.FailedDraw{
			Index:  i,
			Values: append([]float64(nil), r.plan.points[i]...),
			Error:  r.errs[i],
		})
	}

	if r.plan.weights != nil {
		result.Weights = append([]float64(nil), r.plan.weights[:evaluated]...)
	}

	for k, name := range r.risk.Outputs {
		col := make([]core.Float, evaluated)
		var vals, ws []float64
		for i := 0; i < evaluated; i++ {
			col[i] = core.Float(r.outputs[k][i])
			if r.errs[i] != "" {
				continue
			}
			vals = append(vals, r.outputs[k][i])
			if r.plan.weights != nil {
				ws = append(ws, r.plan.weights[i])
			}
		}
		result.Outputs[name] = col

		var (
			summary simulation.OutputSummary
			err     error
		)
		if r.plan.weights == nil {
			summary, err = s.analyzer.Summarize(vals)
		} else {
			summary, err = s.analyzer.WeightedSummarize(vals, ws)
		}
		if err != nil {
			return nil, err
		}
		result.Summaries[name] = summary
	}

	if r.plan.strata != nil {
		result.Strata = stratumSummaries(r, evaluated)
		applyStratifiedEstimator(result, r, evaluated)
	}

	result.Metadata = simulation.SimulationMetadata{
		Seed:               r.opts.Seed,
		RequestedSamples:   r.opts.Samples,
		EvaluatedSamples:   evaluated,
		Parallelism:        r.opts.Parallelism,
		ChunkSize:          r.opts.ChunkSize,
		Tolerance:          r.opts.Tolerance,
		CheckpointFraction: r.opts.CheckpointFraction,
		EarlyStop:          r.opts.EarlyStop,
		FailureThreshold:   r.opts.FailureThreshold,
		Allocation:         r.opts.Allocation,
		SpaceHash:          space.Fingerprint(),
	}
	if evaluated > 0 {
		result.Metadata.FailureRate = float64(failed) / float64(evaluated)
	}
	return result, nil
}

// stratumValues returns the successful values of output k in stratum h.
func stratumValues(r *run, evaluated, h, k int) []float64 {
	var vals []float64
	for i := 0; i < evaluated; i++ {
		if r.plan.stratum[i] == h && r.errs[i] == "" {
			vals = append(vals, r.outputs[k][i])
		}
	}
	return vals
}

func stratumSummaries(r *run, evaluated int) []simulation.StratumSummary {
	out := make([]simulation.StratumSummary, len(r.plan.strata))
	for h, st := range r.plan.strata {
		sum := simulation.StratumSummary{
			Stratum: st,
			Weight:  r.plan.stratumWeights[h],
			Means:   make(map[string]core.Float, len(r.risk.Outputs)),
		}
		for i := 0; i < evaluated; i++ {
			if r.plan.stratum[i] != h {
				continue
			}
			sum.Draws++
			if r.errs[i] != "" {
				sum.Failures++
			}
		}
		for k, name := range r.risk.Outputs {
			vals := stratumValues(r, evaluated, h, k)
			mean := math.NaN()
			if len(vals) > 0 {
				mean = stat.Mean(vals, nil)
			}
			sum.Means[name] = core.Float(mean)
		}
		out[h] = sum
	}
	return out
}

// applyStratifiedEstimator replaces the mean and standard error of every output
// with the stratified estimator Σ W_h·ȳ_h and √(Σ W_h²·s_h²/n_h). Strata without
// a successful draw are dropped and the remaining weights renormalised.
func applyStratifiedEstimator(result *simulation.SimulationResult, r *run, evaluated int) {
	for k, name := range r.risk.Outputs {
		mean, variance, totalW := 0.0, 0.0, 0.0
		for h := range r.plan.strata {
			vals := stratumValues(r, evaluated, h, k)
			if len(vals) == 0 {
				continue
			}
			w := r.plan.stratumWeights[h]
			totalW += w
			m, v := stat.MeanVariance(vals, nil)
			mean += w * m
			if len(vals) > 1 {
				variance += w * w * v / float64(len(vals))
			}
		}
		summary := result.Summaries[name]
		if totalW > 0 {
			summary.Mean = core.Float(mean / totalW)
			summary.StdError = core.Float(math.Sqrt(variance) / totalW)
		}
		result.Summaries[name] = summary
	}
}
