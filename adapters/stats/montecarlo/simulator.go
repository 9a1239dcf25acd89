package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync/atomic"
	"time"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"
	"gorisk/domain/simulation"
	"gorisk/internal/config"
	"gorisk/internal/profiling"
	"gorisk/ports"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var errFailureLimit = errors.New("failure limit reached")

// Simulator forward-propagates parameter uncertainty through a risk function.
// A Simulator holds no per-run state and can run several simulations at once.
type Simulator struct {
	rng      ports.RNGPort
	analyzer *profiling.DistributionAnalyzer
	logger   zerolog.Logger
}

// NewSimulator creates a simulator that derives its random streams from rng.
func NewSimulator(rng ports.RNGPort, logger zerolog.Logger) *Simulator {
	return &Simulator{
		rng:      rng,
		analyzer: profiling.NewDistributionAnalyzer(),
		logger:   logger.With().Str("component", "montecarlo").Logger(),
	}
}

// run is the mutable state of one Simulate call. Workers only write to the
// slots of the draws they own.
type run struct {
	opts    Options
	risk    ports.RiskFunction
	plan    *plan
	outputs [][]float64 // output × draw
	errs    []string
	done    []bool

	failures atomic.Int64
	limit    int64
}

// Simulate evaluates risk over opts.Samples draws from space. The result is
// identical for a given seed whatever Parallelism and scheduling are. When ctx
// is cancelled the draws evaluated so far are returned with Incomplete set.
func (s *Simulator) Simulate(ctx context.Context, space *paramspace.ParameterSpace, risk ports.RiskFunction, opts Options) (*simulation.SimulationResult, error) {
	started := time.Now()
	opts = opts.withDefaults(config.DefaultParallelism())
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := risk.Validate(); err != nil {
		return nil, err
	}
	if space == nil {
		return nil, core.NewValidationError("parameter_space", "parameter space is required")
	}
	if err := space.Freeze(); err != nil {
		return nil, err
	}

	p, err := s.buildPlan(space, opts)
	if err != nil {
		return nil, err
	}

	n := len(p.points)
	r := &run{
		opts:    opts,
		risk:    risk,
		plan:    p,
		outputs: make([][]float64, len(risk.Outputs)),
		errs:    make([]string, n),
		done:    make([]bool, n),
		limit:   int64(math.Floor(opts.FailureThreshold * float64(n))),
	}
	for k := range r.outputs {
		r.outputs[k] = make([]float64, n)
		for i := range r.outputs[k] {
			r.outputs[k][i] = math.NaN()
		}
	}

	s.logger.Info().
		Int("samples", n).
		Str("method", string(opts.Method)).
		Int("parallelism", opts.Parallelism).
		Int64("seed", opts.Seed).
		Str("risk_function", risk.Name).
		Msg("starting simulation")

	monitor := newConvergenceMonitor(risk.Outputs, opts.Tolerance)
	evaluated := 0
	incomplete := false
	for _, end := range checkpoints(n, opts.CheckpointFraction) {
		err := s.evaluateRange(ctx, r, evaluated, end)
		if errors.Is(err, errFailureLimit) {
			return nil, s.failureError(r, end)
		}
		if ctx.Err() != nil {
			evaluated = completedPrefix(r.done, evaluated)
			incomplete = true
			s.logger.Warn().Int("evaluated", evaluated).Msg("simulation cancelled, returning partial result")
			monitor.observe(r, evaluated)
			break
		}
		evaluated = end

		cp := monitor.observe(r, evaluated)
		s.logger.Debug().Int("draws", cp.Draws).Bool("converged", cp.Converged).Msg("checkpoint")
		if opts.EarlyStop && monitor.converged {
			s.logger.Info().Int("draws", evaluated).Msg("converged, stopping early")
			break
		}
	}

	failed := 0
	for i := 0; i < evaluated; i++ {
		if r.errs[i] != "" {
			failed++
		}
	}
	if evaluated > 0 && float64(failed)/float64(evaluated) > opts.FailureThreshold {
		return nil, s.failureError(r, evaluated)
	}

	result, err := s.assemble(space, r, evaluated, monitor)
	if err != nil {
		return nil, err
	}
	result.Incomplete = incomplete
	result.Metadata.StartedAt = started.UTC()
	result.Metadata.Duration = time.Since(started)

	s.logger.Info().
		Int("evaluated", evaluated).
		Int("failures", failed).
		Bool("converged", result.Converged).
		Bool("incomplete", incomplete).
		Dur("duration", result.Metadata.Duration).
		Msg("simulation finished")
	return result, nil
}

// checkpoints returns the draw counts after which convergence is assessed.
// At most n counts are returned however small fraction is.
func checkpoints(n int, fraction float64) []int {
	step := fraction * float64(n)
	var out []int
	for k := 1.0; ; k++ {
		end := max(int(math.Ceil(k*step-1e-9)), 1)
		if end >= n {
			return append(out, n)
		}
		if len(out) == 0 || end > out[len(out)-1] {
			out = append(out, end)
		}
		// jump to the last multiple of step that still rounds to end
		if last := math.Floor((float64(end) + 1e-9) / step); last > k {
			k = last
		}
	}
}

// evaluateRange evaluates draws [start, end) in ChunkSize pieces on at most
// Parallelism goroutines.
func (s *Simulator) evaluateRange(ctx context.Context, r *run, start, end int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallelism)
	for lo := start; lo < end; lo += r.opts.ChunkSize {
		hi := min(lo+r.opts.ChunkSize, end)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if gctx.Err() != nil {
					return nil
				}
				if !s.evaluateDraw(r, i) {
					if r.failures.Add(1) > r.limit {
						return errFailureLimit
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// evaluateDraw runs the risk function on draw i and reports whether it succeeded.
func (s *Simulator) evaluateDraw(r *run, i int) bool {
	var stream *rand.Rand
	if r.risk.Stochastic != nil {
		stream = s.rng.Stream(r.opts.Seed, "draw", i)
	}
	x := append([]float64(nil), r.plan.points[i]...)
	out, err := callRisk(r.risk, x, stream)
	if err == nil && len(out) != len(r.outputs) {
		err = fmt.Errorf("risk function returned %d outputs, want %d", len(out), len(r.outputs))
	}
	if err == nil {
		for k, v := range out {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				err = fmt.Errorf("output %s is %v", r.risk.Outputs[k], v)
				break
			}
		}
	}

	r.done[i] = true
	if err != nil {
		r.errs[i] = err.Error()
		return false
	}
	for k, v := range out {
		r.outputs[k][i] = v
	}
	return true
}

func callRisk(risk ports.RiskFunction, x []float64, stream *rand.Rand) (out []float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("risk function panicked: %v", rec)
		}
	}()
	return risk.Call(x, stream)
}

func completedPrefix(done []bool, from int) int {
	i := from
	for i < len(done) && done[i] {
		i++
	}
	return i
}

func (s *Simulator) failureError(r *run, upTo int) error {
	var failures []core.FailedDraw
	evaluated := 0
	for i := 0; i < len(r.done); i++ {
		if !r.done[i] {
			continue
		}
		evaluated++
		if r.errs[i] != "" {
			failures = append(failures, core.FailedDraw{
				Index:  i,
				Values: append([]float64(nil), r.plan.points[i]...),
				Error:  r.errs[i],
			})
		}
	}
	sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })
	err := &core.SimulationFailureError{
		Rate:      float64(len(failures)) / float64(max(evaluated, 1)),
		Threshold: r.opts.FailureThreshold,
		Evaluated: evaluated,
		Failures:  failures,
	}
	s.logger.Error().
		Int("failures", len(failures)).
		Int("evaluated", evaluated).
		Int("requested", upTo).
		Float64("threshold", r.opts.FailureThreshold).
		Msg("simulation aborted")
	return err
}
