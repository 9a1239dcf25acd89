package mcmc

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"
	"gorisk/domain/simulation"
	"gorisk/internal/config"
	"gorisk/ports"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Sampler runs independent MCMC chains against a caller-supplied log density.
type Sampler struct {
	rng    ports.RNGPort
	logger zerolog.Logger
}

// NewSampler creates a sampler whose chains draw from streams derived by rng.
func NewSampler(rng ports.RNGPort, logger zerolog.Logger) *Sampler {
	return &Sampler{
		rng:    rng,
		logger: logger.With().Str("component", "mcmc").Logger(),
	}
}

// chainRun is one chain's working state. Nothing in it is shared between chains.
type chainRun struct {
	index int
	rng   *rand.Rand
	start chainStart
	chain simulation.Chain
	drawn int
}

// Sample draws cfg.Draws post-tuning draws on each of cfg.Chains chains from
// the density over space. Chain c uses the stream (seed, "chain", c) so results
// do not depend on Parallelism. When ctx is cancelled every chain is cut to the
// shortest one and the result is returned with Incomplete set.
func (s *Sampler) Sample(ctx context.Context, space *paramspace.ParameterSpace, density ports.LogDensity, cfg Config) (*simulation.MCMCSamplingResult, error) {
	started := time.Now()
	if space == nil {
		return nil, core.NewValidationError("parameter_space", "parameter space is required")
	}
	if err := density.Validate(); err != nil {
		return nil, err
	}
	if err := space.Freeze(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults(config.DefaultParallelism())
	if err := cfg.validate(space.Len()); err != nil {
		return nil, err
	}
	kind, err := resolveKernel(cfg.Kernel, density)
	if err != nil {
		return nil, err
	}

	t := newTarget(space, density)
	runs := make([]*chainRun, cfg.Chains)
	for c := range runs {
		runs[c] = &chainRun{index: c, rng: s.rng.Stream(cfg.Seed, "chain", c)}
	}

	s.logger.Info().
		Str("kernel", string(kind)).
		Int("chains", cfg.Chains).
		Int("draws", cfg.Draws).
		Int("tune", cfg.Tune).
		Int64("seed", cfg.Seed).
		Str("log_density", density.Name).
		Msg("starting mcmc")

	if err := s.parallel(ctx, runs, cfg.Parallelism, func(r *chainRun) error {
		st, err := findStart(t, kind, cfg, r.rng)
		r.start = st
		return err
	}); err != nil {
		return nil, err
	}
	starts := make([]chainStart, len(runs))
	for c, r := range runs {
		starts[c] = r.start
	}
	warnings, err := shareStarts(starts)
	if err != nil {
		s.logger.Error().Err(err).Msg("no finite starting point")
		return nil, err
	}
	for _, w := range warnings {
		s.logger.Warn().Msg(w)
	}
	for c, r := range runs {
		r.start = starts[c]
	}

	if err := s.parallel(ctx, runs, cfg.Parallelism, func(r *chainRun) error {
		return s.runChain(ctx, t, kind, cfg, r)
	}); err != nil {
		return nil, err
	}

	result := assemble(space, runs, cfg)
	result.Metadata.Kernel = kind
	result.Metadata.Warnings = append(warnings, result.Metadata.Warnings...)
	result.Metadata.StartedAt = started.UTC()
	result.Metadata.Duration = time.Since(started)
	for _, ch := range result.Chains {
		if result.NDraws > 0 && ch.AcceptanceRate < lowAcceptance {
			s.logger.Warn().Int("chain", ch.Index).Float64("acceptance_rate", ch.AcceptanceRate).Msg("low acceptance rate")
		}
	}
	if result.Incomplete {
		s.logger.Warn().Int("draws", result.NDraws).Msg("mcmc cancelled, returning truncated chains")
	}
	s.logger.Info().
		Int("draws", result.NDraws).
		Float64("acceptance_rate", result.AcceptanceRate).
		Int("divergences", result.Divergences).
		Dur("duration", result.Metadata.Duration).
		Msg("mcmc finished")
	return result, nil
}

// parallel runs fn for every chain on at most limit goroutines.
func (s *Sampler) parallel(ctx context.Context, runs []*chainRun, limit int, fn func(*chainRun) error) error {
	sem := semaphore.NewWeighted(int64(limit))
	errs := make([]error, len(runs))
	var wg sync.WaitGroup
	for i, r := range runs {
		if err := sem.Acquire(context.WithoutCancel(ctx), 1); err != nil {
			return err
		}
		wg.Add(1)
		go func(i int, r *chainRun) {
			defer wg.Done()
			defer sem.Release(1)
			errs[i] = fn(r)
		}(i, r)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Sampler) runChain(ctx context.Context, t *target, kind simulation.KernelType, cfg Config, r *chainRun) error {
	k, err := newKernel(kind, t, r.start.point, cfg, r.rng)
	if err != nil {
		return err
	}
	r.chain = simulation.Chain{
		Index:        r.index,
		Draws:        make([][]float64, 0, cfg.Draws),
		Stats:        make([]simulation.StepStats, 0, cfg.Draws),
		Tune:         make([][]float64, 0, cfg.Tune),
		TuneStats:    make([]simulation.StepStats, 0, cfg.Tune),
		InitAttempts: r.start.attempts,
		BorrowedInit: r.start.borrowed,
	}

	for it := 0; it < cfg.Tune; it++ {
		if ctx.Err() != nil {
			return nil
		}
		st := k.step(r.rng, true)
		r.chain.Tune = append(r.chain.Tune, append([]float64(nil), k.position()...))
		r.chain.TuneStats = append(r.chain.TuneStats, st)
	}
	k.endTuning()
	r.chain.StepSize, r.chain.InverseMetric = k.settings()
	s.logger.Debug().
		Int("chain", r.index).
		Float64("step_size", r.chain.StepSize).
		Msg("tuning finished")

	for it := 0; it < cfg.Draws; it++ {
		if ctx.Err() != nil {
			return nil
		}
		st := k.step(r.rng, false)
		r.chain.Draws = append(r.chain.Draws, append([]float64(nil), k.position()...))
		r.chain.Stats = append(r.chain.Stats, st)
		r.drawn++
	}
	return nil
}

// assemble cuts chains to a common length and flattens their draws.
func assemble(space *paramspace.ParameterSpace, runs []*chainRun, cfg Config) *simulation.MCMCSamplingResult {
	names := space.Names()
	n := cfg.Draws
	for _, r := range runs {
		n = min(n, r.drawn)
	}

	result := &simulation.MCMCSamplingResult{
		RunID:            core.NewRunID(),
		ParameterNames:   names,
		PosteriorSamples: make(map[string][]float64, len(names)),
		NChains:          len(runs),
		NDraws:           n,
		NTune:            cfg.Tune,
		Chains:           make([]simulation.Chain, len(runs)),
		Incomplete:       n < cfg.Draws,
		Metadata: simulation.MCMCMetadata{
			TargetAccept: cfg.TargetAccept,
			MaxTreeDepth: cfg.MaxTreeDepth,
			Seed:         cfg.Seed,
			Parallelism:  cfg.Parallelism,
			InitAttempts: cfg.InitAttempts,
			SpaceHash:    space.Fingerprint(),
		},
	}
	for _, name := range names {
		result.PosteriorSamples[name] = make([]float64, 0, n*len(runs))
	}

	acceptSum := 0.0
	for c, r := range runs {
		ch := r.chain
		ch.Draws = ch.Draws[:n]
		ch.Stats = ch.Stats[:n]
		ch.Divergences = 0
		chainAccept := 0.0
		for i, st := range ch.Stats {
			chainAccept += st.AcceptProb
			if st.Diverging {
				ch.Divergences++
			}
			for j, name := range names {
				result.PosteriorSamples[name] = append(result.PosteriorSamples[name], ch.Draws[i][j])
			}
		}
		if n > 0 {
			ch.AcceptanceRate = chainAccept / float64(n)
			if ch.AcceptanceRate < lowAcceptance {
				result.Metadata.Warnings = append(result.Metadata.Warnings, fmt.Sprintf(
					"chain %d acceptance rate %.3f is below %.2f after tuning", c, ch.AcceptanceRate, lowAcceptance))
			}
		}
		acceptSum += chainAccept
		result.Divergences += ch.Divergences
		result.Chains[c] = ch
	}
	if n > 0 {
		result.AcceptanceRate = acceptSum / float64(n*len(runs))
	}
	return result
}
