package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"gorisk/adapters/stats/diagnostics"
	"gorisk/adapters/stats/mcmc"
	"gorisk/adapters/stats/montecarlo"
	"gorisk/adapters/stats/sensitivity"
	"gorisk/domain/core"
	"gorisk/domain/paramspace"
	"gorisk/domain/scenario"
	"gorisk/domain/simulation"
	"gorisk/internal/config"
	"gorisk/internal/errors"
	"gorisk/internal/report"
	"gorisk/ports"

	"github.com/rs/zerolog"
)

// Defaults are the run settings a scenario does not choose itself.
type Defaults struct {
	Simulation config.SimulationConfig
	MCMC       config.MCMCConfig
}

// DefaultsFromConfig extracts run defaults from the application configuration.
func DefaultsFromConfig(cfg *config.Config) Defaults {
	return Defaults{Simulation: cfg.Simulation, MCMC: cfg.MCMC}
}

// SimulationService runs scenarios end to end: build the space, resolve the
// evaluator, run, diagnose, persist.
type SimulationService struct {
	simulator   *montecarlo.Simulator
	sampler     *mcmc.Sampler
	diagnoser   *diagnostics.Engine
	sensitivity *sensitivity.Engine
	registry    ports.EvaluatorRegistry
	repo        ports.RunRepository
	exporter    ports.ResultExporter
	reports     *report.Generator
	defaults    Defaults
	events      EventBroadcaster
	logger      zerolog.Logger
}

// NewSimulationService wires the service. repo and exporter may be nil, which
// disables persistence and export.
func NewSimulationService(
	rng ports.RNGPort,
	diagnoser *diagnostics.Engine,
	registry ports.EvaluatorRegistry,
	repo ports.RunRepository,
	exporter ports.ResultExporter,
	defaults Defaults,
	logger zerolog.Logger,
	opts ...ServiceOption,
) *SimulationService {
	s := &SimulationService{
		simulator:   montecarlo.NewSimulator(rng, logger),
		sampler:     mcmc.NewSampler(rng, logger),
		diagnoser:   diagnoser,
		sensitivity: sensitivity.NewEngine(rng, logger),
		registry:    registry,
		repo:        repo,
		exporter:    exporter,
		reports:     report.NewGenerator(),
		defaults:    defaults,
		events:      noopBroadcaster{},
		logger:      logger.With().Str("component", "simulation_service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SimulationRun is a finished Monte Carlo run and its stored summary.
type SimulationRun struct {
	Summary ports.RunSummary             `json:"summary"`
	Result  *simulation.SimulationResult `json:"result"`
}

// MCMCRun is a finished MCMC run with its diagnostics.
type MCMCRun struct {
	Summary     ports.RunSummary                   `json:"summary"`
	Result      *simulation.MCMCSamplingResult     `json:"result"`
	Diagnostics *simulation.ConvergenceDiagnostics `json:"diagnostics"`
}

// Persistent reports whether runs are stored.
func (s *SimulationService) Persistent() bool { return s.repo != nil }

// Evaluators lists the named risk functions and log densities scenarios can use.
func (s *SimulationService) Evaluators() (riskFunctions, logDensities []string) {
	return s.registry.RiskFunctions(), s.registry.LogDensities()
}

// RunSimulation runs the scenario's Monte Carlo section.
func (s *SimulationService) RunSimulation(ctx context.Context, sc *scenario.Scenario) (*SimulationRun, error) {
	s.emit(EventRunStarted, core.RunKindMonteCarlo, sc.Name, "", nil)
	run, err := s.runSimulation(ctx, sc)
	if err != nil {
		s.emit(EventRunFailed, core.RunKindMonteCarlo, sc.Name, "", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	s.emit(EventRunFinished, core.RunKindMonteCarlo, sc.Name, run.Summary.ID, map[string]interface{}{
		"converged":  run.Result.Converged,
		"incomplete": run.Result.Incomplete,
		"evaluated":  run.Result.Metadata.EvaluatedSamples,
	})
	return run, nil
}

func (s *SimulationService) runSimulation(ctx context.Context, sc *scenario.Scenario) (*SimulationRun, error) {
	if sc.Simulation == nil {
		return nil, core.NewValidationError("simulation", "scenario has no simulation section")
	}
	space, err := sc.Space()
	if err != nil {
		return nil, err
	}
	risk, err := s.registry.RiskFunction(sc.Simulation.RiskFunction, space)
	if err != nil {
		return nil, err
	}
	opts, err := s.simulationOptions(sc, space)
	if err != nil {
		return nil, err
	}

	result, err := s.simulator.Simulate(ctx, space, risk, opts)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	run := &SimulationRun{Summary: s.summary(sc, core.RunKindMonteCarlo, result.RunID, result.Metadata.Seed), Result: result}
	run.Summary.Converged = result.Converged
	run.Summary.Incomplete = result.Incomplete
	s.logger.Info().
		Str("scenario", sc.Name).
		Str("run_id", result.RunID.String()).
		Int("evaluated", result.Metadata.EvaluatedSamples).
		Bool("converged", result.Converged).
		Msg("simulation finished")

	if s.repo != nil {
		if err := s.repo.SaveSimulation(ctx, run.Summary, result); err != nil {
			return nil, errors.DatabaseError(err, "failed to store simulation")
		}
	}
	return run, nil
}

func (s *SimulationService) simulationOptions(sc *scenario.Scenario, space *paramspace.ParameterSpace) (montecarlo.Options, error) {
	spec := sc.Simulation
	d := s.defaults.Simulation
	opts := montecarlo.Options{
		Samples:            spec.Samples,
		Seed:               spec.Seed,
		Parallelism:        d.Parallelism,
		ChunkSize:          d.ChunkSize,
		Tolerance:          d.ConvergenceTolerance,
		CheckpointFraction: d.CheckpointFraction,
		EarlyStop:          spec.EarlyStop,
		FailureThreshold:   d.FailureThreshold,
		Allocation:         simulation.Allocation(spec.Allocation),
	}
	if spec.Tolerance > 0 {
		opts.Tolerance = spec.Tolerance
	}
	// An explicit zero in the scenario means no failures are tolerated.
	if spec.FailureThreshold != nil {
		opts.FailureThreshold = *spec.FailureThreshold
		if opts.FailureThreshold == 0 {
			opts.FailureThreshold = -1
		}
	}

	strata, err := sc.Strata(space)
	if err != nil {
		return opts, err
	}
	opts.Strata = strata
	switch {
	case spec.Method != "":
		if opts.Method, err = paramspace.ParseSamplingMethod(spec.Method); err != nil {
			return opts, err
		}
	case len(strata) > 0:
		opts.Method = paramspace.MethodStratified
	default:
		opts.Method = paramspace.MethodSRS
	}
	return opts, nil
}

// RunMCMC runs the scenario's MCMC section and diagnoses the chains.
func (s *SimulationService) RunMCMC(ctx context.Context, sc *scenario.Scenario) (*MCMCRun, error) {
	s.emit(EventRunStarted, core.RunKindMCMC, sc.Name, "", nil)
	run, err := s.runMCMC(ctx, sc)
	if err != nil {
		s.emit(EventRunFailed, core.RunKindMCMC, sc.Name, "", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	s.emit(EventRunFinished, core.RunKindMCMC, sc.Name, run.Summary.ID, map[string]interface{}{
		"converged":   run.Diagnostics.Converged,
		"incomplete":  run.Result.Incomplete,
		"divergences": run.Result.Divergences,
	})
	return run, nil
}

func (s *SimulationService) runMCMC(ctx context.Context, sc *scenario.Scenario) (*MCMCRun, error) {
	if sc.MCMC == nil {
		return nil, core.NewValidationError("mcmc", "scenario has no mcmc section")
	}
	space, err := sc.Space()
	if err != nil {
		return nil, err
	}
	density, err := s.registry.LogDensity(sc.MCMC.LogDensity, space)
	if err != nil {
		return nil, err
	}
	cfg, err := s.mcmcConfig(sc.MCMC)
	if err != nil {
		return nil, err
	}

	result, err := s.sampler.Sample(ctx, space, density, cfg)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	diag, err := s.diagnoser.Diagnose(result)
	if err != nil {
		return nil, err
	}
	run := &MCMCRun{Summary: s.summary(sc, core.RunKindMCMC, result.RunID, result.Metadata.Seed), Result: result, Diagnostics: diag}
	run.Summary.Converged = diag.Converged
	run.Summary.Incomplete = result.Incomplete
	s.logger.Info().
		Str("scenario", sc.Name).
		Str("run_id", result.RunID.String()).
		Str("kernel", string(result.Metadata.Kernel)).
		Int("divergences", result.Divergences).
		Bool("converged", diag.Converged).
		Msg("mcmc sampling finished")

	if s.repo != nil {
		if err := s.repo.SaveMCMC(ctx, run.Summary, result); err != nil {
			return nil, errors.DatabaseError(err, "failed to store mcmc run")
		}
		if err := s.repo.SaveDiagnostics(ctx, result.RunID, diag); err != nil {
			return nil, errors.DatabaseError(err, "failed to store diagnostics")
		}
	}
	return run, nil
}

func (s *SimulationService) mcmcConfig(spec *scenario.MCMCSpec) (mcmc.Config, error) {
	d := s.defaults.MCMC
	kernel, err := simulation.ParseKernelType(spec.Kernel)
	if err != nil {
		return mcmc.Config{}, err
	}
	cfg := mcmc.Config{
		Chains:       firstPositive(spec.Chains, d.Chains),
		Draws:        firstPositive(spec.Draws, d.Draws),
		Tune:         firstPositive(spec.Tune, d.Tune),
		TargetAccept: d.TargetAccept,
		MaxTreeDepth: firstPositive(spec.MaxTreeDepth, d.MaxTreeDepth),
		Seed:         spec.Seed,
		Kernel:       kernel,
		Parallelism:  s.defaults.Simulation.Parallelism,
		InitAttempts: d.InitAttempts,
		InitialPoint: spec.InitialPoint,
	}
	if spec.TargetAccept > 0 {
		cfg.TargetAccept = spec.TargetAccept
	}
	if spec.Tune < 0 {
		cfg.Tune = -1
	}
	return cfg, nil
}

func firstPositive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (s *SimulationService) summary(sc *scenario.Scenario, kind core.RunKind, id core.RunID, seed int64) ports.RunSummary {
	return ports.RunSummary{
		ID:           id,
		Kind:         kind,
		ScenarioName: sc.Name,
		ScenarioHash: sc.Fingerprint(),
		Seed:         seed,
		CreatedAt:    time.Now().UTC(),
	}
}

// DiagnoseChains diagnoses draws that did not come from this service.
func (s *SimulationService) DiagnoseChains(names []string, chains [][][]float64) (*simulation.ConvergenceDiagnostics, error) {
	return s.diagnoser.DiagnoseChains(names, chains)
}

// DiagnoseRun recomputes and stores the diagnostics of a stored MCMC run.
func (s *SimulationService) DiagnoseRun(ctx context.Context, runID core.RunID) (*simulation.ConvergenceDiagnostics, error) {
	if err := s.requireRepo(); err != nil {
		return nil, err
	}
	result, err := s.repo.GetMCMC(ctx, runID)
	if err != nil {
		return nil, err
	}
	diag, err := s.diagnoser.Diagnose(result)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveDiagnostics(ctx, runID, diag); err != nil {
		return nil, errors.DatabaseError(err, "failed to store diagnostics")
	}
	return diag, nil
}

// DiagnoseSimulations treats stored Monte Carlo runs as chains, for example the
// same scenario run under several seeds.
func (s *SimulationService) DiagnoseSimulations(ctx context.Context, runIDs []core.RunID) (*simulation.ConvergenceDiagnostics, error) {
	if err := s.requireRepo(); err != nil {
		return nil, err
	}
	results := make([]*simulation.SimulationResult, 0, len(runIDs))
	for _, id := range runIDs {
		r, err := s.repo.GetSimulation(ctx, id)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	names, chains, err := diagnostics.ChainsFromSimulations(results)
	if err != nil {
		return nil, err
	}
	return s.diagnoser.DiagnoseChains(names, chains)
}

// ListRuns returns the most recent stored runs.
func (s *SimulationService) ListRuns(ctx context.Context, limit int) ([]ports.RunSummary, error) {
	if err := s.requireRepo(); err != nil {
		return nil, err
	}
	return s.repo.ListRuns(ctx, limit)
}

// GetSimulation loads a stored Monte Carlo run.
func (s *SimulationService) GetSimulation(ctx context.Context, runID core.RunID) (*simulation.SimulationResult, error) {
	if err := s.requireRepo(); err != nil {
		return nil, err
	}
	return s.repo.GetSimulation(ctx, runID)
}

// GetMCMC loads a stored MCMC run and its diagnostics, if any.
func (s *SimulationService) GetMCMC(ctx context.Context, runID core.RunID) (*simulation.MCMCSamplingResult, *simulation.ConvergenceDiagnostics, error) {
	if err := s.requireRepo(); err != nil {
		return nil, nil, err
	}
	result, err := s.repo.GetMCMC(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	diag, err := s.repo.GetDiagnostics(ctx, runID)
	if err != nil && !core.IsNotFoundError(err) {
		return nil, nil, err
	}
	return result, diag, nil
}

// LoadRun loads a stored run of either kind.
func (s *SimulationService) LoadRun(ctx context.Context, runID core.RunID) (*StoredRun, error) {
	if err := s.requireRepo(); err != nil {
		return nil, err
	}
	summary, err := s.repo.GetSummary(ctx, runID)
	if err != nil {
		return nil, err
	}
	run := &StoredRun{Summary: summary}
	switch summary.Kind {
	case core.RunKindMonteCarlo:
		run.Simulation, err = s.repo.GetSimulation(ctx, runID)
	case core.RunKindMCMC:
		run.MCMC, run.Diagnostics, err = s.GetMCMC(ctx, runID)
	default:
		err = fmt.Errorf("run %s has unknown kind %q", runID, summary.Kind)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Import stores a run read from a run file. MCMC runs without diagnostics are
// diagnosed first.
func (s *SimulationService) Import(ctx context.Context, run *StoredRun) error {
	if err := s.requireRepo(); err != nil {
		return err
	}
	if err := run.Validate(); err != nil {
		return err
	}
	if run.Simulation != nil {
		if err := s.repo.SaveSimulation(ctx, run.Summary, run.Simulation); err != nil {
			return errors.DatabaseError(err, "failed to import simulation")
		}
		return nil
	}
	if run.Diagnostics == nil {
		diag, err := s.diagnoser.Diagnose(run.MCMC)
		if err != nil {
			return err
		}
		run.Diagnostics = diag
	}
	if err := s.repo.SaveMCMC(ctx, run.Summary, run.MCMC); err != nil {
		return errors.DatabaseError(err, "failed to import mcmc run")
	}
	if err := s.repo.SaveDiagnostics(ctx, run.Summary.ID, run.Diagnostics); err != nil {
		return errors.DatabaseError(err, "failed to import diagnostics")
	}
	return nil
}

// DiagnoseStored diagnoses a run held in memory. Monte Carlo runs are treated
// as a single chain.
func (s *SimulationService) DiagnoseStored(run *StoredRun) (*simulation.ConvergenceDiagnostics, error) {
	if run.MCMC != nil {
		return s.diagnoser.Diagnose(run.MCMC)
	}
	names, chains, err := diagnostics.ChainsFromSimulations([]*simulation.SimulationResult{run.Simulation})
	if err != nil {
		return nil, err
	}
	return s.diagnoser.DiagnoseChains(names, chains)
}

// Export writes a stored run as a workbook.
func (s *SimulationService) Export(ctx context.Context, runID core.RunID, w io.Writer) error {
	run, err := s.LoadRun(ctx, runID)
	if err != nil {
		return err
	}
	return s.ExportRun(w, run)
}

// ExportRun writes run as a workbook.
func (s *SimulationService) ExportRun(w io.Writer, run *StoredRun) error {
	if s.exporter == nil {
		return errors.ConfigInvalid("export is not configured")
	}
	if run.Simulation != nil {
		return s.exporter.ExportSimulation(w, run.Simulation)
	}
	return s.exporter.ExportMCMC(w, run.MCMC, run.Diagnostics)
}

// Report renders a stored run as Markdown or HTML.
func (s *SimulationService) Report(ctx context.Context, runID core.RunID, format report.Format) ([]byte, error) {
	run, err := s.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.ReportRun(ctx, run, format), nil
}

// ReportRun renders run as Markdown or HTML. Monte Carlo reports include the
// sensitivity of each output when it can be computed.
func (s *SimulationService) ReportRun(ctx context.Context, run *StoredRun, format report.Format) []byte {
	title := run.Summary.ScenarioName
	if title == "" {
		title = run.Summary.ID.String()
	}
	if run.Simulation != nil {
		sens, err := s.sensitivity.Analyze(ctx, run.Simulation, run.Simulation.Metadata.Seed)
		if err != nil {
			s.logger.Warn().Err(err).Str("run_id", run.Summary.ID.String()).Msg("report without sensitivity analysis")
			sens = nil
		}
		return s.reports.Simulation("Monte Carlo run: "+title, run.Simulation, sens, format)
	}
	return s.reports.MCMC("MCMC run: "+title, run.MCMC, run.Diagnostics, format)
}

// Sensitivity ranks the parameters driving each output of a stored Monte
// Carlo run.
func (s *SimulationService) Sensitivity(ctx context.Context, runID core.RunID) (*simulation.SensitivityReport, error) {
	if err := s.requireRepo(); err != nil {
		return nil, err
	}
	result, err := s.repo.GetSimulation(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.SensitivityRun(ctx, &StoredRun{Simulation: result})
}

// SensitivityRun ranks the parameters driving each output of run. Permutation
// tests use the run's seed.
func (s *SimulationService) SensitivityRun(ctx context.Context, run *StoredRun) (*simulation.SensitivityReport, error) {
	if run.Simulation == nil {
		return nil, core.NewValidationError("run", "sensitivity analysis needs a Monte Carlo run")
	}
	return s.sensitivity.Analyze(ctx, run.Simulation, run.Simulation.Metadata.Seed)
}

func (s *SimulationService) requireRepo() error {
	if s.repo == nil {
		return errors.ConfigInvalid("run persistence is disabled; set DATABASE_URL")
	}
	return nil
}
