package testkit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorisk/domain/core"
	"gorisk/domain/scenario"
	"gorisk/domain/simulation"
	"gorisk/ports"
)

// BreachScenarioYAML is a small scenario exercising both run kinds.
const BreachScenarioYAML = `
name: data_breach
description: Annual loss from a customer data breach
parameters:
  - name: likelihood
    distribution: beta
    params: {alpha: 2, beta: 8}
  - name: impact
    distribution: lognormal
    params: {mu: 11, sigma: 0.5}
  - name: control_effectiveness
    distribution: uniform
    params: {low: 0.2, high: 0.8}
simulation:
  risk_function: expected_loss
  samples: 4000
  method: lhs
  seed: 7
mcmc:
  log_density: prior
  chains: 2
  draws: 300
  tune: 300
  seed: 11
`

// BreachScenario parses BreachScenarioYAML.
func BreachScenario() *scenario.Scenario {
	sc, err := scenario.Parse([]byte(BreachScenarioYAML), scenario.FormatYAML)
	if err != nil {
		panic(fmt.Sprintf("testkit: breach scenario: %v", err))
	}
	return sc
}

// storedRun is a run as the database would hold it, serialised.
type storedRun struct {
	summary     ports.RunSummary
	result      []byte
	diagnostics []byte
}

// InMemoryRunRepository implements RunRepository with in-memory storage. Results
// are stored as JSON so callers never share memory with the store.
type InMemoryRunRepository struct {
	runs map[core.RunID]*storedRun
	mu   sync.RWMutex
	now  func() time.Time
}

// NewInMemoryRunRepository creates an empty repository
func NewInMemoryRunRepository() *InMemoryRunRepository {
	return &InMemoryRunRepository{
		runs: make(map[core.RunID]*storedRun),
		now:  time.Now,
	}
}

func (s *InMemoryRunRepository) SaveSimulation(ctx context.Context, summary ports.RunSummary, result *simulation.SimulationResult) error {
	summary.ID = result.RunID
	summary.Kind = core.RunKindMonteCarlo
	summary.Seed = result.Metadata.Seed
	summary.Converged = result.Converged
	summary.Incomplete = result.Incomplete
	return s.save(summary, result)
}

func (s *InMemoryRunRepository) SaveMCMC(ctx context.Context, summary ports.RunSummary, result *simulation.MCMCSamplingResult) error {
	summary.ID = result.RunID
	summary.Kind = core.RunKindMCMC
	summary.Seed = result.Metadata.Seed
	summary.Incomplete = result.Incomplete
	return s.save(summary, result)
}

func (s *InMemoryRunRepository) save(summary ports.RunSummary, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.runs[summary.ID]; ok {
		summary.CreatedAt = prev.summary.CreatedAt
		prev.summary = summary
		prev.result = data
		return nil
	}
	summary.CreatedAt = s.now()
	s.runs[summary.ID] = &storedRun{summary: summary, result: data}
	return nil
}

func (s *InMemoryRunRepository) SaveDiagnostics(ctx context.Context, runID core.RunID, diag *simulation.ConvergenceDiagnostics) error {
	data, err := json.Marshal(diag)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return core.NewNotFoundError("run", runID.String())
	}
	run.diagnostics = data
	if run.summary.Kind == core.RunKindMCMC {
		run.summary.Converged = diag.Converged
	}
	return nil
}

func (s *InMemoryRunRepository) GetSimulation(ctx context.Context, runID core.RunID) (*simulation.SimulationResult, error) {
	data, err := s.result(runID, core.RunKindMonteCarlo)
	if err != nil {
		return nil, err
	}
	var result simulation.SimulationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *InMemoryRunRepository) GetMCMC(ctx context.Context, runID core.RunID) (*simulation.MCMCSamplingResult, error) {
	data, err := s.result(runID, core.RunKindMCMC)
	if err != nil {
		return nil, err
	}
	var result simulation.MCMCSamplingResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *InMemoryRunRepository) result(runID core.RunID, kind core.RunKind) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok || run.summary.Kind != kind {
		return nil, core.NewNotFoundError(string(kind)+" run", runID.String())
	}
	return run.result, nil
}

func (s *InMemoryRunRepository) GetDiagnostics(ctx context.Context, runID core.RunID) (*simulation.ConvergenceDiagnostics, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	var data []byte
	if ok {
		data = run.diagnostics
	}
	s.mu.RUnlock()
	if data == nil {
		return nil, core.NewNotFoundError("diagnostics", runID.String())
	}
	var diag simulation.ConvergenceDiagnostics
	if err := json.Unmarshal(data, &diag); err != nil {
		return nil, err
	}
	return &diag, nil
}

func (s *InMemoryRunRepository) GetSummary(ctx context.Context, runID core.RunID) (ports.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return ports.RunSummary{}, core.NewNotFoundError("run", runID.String())
	}
	return run.summary, nil
}

func (s *InMemoryRunRepository) ListRuns(ctx context.Context, limit int) ([]ports.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]ports.RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run.summary)
	}
	// Run IDs are time-ordered and break ties between equal timestamps.
	sort.Slice(runs, func(a, b int) bool {
		if !runs[a].CreatedAt.Equal(runs[b].CreatedAt) {
			return runs[a].CreatedAt.After(runs[b].CreatedAt)
		}
		return runs[a].ID > runs[b].ID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
