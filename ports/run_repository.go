package ports

import (
	"context"
	"time"

	"gorisk/domain/core"
	"gorisk/domain/simulation"
)

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	ID           core.RunID        `json:"id" db:"id"`
	Kind         core.RunKind      `json:"kind" db:"kind"`
	ScenarioName string            `json:"scenario_name" db:"scenario_name"`
	ScenarioHash core.ScenarioHash `json:"scenario_hash" db:"scenario_hash"`
	Seed         int64             `json:"seed" db:"seed"`
	Converged    bool              `json:"converged" db:"converged"`
	Incomplete   bool              `json:"incomplete" db:"incomplete"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}

// RunRepository persists run results
type RunRepository interface {
	// SaveSimulation stores a Monte Carlo result
	SaveSimulation(ctx context.Context, summary RunSummary, result *simulation.SimulationResult) error

	// SaveMCMC stores an MCMC result
	SaveMCMC(ctx context.Context, summary RunSummary, result *simulation.MCMCSamplingResult) error

	// SaveDiagnostics attaches diagnostics to a stored run
	SaveDiagnostics(ctx context.Context, runID core.RunID, diag *simulation.ConvergenceDiagnostics) error

	// GetSimulation loads a Monte Carlo result
	GetSimulation(ctx context.Context, runID core.RunID) (*simulation.SimulationResult, error)

	// GetMCMC loads an MCMC result
	GetMCMC(ctx context.Context, runID core.RunID) (*simulation.MCMCSamplingResult, error)

	// GetDiagnostics loads the diagnostics attached to a run
	GetDiagnostics(ctx context.Context, runID core.RunID) (*simulation.ConvergenceDiagnostics, error)

	// GetSummary loads the listing view of one run
	GetSummary(ctx context.Context, runID core.RunID) (RunSummary, error)

	// ListRuns returns the most recent runs, newest first
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}
