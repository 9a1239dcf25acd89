package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gorisk/domain/core"
	"gorisk/domain/simulation"
	"gorisk/ports"

	"github.com/jmoiron/sqlx"
)

// RunRepositoryImpl implements RunRepository for PostgreSQL. Results and
// diagnostics are stored as JSONB next to the indexed summary columns.
type RunRepositoryImpl struct {
	db *sqlx.DB
}

// NewRunRepository creates a new PostgreSQL run repository
func NewRunRepository(db *sqlx.DB) ports.RunRepository {
	return &RunRepositoryImpl{db: db}
}

// runRow is one row of risk_runs.
type runRow struct {
	ports.RunSummary
	Result      []byte `db:"result"`
	Diagnostics []byte `db:"diagnostics"`
}

// SaveSimulation stores a Monte Carlo result
func (r *RunRepositoryImpl) SaveSimulation(ctx context.Context, summary ports.RunSummary, result *simulation.SimulationResult) error {
	summary.ID = result.RunID
	summary.Kind = core.RunKindMonteCarlo
	summary.Seed = result.Metadata.Seed
	summary.Converged = result.Converged
	summary.Incomplete = result.Incomplete
	return r.save(ctx, summary, result)
}

// SaveMCMC stores an MCMC result
func (r *RunRepositoryImpl) SaveMCMC(ctx context.Context, summary ports.RunSummary, result *simulation.MCMCSamplingResult) error {
	summary.ID = result.RunID
	summary.Kind = core.RunKindMCMC
	summary.Seed = result.Metadata.Seed
	summary.Incomplete = result.Incomplete
	return r.save(ctx, summary, result)
}

func (r *RunRepositoryImpl) save(ctx context.Context, summary ports.RunSummary, result interface{}) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode %s result: %w", summary.Kind, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO risk_runs (id, kind, scenario_name, scenario_hash, seed, converged, incomplete, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			scenario_name = EXCLUDED.scenario_name,
			scenario_hash = EXCLUDED.scenario_hash,
			converged = EXCLUDED.converged,
			incomplete = EXCLUDED.incomplete,
			result = EXCLUDED.result`,
		summary.ID, summary.Kind, summary.ScenarioName, summary.ScenarioHash, summary.Seed,
		summary.Converged, summary.Incomplete, resultJSON)
	if err != nil {
		return fmt.Errorf("save run %s: %w", summary.ID, err)
	}
	return nil
}

// SaveDiagnostics attaches diagnostics to a stored run. An MCMC run counts as
// converged once its diagnostics say so.
func (r *RunRepositoryImpl) SaveDiagnostics(ctx context.Context, runID core.RunID, diag *simulation.ConvergenceDiagnostics) error {
	diagJSON, err := json.Marshal(diag)
	if err != nil {
		return fmt.Errorf("encode diagnostics: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE risk_runs
		SET diagnostics = $2,
			converged = CASE WHEN kind = 'mcmc' THEN $3 ELSE converged END
		WHERE id = $1`, runID, diagJSON, diag.Converged)
	if err != nil {
		return fmt.Errorf("save diagnostics for run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NewNotFoundError("run", runID.String())
	}
	return nil
}

// GetSimulation loads a Monte Carlo result
func (r *RunRepositoryImpl) GetSimulation(ctx context.Context, runID core.RunID) (*simulation.SimulationResult, error) {
	row, err := r.get(ctx, runID, core.RunKindMonteCarlo)
	if err != nil {
		return nil, err
	}
	var result simulation.SimulationResult
	if err := json.Unmarshal(row.Result, &result); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &result, nil
}

// GetMCMC loads an MCMC result
func (r *RunRepositoryImpl) GetMCMC(ctx context.Context, runID core.RunID) (*simulation.MCMCSamplingResult, error) {
	row, err := r.get(ctx, runID, core.RunKindMCMC)
	if err != nil {
		return nil, err
	}
	var result simulation.MCMCSamplingResult
	if err := json.Unmarshal(row.Result, &result); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &result, nil
}

// GetDiagnostics loads the diagnostics attached to a run
func (r *RunRepositoryImpl) GetDiagnostics(ctx context.Context, runID core.RunID) (*simulation.ConvergenceDiagnostics, error) {
	row, err := r.get(ctx, runID, "")
	if err != nil {
		return nil, err
	}
	if len(row.Diagnostics) == 0 {
		return nil, core.NewNotFoundError("diagnostics", runID.String())
	}
	var diag simulation.ConvergenceDiagnostics
	if err := json.Unmarshal(row.Diagnostics, &diag); err != nil {
		return nil, fmt.Errorf("decode diagnostics for run %s: %w", runID, err)
	}
	return &diag, nil
}

// get loads one row, optionally requiring a run kind.
func (r *RunRepositoryImpl) get(ctx context.Context, runID core.RunID, kind core.RunKind) (*runRow, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, kind, scenario_name, scenario_hash, seed, converged, incomplete, created_at, result, diagnostics
		FROM risk_runs
		WHERE id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError("run", runID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if kind != "" && row.Kind != kind {
		return nil, core.NewNotFoundError(string(kind)+" run", runID.String())
	}
	return &row, nil
}

// GetSummary loads the listing view of one run
func (r *RunRepositoryImpl) GetSummary(ctx context.Context, runID core.RunID) (ports.RunSummary, error) {
	var summary ports.RunSummary
	err := r.db.GetContext(ctx, &summary, `
		SELECT id, kind, scenario_name, scenario_hash, seed, converged, incomplete, created_at
		FROM risk_runs
		WHERE id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return summary, core.NewNotFoundError("run", runID.String())
	}
	if err != nil {
		return summary, fmt.Errorf("load run %s: %w", runID, err)
	}
	return summary, nil
}

// ListRuns returns the most recent runs, newest first
func (r *RunRepositoryImpl) ListRuns(ctx context.Context, limit int) ([]ports.RunSummary, error) {
	query := `
		SELECT id, kind, scenario_name, scenario_hash, seed, converged, incomplete, created_at
		FROM risk_runs
		ORDER BY created_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	runs := []ports.RunSummary{}
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
