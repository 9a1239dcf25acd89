// Package sqlite stores runs in a local SQLite file, for development and
// single-user use without a PostgreSQL server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorisk/domain/core"
	"gorisk/domain/simulation"
	"gorisk/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS risk_runs (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL CHECK (kind IN ('monte_carlo', 'mcmc')),
	scenario_name TEXT NOT NULL DEFAULT '',
	scenario_hash TEXT NOT NULL DEFAULT '',
	seed          INTEGER NOT NULL,
	converged     BOOLEAN NOT NULL DEFAULT 0,
	incomplete    BOOLEAN NOT NULL DEFAULT 0,
	result        TEXT NOT NULL,
	diagnostics   TEXT,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_risk_runs_created_at ON risk_runs (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_risk_runs_scenario_hash ON risk_runs (scenario_hash);
`

// RunRepositoryImpl implements RunRepository on SQLite. Results and
// diagnostics are stored as JSON text.
type RunRepositoryImpl struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (creating if needed) the database file at path and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return db, nil
}

// NewRunRepository creates a run repository on an opened database
func NewRunRepository(db *sqlx.DB) ports.RunRepository {
	return &RunRepositoryImpl{db: db, now: time.Now}
}

type runRow struct {
	ports.RunSummary
	Result      string         `db:"result"`
	Diagnostics sql.NullString `db:"diagnostics"`
}

func (r *RunRepositoryImpl) SaveSimulation(ctx context.Context, summary ports.RunSummary, result *simulation.SimulationResult) error {
	summary.ID = result.RunID
	summary.Kind = core.RunKindMonteCarlo
	summary.Seed = result.Metadata.Seed
	summary.Converged = result.Converged
	summary.Incomplete = result.Incomplete
	return r.save(ctx, summary, result)
}

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			scenario_name = excluded.scenario_name,
			scenario_hash = excluded.scenario_hash,
			converged = excluded.converged,
			incomplete = excluded.incomplete,
			result = excluded.result`,
		summary.ID, summary.Kind, summary.ScenarioName, summary.ScenarioHash, summary.Seed,
		summary.Converged, summary.Incomplete, string(resultJSON), r.now().UTC())
	if err != nil {
		return fmt.Errorf("save run %s: %w", summary.ID, err)
	}
	return nil
}

func (r *RunRepositoryImpl) SaveDiagnostics(ctx context.Context, runID core.RunID, diag *simulation.ConvergenceDiagnostics) error {
	diagJSON, err := json.Marshal(diag)
	if err != nil {
		return fmt.Errorf("encode diagnostics: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE risk_runs
		SET diagnostics = ?,
			converged = CASE WHEN kind = 'mcmc' THEN ? ELSE converged END
		WHERE id = ?`, string(diagJSON), diag.Converged, runID)
	if err != nil {
		return fmt.Errorf("save diagnostics for run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NewNotFoundError("run", runID.String())
	}
	return nil
}

func (r *RunRepositoryImpl) GetSimulation(ctx context.Context, runID core.RunID) (*simulation.SimulationResult, error) {
	row, err := r.get(ctx, runID, core.RunKindMonteCarlo)
	if err != nil {
		return nil, err
	}
	var result simulation.SimulationResult
	if err := json.Unmarshal([]byte(row.Result), &result); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &result, nil
}

func (r *RunRepositoryImpl) GetMCMC(ctx context.Context, runID core.RunID) (*simulation.MCMCSamplingResult, error) {
	row, err := r.get(ctx, runID, core.RunKindMCMC)
	if err != nil {
		return nil, err
	}
	var result simulation.MCMCSamplingResult
	if err := json.Unmarshal([]byte(row.Result), &result); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &result, nil
}

func (r *RunRepositoryImpl) GetDiagnostics(ctx context.Context, runID core.RunID) (*simulation.ConvergenceDiagnostics, error) {
	row, err := r.get(ctx, runID, "")
	if err != nil {
		return nil, err
	}
	if !row.Diagnostics.Valid {
		return nil, core.NewNotFoundError("diagnostics", runID.String())
	}
	var diag simulation.ConvergenceDiagnostics
	if err := json.Unmarshal([]byte(row.Diagnostics.String), &diag); err != nil {
		return nil, fmt.Errorf("decode diagnostics for run %s: %w", runID, err)
	}
	return &diag, nil
}

func (r *RunRepositoryImpl) get(ctx context.Context, runID core.RunID, kind core.RunKind) (*runRow, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, kind, scenario_name, scenario_hash, seed, converged, incomplete, created_at, result, diagnostics
		FROM risk_runs
		WHERE id = ?`, runID)
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

func (r *RunRepositoryImpl) GetSummary(ctx context.Context, runID core.RunID) (ports.RunSummary, error) {
	row, err := r.get(ctx, runID, "")
	if err != nil {
		return ports.RunSummary{}, err
	}
	return row.RunSummary, nil
}

func (r *RunRepositoryImpl) ListRuns(ctx context.Context, limit int) ([]ports.RunSummary, error) {
	query := `
		SELECT id, kind, scenario_name, scenario_hash, seed, converged, incomplete, created_at
		FROM risk_runs
		ORDER BY created_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	runs := []ports.RunSummary{}
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Drop removes the run tables. Open recreates them.
func Drop(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS risk_runs`); err != nil {
		return fmt.Errorf("drop sqlite schema: %w", err)
	}
	return nil
}
