package migration

import (
	"context"
	"fmt"

	"gorisk/internal/errors"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// migration is one forward-only schema change.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create risk_runs",
		sql: `
			CREATE TABLE IF NOT EXISTS risk_runs (
				id UUID PRIMARY KEY,
				kind VARCHAR(20) NOT NULL CHECK (kind IN ('monte_carlo', 'mcmc')),
				scenario_name TEXT NOT NULL DEFAULT '',
				scenario_hash VARCHAR(64) NOT NULL DEFAULT '',
				seed BIGINT NOT NULL,
				converged BOOLEAN NOT NULL DEFAULT false,
				incomplete BOOLEAN NOT NULL DEFAULT false,
				result JSONB NOT NULL,
				diagnostics JSONB,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			)`,
	},
	{
		version: 2,
		name:    "index risk_runs",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_risk_runs_created_at ON risk_runs(created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_risk_runs_scenario_hash ON risk_runs(scenario_hash);
			CREATE INDEX IF NOT EXISTS idx_risk_runs_kind ON risk_runs(kind, created_at DESC)`,
	},
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	logger zerolog.Logger
}

// NewRunner creates a new migration runner
func NewRunner(logger zerolog.Logger) *MigrationRunner {
	return &MigrationRunner{logger: logger.With().Str("component", "migration").Logger()}
}

// Version returns the newest schema version the runner knows about
func (r *MigrationRunner) Version() string {
	return fmt.Sprintf("%03d", migrations[len(migrations)-1].version)
}

// Run applies every migration not yet recorded in schema_migrations, in order.
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`); err != nil {
		return errors.DatabaseError(err, "failed to create schema_migrations table")
	}

	var applied []int
	if err := db.SelectContext(ctx, &applied, `SELECT version FROM schema_migrations`); err != nil {
		return errors.DatabaseError(err, "failed to read applied migrations")
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, m := range pending(done) {
		if err := r.apply(ctx, db, m); err != nil {
			return errors.DatabaseError(err, fmt.Sprintf("failed to run migration %03d (%s)", m.version, m.name))
		}
		r.logger.Info().Int("version", m.version).Str("name", m.name).Msg("migration applied")
	}
	return nil
}

func (r *MigrationRunner) apply(ctx context.Context, db *sqlx.DB, m migration) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}

// pending returns the migrations whose versions are not in applied, oldest first.
func pending(applied map[int]bool) []migration {
	var out []migration
	for _, m := range migrations {
		if !applied[m.version] {
			out = append(out, m)
		}
	}
	return out
}

// Reset drops every table the migrations create.
func (r *MigrationRunner) Reset(ctx context.Context, db *sqlx.DB) error {
	for _, table := range []string{"risk_runs", "schema_migrations"} {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
			return errors.DatabaseError(err, fmt.Sprintf("failed to drop table %s", table))
		}
		r.logger.Warn().Str("table", table).Msg("table dropped")
	}
	return nil
}
