// Package store opens the run repository named by DATABASE_URL.
package store

import (
	"context"
	"io"
	"strings"

	"gorisk/adapters/postgres"
	"gorisk/adapters/sqlite"
	"gorisk/internal/config"
	"gorisk/internal/errors"
	"gorisk/internal/migration"
	"gorisk/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Open connects to the configured database and brings its schema up to date.
// URLs starting with "sqlite:" open a local SQLite file; anything else is
// handed to the PostgreSQL driver. An empty URL returns a nil repository.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (ports.RunRepository, io.Closer, error) {
	if cfg.URL == "" {
		return nil, nil, nil
	}

	if path, ok := SQLitePath(cfg.URL); ok {
		db, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, nil, errors.DatabaseError(err, "open sqlite run store")
		}
		logger.Info().Str("path", path).Msg("using sqlite run store")
		return sqlite.NewRunRepository(db), db, nil
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URL)
	if err != nil {
		return nil, nil, errors.DatabaseError(err, "connect to database")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := migration.NewRunner(logger).Run(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return postgres.NewRunRepository(db), db, nil
}

// SQLitePath extracts the file path from a sqlite: URL.
func SQLitePath(url string) (string, bool) {
	for _, prefix := range []string{"sqlite://", "sqlite:"} {
		if strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix), true
		}
	}
	return "", false
}
