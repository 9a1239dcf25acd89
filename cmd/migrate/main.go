package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"

	"gorisk/adapters/evaluators"
	"gorisk/adapters/postgres"
	"gorisk/adapters/rng"
	"gorisk/adapters/sqlite"
	"gorisk/adapters/stats/diagnostics"
	"gorisk/app"
	"gorisk/internal/config"
	"gorisk/internal/logging"
	"gorisk/internal/migration"
	"gorisk/internal/store"
	"gorisk/ports"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// migrate applies the schema and optionally imports run files written by the CLI.
//
//	migrate [-reset] [-database-url URL] [run-file-dir]
func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New(logging.Config{Output: os.Stderr})
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty, Output: os.Stderr})

	databaseURL := flag.String("database-url", cfg.Database.URL, "PostgreSQL URL, or sqlite:path for a local file")
	reset := flag.Bool("reset", false, "Drop all run tables before migrating")
	flag.Parse()

	if *databaseURL == "" {
		logger.Fatal().Msg("no database: set DATABASE_URL or -database-url")
	}

	ctx := context.Background()
	var repo ports.RunRepository
	if path, ok := store.SQLitePath(*databaseURL); ok {
		if *reset {
			logger.Fatal().Msg("-reset is not supported for sqlite; delete the file instead")
		}
		db, err := sqlite.Open(ctx, path)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open sqlite database")
		}
		defer db.Close()
		repo = sqlite.NewRunRepository(db)
		logger.Info().Str("path", path).Msg("sqlite schema up to date")
	} else {
		db, err := sqlx.ConnectContext(ctx, "postgres", *databaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		runner := migration.NewRunner(logger)
		if *reset {
			if err := runner.Reset(ctx, db); err != nil {
				logger.Fatal().Err(err).Msg("failed to reset database")
			}
		}
		if err := runner.Run(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Str("version", runner.Version()).Msg("schema up to date")
		repo = postgres.NewRunRepository(db)
	}

	if flag.NArg() == 0 {
		return
	}
	dir := flag.Arg(0)

	files, err := findRunFiles(dir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", dir).Msg("failed to find run files")
	}
	logger.Info().Int("files", len(files)).Str("dir", dir).Msg("importing run files")

	engine, err := diagnostics.NewEngine(cfg.Diagnostics, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid diagnostics thresholds")
	}
	service := app.NewSimulationService(
		rng.NewPCGAdapter(),
		engine,
		evaluators.NewRegistry(),
		repo,
		nil,
		app.DefaultsFromConfig(cfg),
		logger,
	)

	imported, skipped := 0, 0
	for _, file := range files {
		run, err := loadRunFile(file)
		if err != nil {
			logger.Warn().Err(err).Str("file", file).Msg("skipping unreadable run file")
			skipped++
			continue
		}
		if err := service.Import(ctx, run); err != nil {
			logger.Warn().Err(err).Str("file", file).Msg("failed to import run")
			skipped++
			continue
		}
		imported++
		logger.Info().Str("run_id", run.Summary.ID.String()).Str("file", filepath.Base(file)).Msg("imported run")
	}

	logger.Info().Int("imported", imported).Int("skipped", skipped).Msg("import complete")
}

func findRunFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".json") {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

func loadRunFile(path string) (*app.StoredRun, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return app.ReadRunFile(f)
}
