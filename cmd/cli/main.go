package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"gorisk/adapters/evaluators"
	"gorisk/adapters/excel"
	"gorisk/adapters/rng"
	"gorisk/adapters/stats/diagnostics"
	"gorisk/app"
	"gorisk/internal/config"
	"gorisk/internal/logging"
	"gorisk/internal/store"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// cliEnv is the state shared by every subcommand.
type cliEnv struct {
	cfg     *config.Config
	logger  zerolog.Logger
	closer  io.Closer
	service *app.SimulationService
}

func main() {
	env := &cliEnv{}
	var persist bool

	rootCmd := &cobra.Command{
		Use:   "gorisk",
		Short: "Monte Carlo and MCMC risk simulation",
		Long: `Run risk scenarios described in YAML or JSON files.

Runs are written to run files (--out) and, with --store, to the database
named by DATABASE_URL (PostgreSQL, or a local file with sqlite:path).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.init(cmd.Context(), persist)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if env.closer != nil {
				env.closer.Close()
			}
		},
	}
	rootCmd.PersistentFlags().BoolVar(&persist, "store", false, "Store runs in the database named by DATABASE_URL")

	rootCmd.AddCommand(
		newSimulateCmd(env),
		newMCMCCmd(env),
		newDiagnoseCmd(env),
		newReportCmd(env),
		newSensitivityCmd(env),
		newRunsCmd(env),
		newEvaluatorsCmd(env),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (e *cliEnv) init(ctx context.Context, persist bool) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.logger = logging.New(logging.Config{Level: cfg.Logging.Level, Pretty: true, Output: os.Stderr})

	if persist && cfg.Database.URL == "" {
		return fmt.Errorf("--store needs DATABASE_URL")
	}
	dbCfg := cfg.Database
	if !persist {
		dbCfg.URL = ""
	}
	repo, closer, err := store.Open(ctx, dbCfg, e.logger)
	if err != nil {
		return err
	}
	e.closer = closer

	engine, err := diagnostics.NewEngine(cfg.Diagnostics, e.logger)
	if err != nil {
		return err
	}
	e.service = app.NewSimulationService(
		rng.NewPCGAdapter(),
		engine,
		evaluators.NewRegistry(),
		repo,
		excel.NewExporter(excel.DefaultExportConfig()),
		app.DefaultsFromConfig(cfg),
		e.logger,
	)
	return nil
}
