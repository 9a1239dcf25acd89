package main

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gorisk/adapters/evaluators"
	"gorisk/adapters/excel"
	"gorisk/adapters/rng"
	"gorisk/adapters/sqlite"
	"gorisk/adapters/stats/diagnostics"
	"gorisk/app"
	"gorisk/domain/core"
	"gorisk/domain/scenario"
	"gorisk/internal/config"
	"gorisk/internal/report"
	"gorisk/internal/testkit"
	"gorisk/ports"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const devDatabase = "./gorisk_dev.db"

func main() {
	rootCmd := &cobra.Command{
		Use:   "gorisk-dev",
		Short: "gorisk development tools",
	}

	rootCmd.AddCommand(
		newSeedCmd(),
		newSmokeTestCmd(),
		newDeterminismTestCmd(),
		newMigrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	return config.Load()
}

func newService(cfg *config.Config, repo ports.RunRepository) (*app.SimulationService, error) {
	engine, err := diagnostics.NewEngine(cfg.Diagnostics, zerolog.Nop())
	if err != nil {
		return nil, err
	}
	return app.NewSimulationService(
		rng.NewPCGAdapter(),
		engine,
		evaluators.NewRegistry(),
		repo,
		excel.NewExporter(excel.DefaultExportConfig()),
		app.DefaultsFromConfig(cfg),
		zerolog.Nop(),
	), nil
}

func newSeedCmd() *cobra.Command {
	var dir string
	var force bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write example scenario files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				dir = cfg.Paths.ScenarioDir
			}
			return writeSeedScenarios(dir, force)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Target directory (default SCENARIO_DIR)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	return cmd
}

func writeSeedScenarios(dir string, force bool) error {
	fmt.Printf("Writing example scenarios to %s...\n", dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	names := make([]string, 0, len(seedScenarios))
	for name := range seedScenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil && !force {
			fmt.Printf("  %s exists, skipping\n", name)
			continue
		}
		doc := strings.TrimLeft(seedScenarios[name], "\n")
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		fmt.Printf("  wrote %s\n", name)
	}
	return nil
}

func newSmokeTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run smoke tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runSmokeTests(cmd.Context(), cfg)
		},
	}
	return cmd
}

func runSmokeTests(ctx context.Context, cfg *config.Config) error {
	fmt.Println("Running smoke tests...")

	svc, err := newService(cfg, testkit.NewInMemoryRunRepository())
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	sc := testkit.BreachScenario()

	var simRun *app.SimulationRun
	tests := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"monte_carlo", func(ctx context.Context) error {
			run, err := svc.RunSimulation(ctx, sc)
			if err != nil {
				return err
			}
			if _, ok := run.Result.Summaries["expected_loss"]; !ok {
				return fmt.Errorf("no expected_loss summary")
			}
			simRun = run
			return nil
		}},
		{"mcmc", func(ctx context.Context) error {
			run, err := svc.RunMCMC(ctx, sc)
			if err != nil {
				return err
			}
			if run.Diagnostics == nil {
				return fmt.Errorf("no diagnostics")
			}
			return nil
		}},
		{"export_and_report", func(ctx context.Context) error {
			if simRun == nil {
				return fmt.Errorf("no simulation run to export")
			}
			var buf bytes.Buffer
			if err := svc.Export(ctx, simRun.Summary.ID, &buf); err != nil {
				return err
			}
			if buf.Len() == 0 {
				return fmt.Errorf("empty workbook")
			}
			_, err := svc.Report(ctx, simRun.Summary.ID, report.FormatMarkdown)
			return err
		}},
		{"sqlite_store", func(ctx context.Context) error {
			dir, err := os.MkdirTemp("", "gorisk-smoke")
			if err != nil {
				return err
			}
			defer os.RemoveAll(dir)
			db, err := sqlite.Open(ctx, filepath.Join(dir, "smoke.db"))
			if err != nil {
				return err
			}
			defer db.Close()

			stored, err := newService(cfg, sqlite.NewRunRepository(db))
			if err != nil {
				return err
			}
			run, err := stored.RunSimulation(ctx, sc)
			if err != nil {
				return err
			}
			_, err = stored.LoadRun(ctx, run.Summary.ID)
			return err
		}},
	}

	passed := 0
	for _, test := range tests {
		fmt.Printf("  Running %s...", test.name)
		if err := test.fn(ctx); err != nil {
			fmt.Printf(" FAILED: %v\n", err)
		} else {
			fmt.Println(" PASSED")
			passed++
		}
	}

	fmt.Printf("\nSmoke tests: %d/%d passed\n", passed, len(tests))
	if passed < len(tests) {
		return fmt.Errorf("some smoke tests failed")
	}

	return nil
}

func newDeterminismTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "determinism [scenario-file]",
		Short: "Check that a scenario reproduces exactly across worker counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			return testDeterminism(cmd.Context(), cfg, sc)
		},
	}
	return cmd
}

func testDeterminism(ctx context.Context, cfg *config.Config, sc *scenario.Scenario) error {
	fmt.Printf("Testing determinism for scenario %s...\n", sc.Name)

	serial := *cfg
	serial.Simulation.Parallelism = 1
	parallel := *cfg
	if parallel.Simulation.Parallelism < 2 {
		parallel.Simulation.Parallelism = 4
	}

	if sc.Simulation != nil {
		var results [2]*app.SimulationRun
		for i, c := range []*config.Config{&serial, &parallel} {
			svc, err := newService(c, nil)
			if err != nil {
				return err
			}
			fmt.Printf("  Monte Carlo with %d workers...\n", c.Simulation.Parallelism)
			if results[i], err = svc.RunSimulation(ctx, sc); err != nil {
				return fmt.Errorf("monte carlo run failed: %w", err)
			}
		}
		if err := compareSamples(results[0].Result.Samples, results[1].Result.Samples); err != nil {
			return fmt.Errorf("determinism test failed: %w", err)
		}
		for name, a := range results[0].Result.Outputs {
			b := results[1].Result.Outputs[name]
			if len(a) != len(b) {
				return fmt.Errorf("determinism test failed: output %s has %d vs %d draws", name, len(a), len(b))
			}
			for j := range a {
				if !sameFloat(a[j].Value(), b[j].Value()) {
					return fmt.Errorf("determinism test failed: output %s draw %d differs: %v vs %v", name, j, a[j], b[j])
				}
			}
		}
	}

	if sc.MCMC != nil {
		var results [2]*app.MCMCRun
		for i := range results {
			svc, err := newService(cfg, nil)
			if err != nil {
				return err
			}
			fmt.Printf("  MCMC replay %d...\n", i+1)
			if results[i], err = svc.RunMCMC(ctx, sc); err != nil {
				return fmt.Errorf("mcmc run failed: %w", err)
			}
		}
		if err := compareSamples(results[0].Result.PosteriorSamples, results[1].Result.PosteriorSamples); err != nil {
			return fmt.Errorf("determinism test failed: %w", err)
		}
	}

	fmt.Println("✓ Determinism test passed - results identical")
	return nil
}

func compareSamples(a, b map[string][]float64) error {
	if len(a) != len(b) {
		return fmt.Errorf("parameter counts differ: %d vs %d", len(a), len(b))
	}
	for name, xs := range a {
		ys, ok := b[name]
		if !ok {
			return fmt.Errorf("parameter %s missing from replay", name)
		}
		if len(xs) != len(ys) {
			return fmt.Errorf("parameter %s has %d vs %d draws", name, len(xs), len(ys))
		}
		for i := range xs {
			if !sameFloat(xs[i], ys[i]) {
				return fmt.Errorf("parameter %s draw %d differs: %v vs %v", name, i, xs[i], ys[i])
			}
		}
	}
	return nil
}

func sameFloat(a, b float64) bool {
	return math.Float64bits(a) == math.Float64bits(b) || (math.IsNaN(a) && math.IsNaN(b))
}

func newMigrateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status]",
		Short: "Manage the local SQLite run store",
		Long: `Manage the schema of the local SQLite run store.

Commands:
  up      Create the run tables
  down    Drop the run tables
  status  Show the number of stored runs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), path, args[0])
		},
	}
	cmd.Flags().StringVar(&path, "db", devDatabase, "SQLite database file")
	return cmd
}

func runMigrations(ctx context.Context, path, action string) error {
	fmt.Printf("Running migrations: %s\n", action)

	switch action {
	case "up", "status":
	case "down":
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Println("Nothing to drop")
			return nil
		}
	default:
		return fmt.Errorf("unknown migration action: %s", action)
	}

	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	switch action {
	case "down":
		if err := sqlite.Drop(ctx, db); err != nil {
			return err
		}
		fmt.Println("Dropped run tables")
	case "up":
		fmt.Printf("Schema up to date in %s\n", path)
	case "status":
		return printStatus(ctx, db, path)
	}
	return nil
}

func printStatus(ctx context.Context, db *sqlx.DB, path string) error {
	var counts []struct {
		Kind  core.RunKind `db:"kind"`
		Count int          `db:"n"`
	}
	if err := db.SelectContext(ctx, &counts, `SELECT kind, COUNT(*) AS n FROM risk_runs GROUP BY kind ORDER BY kind`); err != nil {
		return fmt.Errorf("failed to count runs: %w", err)
	}
	fmt.Printf("Database: %s\n", path)
	if len(counts) == 0 {
		fmt.Println("  no runs stored")
	}
	for _, c := range counts {
		fmt.Printf("  %-12s %d runs\n", c.Kind, c.Count)
	}
	return nil
}
