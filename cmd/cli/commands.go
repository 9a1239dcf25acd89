package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"gorisk/adapters/excel"
	"gorisk/adapters/stats/diagnostics"
	"gorisk/app"
	"gorisk/domain/core"
	"gorisk/domain/scenario"
	"gorisk/domain/simulation"
	"gorisk/internal/report"

	"github.com/spf13/cobra"
)

// outputFlags are the files a run command may write.
type outputFlags struct {
	runFile      string
	workbook     string
	reportFile   string
	reportFormat string
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.runFile, "out", "", "Write the run as JSON to this file")
	cmd.Flags().StringVar(&o.workbook, "xlsx", "", "Export the run as an xlsx workbook to this file")
	cmd.Flags().StringVar(&o.reportFile, "report", "", "Write a report to this file")
	cmd.Flags().StringVar(&o.reportFormat, "report-format", "", "Report format: markdown or html (default from the file extension)")
}

func (o *outputFlags) write(ctx context.Context, env *cliEnv, run *app.StoredRun) error {
	if o.runFile != "" {
		if err := writeFile(o.runFile, func(f *os.File) error { return app.WriteRunFile(f, run) }); err != nil {
			return err
		}
	}
	if o.workbook != "" {
		if err := writeFile(o.workbook, func(f *os.File) error { return env.service.ExportRun(f, run) }); err != nil {
			return err
		}
	}
	if o.reportFile != "" {
		format, err := reportFormat(o.reportFormat, o.reportFile)
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.reportFile, env.service.ReportRun(ctx, run, format), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func reportFormat(flag, path string) (report.Format, error) {
	if flag == "" && strings.EqualFold(filepath.Ext(path), ".html") {
		return report.FormatHTML, nil
	}
	return report.ParseFormat(flag)
}

func newSimulateCmd(env *cliEnv) *cobra.Command {
	var seed int64
	var samples int
	var method string
	var out outputFlags

	cmd := &cobra.Command{
		Use:   "simulate [scenario-file]",
		Short: "Run the Monte Carlo section of a scenario",
		Long: `Draw from the scenario's parameter space and evaluate its risk function.

Example: gorisk simulate breach.yaml --samples 20000 --method lhs --out breach-run.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			if sc.Simulation == nil {
				return fmt.Errorf("%s has no simulation section", args[0])
			}
			if cmd.Flags().Changed("seed") {
				sc.Simulation.Seed = seed
			}
			if samples > 0 {
				sc.Simulation.Samples = samples
			}
			if method != "" {
				sc.Simulation.Method = method
			}

			run, err := env.service.RunSimulation(cmd.Context(), sc)
			if err != nil {
				return err
			}
			printSimulation(cmd, run)
			return out.write(cmd.Context(), env, run.Stored())
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "Override the scenario seed")
	cmd.Flags().IntVar(&samples, "samples", 0, "Override the number of draws")
	cmd.Flags().StringVar(&method, "method", "", "Override the sampling method: srs, lhs, quasi_random or stratified")
	out.register(cmd)
	return cmd
}

func newMCMCCmd(env *cliEnv) *cobra.Command {
	var seed int64
	var chains, draws, tune int
	var kernel string
	var out outputFlags

	cmd := &cobra.Command{
		Use:   "mcmc [scenario-file]",
		Short: "Sample the scenario's log density with MCMC and diagnose the chains",
		Long: `Run independent chains against the scenario's log density and report
R-hat, bulk and tail ESS, Geweke scores and divergences.

Example: gorisk mcmc breach.yaml --chains 4 --draws 2000 --kernel nuts`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			if sc.MCMC == nil {
				return fmt.Errorf("%s has no mcmc section", args[0])
			}
			if cmd.Flags().Changed("seed") {
				sc.MCMC.Seed = seed
			}
			if chains > 0 {
				sc.MCMC.Chains = chains
			}
			if draws > 0 {
				sc.MCMC.Draws = draws
			}
			if cmd.Flags().Changed("tune") {
				sc.MCMC.Tune = tune
			}
			if kernel != "" {
				sc.MCMC.Kernel = kernel
			}

			run, err := env.service.RunMCMC(cmd.Context(), sc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %s, %d chains × %d draws, acceptance %.3f, %d divergences\n",
				run.Summary.ID, run.Result.Metadata.Kernel, run.Result.NChains, run.Result.NDraws,
				run.Result.AcceptanceRate, run.Result.Divergences)
			for _, w := range run.Result.Metadata.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", w)
			}
			printDiagnostics(cmd, run.Diagnostics)
			return out.write(cmd.Context(), env, run.Stored())
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "Override the scenario seed")
	cmd.Flags().IntVar(&chains, "chains", 0, "Override the number of chains")
	cmd.Flags().IntVar(&draws, "draws", 0, "Override the draws per chain")
	cmd.Flags().IntVar(&tune, "tune", 0, "Override the tuning steps per chain; negative disables tuning")
	cmd.Flags().StringVar(&kernel, "kernel", "", "Override the kernel: auto, nuts, metropolis or slice")
	out.register(cmd)
	return cmd
}

func newDiagnoseCmd(env *cliEnv) *cobra.Command {
	var runID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "diagnose [file...]",
		Short: "Compute convergence diagnostics for chains",
		Long: `Diagnose one of:
- an xlsx workbook with one sheet per chain (for example a chain export),
- an MCMC run file,
- several Monte Carlo run files of the same scenario, treated as chains,
- a stored MCMC run (--run, needs --store); its diagnostics are recomputed and saved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			diag, err := diagnoseInputs(cmd, env, runID, args)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(diag)
			}
			printDiagnostics(cmd, diag)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Diagnose a stored run by ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print diagnostics as JSON")
	return cmd
}

func diagnoseInputs(cmd *cobra.Command, env *cliEnv, runID string, files []string) (*simulation.ConvergenceDiagnostics, error) {
	if runID != "" {
		if len(files) > 0 {
			return nil, fmt.Errorf("use either --run or files, not both")
		}
		id, err := core.ParseRunID(runID)
		if err != nil {
			return nil, err
		}
		return env.service.DiagnoseRun(cmd.Context(), id)
	}

	switch {
	case len(files) == 0:
		return nil, fmt.Errorf("nothing to diagnose: pass files or --run")
	case len(files) == 1 && strings.EqualFold(filepath.Ext(files[0]), ".xlsx"):
		f, err := os.Open(files[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		names, chains, err := excel.ReadChains(f)
		if err != nil {
			return nil, err
		}
		return env.service.DiagnoseChains(names, chains)
	case len(files) == 1:
		run, err := readRunFile(files[0])
		if err != nil {
			return nil, err
		}
		return env.service.DiagnoseStored(run)
	}

	results := make([]*simulation.SimulationResult, 0, len(files))
	for _, path := range files {
		run, err := readRunFile(path)
		if err != nil {
			return nil, err
		}
		if run.Simulation == nil {
			return nil, fmt.Errorf("%s is not a Monte Carlo run; only Monte Carlo runs combine into chains", path)
		}
		results = append(results, run.Simulation)
	}
	names, chains, err := diagnostics.ChainsFromSimulations(results)
	if err != nil {
		return nil, err
	}
	return env.service.DiagnoseChains(names, chains)
}

func readRunFile(path string) (*app.StoredRun, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	run, err := app.ReadRunFile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return run, nil
}

func newReportCmd(env *cliEnv) *cobra.Command {
	var runID, format, outPath string

	cmd := &cobra.Command{
		Use:   "report [run-file]",
		Short: "Render a Markdown or HTML report for a run",
		Long: `Render a report from a run file, or from a stored run with --run (needs --store).

Example: gorisk report breach-run.json --format html --out breach.html`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run *app.StoredRun
			var err error
			switch {
			case runID != "" && len(args) == 0:
				id, perr := core.ParseRunID(runID)
				if perr != nil {
					return perr
				}
				run, err = env.service.LoadRun(cmd.Context(), id)
			case runID == "" && len(args) == 1:
				run, err = readRunFile(args[0])
			default:
				return fmt.Errorf("pass either a run file or --run")
			}
			if err != nil {
				return err
			}

			f, err := reportFormat(format, outPath)
			if err != nil {
				return err
			}
			body := env.service.ReportRun(cmd.Context(), run, f)
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			return os.WriteFile(outPath, body, 0o644)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Report on a stored run by ID")
	cmd.Flags().StringVar(&format, "format", "", "markdown or html (default from the --out extension, else markdown)")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the report to this file instead of stdout")
	return cmd
}

func newSensitivityCmd(env *cliEnv) *cobra.Command {
	var runID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sensitivity [run-file]",
		Short: "Rank the parameters driving each output of a Monte Carlo run",
		Long: `Compute Spearman rank correlation and mutual information between every
sampled parameter and every output, from a run file or a stored run (--run, needs --store).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sens *simulation.SensitivityReport
			switch {
			case runID != "" && len(args) == 0:
				id, err := core.ParseRunID(runID)
				if err != nil {
					return err
				}
				if sens, err = env.service.Sensitivity(cmd.Context(), id); err != nil {
					return err
				}
			case runID == "" && len(args) == 1:
				run, err := readRunFile(args[0])
				if err != nil {
					return err
				}
				if sens, err = env.service.SensitivityRun(cmd.Context(), run); err != nil {
					return err
				}
			default:
				return fmt.Errorf("pass either a run file or --run")
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sens)
			}
			printSensitivity(cmd, sens)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Analyse a stored run by ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the analysis as JSON")
	return cmd
}

func newRunsCmd(env *cliEnv) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first (needs --store)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := env.service.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tSCENARIO\tSEED\tCONVERGED\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\n", r.ID, r.Kind, r.ScenarioName, r.Seed, r.Converged,
					r.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func newEvaluatorsCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluators",
		Short: "List the built-in risk functions and log densities",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			risk, densities := env.service.Evaluators()
			fmt.Fprintf(cmd.OutOrStdout(), "risk functions: %s\n", strings.Join(risk, ", "))
			fmt.Fprintf(cmd.OutOrStdout(), "log densities:  %s\n", strings.Join(densities, ", "))
		},
	}
}

func printSimulation(cmd *cobra.Command, run *app.SimulationRun) {
	r := run.Result
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s, %d of %d draws evaluated, %d failures, converged %t\n",
		run.Summary.ID, r.Method, r.Metadata.EvaluatedSamples, r.Metadata.RequestedSamples, len(r.Failures), r.Converged)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTPUT\tMEAN\tSTD ERR\tP05\tMEDIAN\tP95\tP99")
	for _, name := range r.OutputNames {
		s := r.Summaries[name]
		fmt.Fprintf(tw, "%s\t%.4g\t%.4g\t%.4g\t%.4g\t%.4g\t%.4g\n", name,
			s.Mean.Value(), s.StdError.Value(), s.P05.Value(), s.Median.Value(), s.P95.Value(), s.P99.Value())
	}
	tw.Flush()
}

func printDiagnostics(cmd *cobra.Command, d *simulation.ConvergenceDiagnostics) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d chains × %d draws, converged %t\n", d.NChains, d.NDraws, d.Converged)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAMETER\tMEAN\tSD\tR-HAT\tESS BULK\tESS TAIL\tGEWEKE Z")
	for _, p := range d.Parameters {
		fmt.Fprintf(tw, "%s\t%.4g\t%.4g\t%.4f\t%.0f\t%.0f\t%.2f\n", p.Name,
			p.Mean.Value(), p.StdDev.Value(), p.RHat.Value(), p.ESSBulk.Value(), p.ESSTail.Value(), p.GewekeZ.Value())
	}
	tw.Flush()
	for _, w := range d.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
}

func printSensitivity(cmd *cobra.Command, r *simulation.SensitivityReport) {
	out := cmd.OutOrStdout()
	for _, o := range r.Outputs {
		fmt.Fprintf(out, "%s (%d draws)\n", o.Output, o.Draws)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprint(tw, "PARAMETER")
		for _, m := range r.Measures {
			fmt.Fprintf(tw, "\t%s\tP", strings.ToUpper(m))
		}
		fmt.Fprintln(tw, "\tSIGNAL")
		for _, p := range o.Parameters {
			fmt.Fprint(tw, p.Parameter)
			signal := ""
			for _, name := range r.Measures {
				m, _ := p.Measure(name)
				fmt.Fprintf(tw, "\t%.3f\t%.3g", m.Effect.Value(), m.PValue.Value())
				if signal == "" {
					signal = m.Signal
				}
			}
			fmt.Fprintf(tw, "\t%s\n", signal)
		}
		tw.Flush()
	}
}
