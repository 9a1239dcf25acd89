package app

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"gorisk/adapters/evaluators"
	"gorisk/adapters/excel"
	"gorisk/adapters/rng"
	"gorisk/adapters/stats/diagnostics"
	"gorisk/domain/core"
	"gorisk/domain/simulation"
	"gorisk/internal/errors"
	"gorisk/internal/report"
	"gorisk/internal/testkit"
	"gorisk/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, repo ports.RunRepository) *SimulationService {
	t.Helper()
	engine, err := diagnostics.NewEngine(simulation.DefaultThresholds(), zerolog.Nop())
	require.NoError(t, err)
	return NewSimulationService(
		rng.NewPCGAdapter(),
		engine,
		evaluators.NewRegistry(),
		repo,
		excel.NewExporter(excel.DefaultExportConfig()),
		Defaults{},
		zerolog.Nop(),
	)
}

func TestRunSimulation_StoresAndReports(t *testing.T) {
	ctx := context.Background()
	repo := testkit.NewInMemoryRunRepository()
	svc := newTestService(t, repo)
	sc := testkit.BreachScenario()

	run, err := svc.RunSimulation(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, core.RunKindMonteCarlo, run.Summary.Kind)
	assert.Equal(t, sc.Fingerprint(), run.Summary.ScenarioHash)
	assert.Equal(t, 4000, run.Result.Metadata.EvaluatedSamples)

	// 0.2 × exp(11.125) × 0.5
	want := 0.2 * math.Exp(11.125) * 0.5
	assert.InEpsilon(t, want, run.Result.Summaries["expected_loss"].Mean.Value(), 0.1)

	runs, err := svc.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.Result.RunID, runs[0].ID)
	assert.Equal(t, "data_breach", runs[0].ScenarioName)

	md, err := svc.Report(ctx, run.Result.RunID, report.FormatMarkdown)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "# Monte Carlo run: data_breach\n"))
	assert.Contains(t, string(md), "| expected_loss |")

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, run.Result.RunID, &buf))
	assert.NotZero(t, buf.Len())
}

func TestRunSimulation_Reproducible(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	a, err := svc.RunSimulation(ctx, testkit.BreachScenario())
	require.NoError(t, err)
	b, err := svc.RunSimulation(ctx, testkit.BreachScenario())
	require.NoError(t, err)
	assert.NotEqual(t, a.Result.RunID, b.Result.RunID)
	assert.Equal(t, a.Result.Outputs, b.Result.Outputs)
}

func TestRunMCMC_StoresDiagnostics(t *testing.T) {
	ctx := context.Background()
	repo := testkit.NewInMemoryRunRepository()
	svc := newTestService(t, repo)

	run, err := svc.RunMCMC(ctx, testkit.BreachScenario())
	require.NoError(t, err)
	assert.Equal(t, 2, run.Result.NChains)
	assert.Equal(t, 300, run.Result.NDraws)
	require.NotNil(t, run.Diagnostics)
	assert.Len(t, run.Diagnostics.Parameters, 3)

	result, diag, err := svc.GetMCMC(ctx, run.Result.RunID)
	require.NoError(t, err)
	require.NotNil(t, diag)
	assert.Equal(t, run.Diagnostics.Converged, diag.Converged)
	assert.Equal(t, run.Result.ParameterNames, result.ParameterNames)

	runs, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, diag.Converged, runs[0].Converged)

	again, err := svc.DiagnoseRun(ctx, run.Result.RunID)
	require.NoError(t, err)
	assert.Equal(t, diag.Parameters[0].RHat, again.Parameters[0].RHat)

	html, err := svc.Report(ctx, run.Result.RunID, report.FormatHTML)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<title>MCMC run: data_breach</title>")
}

func TestDiagnoseSimulations(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testkit.NewInMemoryRunRepository())

	var ids []core.RunID
	for _, seed := range []int64{1, 2, 3} {
		sc := testkit.BreachScenario()
		sc.Simulation.Seed = seed
		sc.Simulation.Method = "srs"
		sc.Simulation.Samples = 1000
		run, err := svc.RunSimulation(ctx, sc)
		require.NoError(t, err)
		ids = append(ids, run.Result.RunID)
	}

	diag, err := svc.DiagnoseSimulations(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, 3, diag.NChains)
	names := make([]string, 0, len(diag.Parameters))
	for _, p := range diag.Parameters {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"likelihood", "impact", "control_effectiveness", "expected_loss"}, names)
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	sc := testkit.BreachScenario()
	sc.MCMC = nil
	_, err := svc.RunMCMC(ctx, sc)
	assert.True(t, core.IsValidationError(err))

	sc = testkit.BreachScenario()
	sc.Simulation.RiskFunction = "nope"
	_, err = svc.RunSimulation(ctx, sc)
	assert.True(t, core.IsValidationError(err))

	_, err = svc.ListRuns(ctx, 5)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	withRepo := newTestService(t, testkit.NewInMemoryRunRepository())
	_, err = withRepo.Report(ctx, core.NewRunID(), report.FormatMarkdown)
	assert.True(t, core.IsNotFoundError(err))
}

type recordingBroadcaster struct {
	events []RunEvent
}

func (r *recordingBroadcaster) Broadcast(e RunEvent) { r.events = append(r.events, e) }

func TestRunSimulation_EmitsEvents(t *testing.T) {
	rec := &recordingBroadcaster{}
	engine, err := diagnostics.NewEngine(simulation.DefaultThresholds(), zerolog.Nop())
	require.NoError(t, err)
	svc := NewSimulationService(rng.NewPCGAdapter(), engine, evaluators.NewRegistry(), nil, nil, Defaults{}, zerolog.Nop(), WithEvents(rec))

	run, err := svc.RunSimulation(context.Background(), testkit.BreachScenario())
	require.NoError(t, err)

	sc := testkit.BreachScenario()
	sc.Simulation.RiskFunction = "sum_of_squares"
	_, err = svc.RunSimulation(context.Background(), sc)
	require.Error(t, err)

	require.Len(t, rec.events, 4)
	assert.Equal(t, EventRunStarted, rec.events[0].EventType)
	assert.Equal(t, EventRunFinished, rec.events[1].EventType)
	assert.Equal(t, run.Summary.ID, rec.events[1].RunID)
	assert.Equal(t, "data_breach", rec.events[1].Scenario)
	assert.Equal(t, EventRunFailed, rec.events[3].EventType)
	assert.Contains(t, rec.events[3].Data["error"], "sum_of_squares")
}

func TestSimulationService_Sensitivity(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testkit.NewInMemoryRunRepository())
	run, err := svc.RunSimulation(ctx, testkit.BreachScenario())
	require.NoError(t, err)

	sens, err := svc.Sensitivity(ctx, run.Summary.ID)
	require.NoError(t, err)
	out, ok := sens.Output("expected_loss")
	require.True(t, ok)
	require.Len(t, out.Parameters, 3)

	ctl, ok := findParameter(out.Parameters, "control_effectiveness")
	require.True(t, ok)
	rho, ok := ctl.Measure("spearman")
	require.True(t, ok)
	assert.Less(t, rho.Effect.Value(), 0.0, "more effective controls lower the loss")

	md := string(svc.ReportRun(ctx, run.Stored(), report.FormatMarkdown))
	assert.Contains(t, md, "## Drivers")

	mcmcRun, err := svc.RunMCMC(ctx, testkit.BreachScenario())
	require.NoError(t, err)
	_, err = svc.SensitivityRun(ctx, mcmcRun.Stored())
	assert.True(t, core.IsValidationError(err))
}

func findParameter(params []simulation.ParameterSensitivity, name string) (simulation.ParameterSensitivity, bool) {
	for _, p := range params {
		if p.Parameter == name {
			return p, true
		}
	}
	return simulation.ParameterSensitivity{}, false
}
