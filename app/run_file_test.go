package app

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"gorisk/domain/core"
	"gorisk/internal/report"
	"gorisk/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFile_ImportIntoStore(t *testing.T) {
	ctx := context.Background()
	offline := newTestService(t, nil)
	run, err := offline.RunMCMC(ctx, testkit.BreachScenario())
	require.NoError(t, err)

	stored := run.Stored()
	stored.Diagnostics = nil
	var buf bytes.Buffer
	require.NoError(t, WriteRunFile(&buf, stored))

	loaded, err := ReadRunFile(&buf)
	require.NoError(t, err)
	assert.Equal(t, run.Summary.ID, loaded.Summary.ID)
	assert.Equal(t, run.Result.PosteriorSamples, loaded.MCMC.PosteriorSamples)

	online := newTestService(t, testkit.NewInMemoryRunRepository())
	require.NoError(t, online.Import(ctx, loaded))

	back, err := online.LoadRun(ctx, run.Summary.ID)
	require.NoError(t, err)
	assert.Equal(t, "data_breach", back.Summary.ScenarioName)
	require.NotNil(t, back.Diagnostics, "import diagnoses runs that arrive without diagnostics")
	assert.Equal(t, run.Diagnostics.Converged, back.Diagnostics.Converged)

	md := string(online.ReportRun(ctx, back, report.FormatMarkdown))
	assert.True(t, strings.HasPrefix(md, "# MCMC run: data_breach\n"))
}

func TestRunFile_Rejects(t *testing.T) {
	tests := map[string]string{
		"not json":      `{`,
		"unknown kind":  `{"summary": {"kind": "bootstrap"}}`,
		"kind mismatch": `{"summary": {"kind": "mcmc"}, "simulation": {"run_id": "x"}}`,
		"id mismatch":   `{"summary": {"id": "a", "kind": "monte_carlo"}, "simulation": {"run_id": "b"}}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadRunFile(strings.NewReader(doc))
			assert.True(t, core.IsValidationError(err))
		})
	}
}

func TestDiagnoseStored_Simulation(t *testing.T) {
	svc := newTestService(t, nil)
	run, err := svc.RunSimulation(context.Background(), testkit.BreachScenario())
	require.NoError(t, err)

	diag, err := svc.DiagnoseStored(run.Stored())
	require.NoError(t, err)
	assert.Equal(t, 1, diag.NChains)
	_, ok := diag.Parameter("expected_loss")
	assert.True(t, ok)
}
