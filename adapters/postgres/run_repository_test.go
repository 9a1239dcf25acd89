package postgres

import (
	"context"
	"math"
	"os"
	"testing"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"
	"gorisk/domain/simulation"
	"gorisk/internal/migration"
	"gorisk/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to TEST_DATABASE_URL and migrates it, skipping when unset.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Connect("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migration.NewRunner(zerolog.Nop()).Run(context.Background(), db))
	return db
}

func TestRunRepository_SimulationRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewRunRepository(db)
	ctx := context.Background()

	result := &simulation.SimulationResult{
		RunID:          core.NewRunID(),
		Method:         paramspace.MethodSRS,
		ParameterNames: []string{"x"},
		Samples:        map[string][]float64{"x": {1, 2, 3}},
		OutputNames:    []string{"y"},
		Outputs:        map[string][]core.Float{"y": {2, core.Float(math.NaN()), 6}},
		Converged:      true,
		Failures:       []core.FailedDraw{{Index: 1, Values: []float64{2}, Error: "boom"}},
		Metadata:       simulation.SimulationMetadata{Seed: 42},
	}
	require.NoError(t, repo.SaveSimulation(ctx, ports.RunSummary{ScenarioName: "unit"}, result))

	got, err := repo.GetSimulation(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.Samples, got.Samples)
	assert.True(t, math.IsNaN(got.Outputs["y"][1].Value()))
	assert.Equal(t, "boom", got.Failures[0].Error)

	_, err = repo.GetMCMC(ctx, result.RunID)
	assert.True(t, core.IsNotFoundError(err))
	_, err = repo.GetDiagnostics(ctx, result.RunID)
	assert.True(t, core.IsNotFoundError(err))

	summary, err := repo.GetSummary(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "unit", summary.ScenarioName)
	assert.True(t, summary.Converged)
	_, err = repo.GetSummary(ctx, core.NewRunID())
	assert.True(t, core.IsNotFoundError(err))

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	assert.Equal(t, core.RunKindMonteCarlo, runs[0].Kind)
	assert.Equal(t, int64(42), runs[0].Seed)
}

func TestRunRepository_MCMCWithDiagnostics(t *testing.T) {
	db := openTestDB(t)
	repo := NewRunRepository(db)
	ctx := context.Background()

	result := &simulation.MCMCSamplingResult{
		RunID:            core.NewRunID(),
		ParameterNames:   []string{"theta"},
		PosteriorSamples: map[string][]float64{"theta": {0.1, 0.2}},
		NChains:          1,
		NDraws:           2,
		Chains:           []simulation.Chain{{Draws: [][]float64{{0.1}, {0.2}}}},
		Metadata:         simulation.MCMCMetadata{Kernel: simulation.KernelSlice, Seed: 3},
	}
	require.NoError(t, repo.SaveMCMC(ctx, ports.RunSummary{}, result))
	require.NoError(t, repo.SaveDiagnostics(ctx, result.RunID, &simulation.ConvergenceDiagnostics{Converged: true, NChains: 1, NDraws: 2}))

	diag, err := repo.GetDiagnostics(ctx, result.RunID)
	require.NoError(t, err)
	assert.True(t, diag.Converged)

	got, err := repo.GetMCMC(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.PosteriorSamples, got.PosteriorSamples)

	err = repo.SaveDiagnostics(ctx, core.NewRunID(), &simulation.ConvergenceDiagnostics{})
	assert.True(t, core.IsNotFoundError(err))
}
