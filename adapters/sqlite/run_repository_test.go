package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"
	"gorisk/domain/simulation"
	"gorisk/ports"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunRepository_SimulationRoundTrip(t *testing.T) {
	repo := NewRunRepository(openTestDB(t))
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
	assert.Equal(t, core.RunKindMonteCarlo, summary.Kind)
	assert.Equal(t, int64(42), summary.Seed)
	assert.True(t, summary.Converged)
	assert.False(t, summary.CreatedAt.IsZero())

	_, err = repo.GetSummary(ctx, core.NewRunID())
	assert.True(t, core.IsNotFoundError(err))
}

func TestRunRepository_MCMCWithDiagnostics(t *testing.T) {
	repo := NewRunRepository(openTestDB(t))
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

	summary, err := repo.GetSummary(ctx, result.RunID)
	require.NoError(t, err)
	assert.False(t, summary.Converged)

	require.NoError(t, repo.SaveDiagnostics(ctx, result.RunID, &simulation.ConvergenceDiagnostics{Converged: true, NChains: 1, NDraws: 2}))

	diag, err := repo.GetDiagnostics(ctx, result.RunID)
	require.NoError(t, err)
	assert.True(t, diag.Converged)

	summary, err = repo.GetSummary(ctx, result.RunID)
	require.NoError(t, err)
	assert.True(t, summary.Converged, "diagnostics decide MCMC convergence")

	got, err := repo.GetMCMC(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.PosteriorSamples, got.PosteriorSamples)

	err = repo.SaveDiagnostics(ctx, core.NewRunID(), &simulation.ConvergenceDiagnostics{})
	assert.True(t, core.IsNotFoundError(err))
}

func TestRunRepository_ListRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	repo := &RunRepositoryImpl{db: db}
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []core.RunID
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		repo.now = func() time.Time { return at }
		result := &simulation.SimulationResult{RunID: core.NewRunID(), Metadata: simulation.SimulationMetadata{Seed: int64(i)}}
		require.NoError(t, repo.SaveSimulation(ctx, ports.RunSummary{}, result))
		ids = append(ids, result.RunID)
	}

	runs, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)

	all, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
