package config

import (
	"testing"

	"gorisk/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SIM_PARALLELISM", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 1024, cfg.Simulation.ChunkSize)
	assert.Equal(t, 0.05, cfg.Simulation.FailureThreshold)
	assert.Equal(t, 0.8, cfg.MCMC.TargetAccept)
	assert.Equal(t, 1.01, cfg.Diagnostics.RHat)
	assert.Equal(t, 400.0, cfg.Diagnostics.ESS)
	assert.GreaterOrEqual(t, cfg.Simulation.Parallelism, 1)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SIM_PARALLELISM", "3")
	t.Setenv("DIAG_RHAT_THRESHOLD", "1.05")
	t.Setenv("MCMC_MAX_TREE_DEPTH", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Simulation.Parallelism)
	assert.Equal(t, 1.05, cfg.Diagnostics.RHat)
	assert.Equal(t, 10, cfg.MCMC.MaxTreeDepth, "unparseable values fall back to defaults")
}

func TestLoad_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SIM_FAILURE_THRESHOLD", "1.5"},
		{"MCMC_TARGET_ACCEPT", "1"},
		{"DIAG_RHAT_THRESHOLD", "0.9"},
		{"SIM_CHUNK_SIZE", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
}

func TestDefaultParallelism(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultParallelism(), 1)
}
