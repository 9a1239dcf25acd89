package store

import (
	"context"
	"path/filepath"
	"testing"

	"gorisk/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLitePath(t *testing.T) {
	tests := []struct {
		url  string
		path string
		ok   bool
	}{
		{"sqlite://./runs.db", "./runs.db", true},
		{"sqlite:/var/lib/gorisk/runs.db", "/var/lib/gorisk/runs.db", true},
		{"postgres://localhost/gorisk", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		path, ok := SQLitePath(tt.url)
		assert.Equal(t, tt.ok, ok, tt.url)
		assert.Equal(t, tt.path, path, tt.url)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	repo, closer, err := Open(ctx, config.DatabaseConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, repo)
	assert.Nil(t, closer)

	url := "sqlite:" + filepath.Join(t.TempDir(), "runs.db")
	repo, closer, err = Open(ctx, config.DatabaseConfig{URL: url}, zerolog.Nop())
	require.NoError(t, err)
	defer closer.Close()

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
