package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(Config{Level: "debug", Output: &buf}), "montecarlo")
	logger.Info().Int("draws", 100).Msg("simulation finished")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "montecarlo", entry["component"])
	assert.Equal(t, float64(100), entry["draws"])
	assert.Equal(t, "info", entry["level"])
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Output: &buf})
	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}
