package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"gorisk/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const breachYAML = `
name: data_breach
description: Annual loss from a customer data breach
parameters:
  - name: likelihood
    distribution: beta
    params: {alpha: 2, beta: 8}
  - name: impact
    distribution: lognormal
    params: {mu: 13, sigma: 0.8}
    upper: 5000000
  - name: control_effectiveness
    distribution: triangular
    params: {low: 0.2, mode: 0.5, high: 0.9}
  - name: severity
    distribution: categorical
    params: {p0: 0.6, p1: 0.3, p2: 0.1}
correlations:
  - {a: likelihood, b: impact, rho: 0.3}
simulation:
  risk_function: expected_loss
  samples: 20000
  method: lhs
  seed: 7
mcmc:
  log_density: prior
  chains: 4
  draws: 500
  seed: 11
`

const breachJSON = `{
  "name": "data_breach",
  "description": "Annual loss from a customer data breach",
  "parameters": [
    {"name": "likelihood", "distribution": "beta", "params": {"alpha": 2, "beta": 8}},
    {"name": "impact", "distribution": "lognormal", "params": {"mu": 13, "sigma": 0.8}, "upper": 5000000},
    {"name": "control_effectiveness", "distribution": "triangular", "params": {"low": 0.2, "mode": 0.5, "high": 0.9}},
    {"name": "severity", "distribution": "categorical", "params": {"p0": 0.6, "p1": 0.3, "p2": 0.1}}
  ],
  "correlations": [{"a": "likelihood", "b": "impact", "rho": 0.3}],
  "simulation": {"risk_function": "expected_loss", "samples": 20000, "method": "lhs", "seed": 7},
  "mcmc": {"log_density": "prior", "chains": 4, "draws": 500, "seed": 11}
}`

func TestParse_YAMLAndJSONAgree(t *testing.T) {
	fromYAML, err := Parse([]byte(breachYAML), FormatYAML)
	require.NoError(t, err)
	fromJSON, err := Parse([]byte(breachJSON), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, fromYAML.Fingerprint(), fromJSON.Fingerprint())
	assert.Len(t, fromYAML.Fingerprint().String(), 64)

	space, err := fromYAML.Space()
	require.NoError(t, err)
	assert.Equal(t, []string{"likelihood", "impact", "control_effectiveness", "severity"}, space.Names())
	assert.InDelta(t, 0.3, space.Correlation("likelihood", "impact"), 1e-12)

	impact, ok := space.Parameter("impact")
	require.True(t, ok)
	assert.Equal(t, 5000000.0, impact.Bounds.Upper)
}

func TestFingerprint_ChangesWithContent(t *testing.T) {
	a, err := Parse([]byte(breachYAML), FormatYAML)
	require.NoError(t, err)
	b, err := Parse([]byte(breachYAML), FormatYAML)
	require.NoError(t, err)
	b.Simulation.Seed = 8
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestSpace_ReturnsIndependentSpaces(t *testing.T) {
	sc, err := Parse([]byte(breachYAML), FormatYAML)
	require.NoError(t, err)
	first, err := sc.Space()
	require.NoError(t, err)
	require.NoError(t, first.Freeze())
	second, err := sc.Space()
	require.NoError(t, err)
	assert.False(t, second.Frozen())
}

func TestStrata(t *testing.T) {
	sc, err := Parse([]byte(breachYAML), FormatYAML)
	require.NoError(t, err)
	space, err := sc.Space()
	require.NoError(t, err)

	strata, err := sc.Strata(space)
	require.NoError(t, err)
	assert.Nil(t, strata)

	sc.Simulation.StratifyBy = "severity"
	strata, err = sc.Strata(space)
	require.NoError(t, err)
	require.Len(t, strata, 3)
	assert.Equal(t, "severity=0", strata[0].Name)
	assert.Equal(t, core.Float(-0.5), strata[0].Lower)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
	}{
		{"unknown field", "name: x\nparameters:\n  - {name: a, distribution: normal, params: {mean: 0, std: 1}}\nsamples: 10\n", FormatYAML},
		{"missing name", `{"parameters": [{"name": "a", "distribution": "normal", "params": {"mean": 0, "std": 1}}]}`, FormatJSON},
		{"no parameters", `{"name": "x", "parameters": []}`, FormatJSON},
		{"bad distribution params", `{"name": "x", "parameters": [{"name": "a", "distribution": "normal", "params": {"mean": 0}}]}`, FormatJSON},
		{"bad correlation", `{"name": "x", "parameters": [{"name": "a", "distribution": "normal", "params": {"mean": 0, "std": 1}}], "correlations": [{"a": "a", "b": "zz", "rho": 0.5}]}`, FormatJSON},
		{"no samples", "name: x\nparameters:\n  - {name: a, distribution: normal, params: {mean: 0, std: 1}}\nsimulation: {risk_function: sum}\n", FormatYAML},
		{"strata and stratify_by", `{"name": "x", "parameters": [{"name": "a", "distribution": "categorical", "params": {"p0": 0.5, "p1": 0.5}}], "simulation": {"risk_function": "sum", "samples": 10, "stratify_by": "a", "strata": [{"name": "s", "parameter": "a", "lower": 0, "upper": 1}]}}`, FormatJSON},
		{"stratify non-categorical", `{"name": "x", "parameters": [{"name": "a", "distribution": "normal", "params": {"mean": 0, "std": 1}}], "simulation": {"risk_function": "sum", "samples": 10, "stratify_by": "a"}}`, FormatJSON},
		{"initial point length", `{"name": "x", "parameters": [{"name": "a", "distribution": "normal", "params": {"mean": 0, "std": 1}}], "mcmc": {"log_density": "prior", "initial_point": [1, 2]}}`, FormatJSON},
		{"malformed", "name: [", FormatYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format)
			require.Error(t, err)
			assert.True(t, core.IsValidationError(err), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "breach.yml")
	require.NoError(t, os.WriteFile(path, []byte(breachYAML), 0o644))

	sc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "data_breach", sc.Name)

	_, err = Load(filepath.Join(dir, "breach.toml"))
	assert.True(t, core.IsValidationError(err))

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
