package excel

import (
	"bytes"
	"math"
	"testing"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"
	"gorisk/domain/simulation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func mcmcFixture() *simulation.MCMCSamplingResult {
	chains := make([]simulation.Chain, 2)
	samples := map[string][]float64{"a": {}, "b[0]": {}}
	for c := range chains {
		ch := simulation.Chain{Index: c}
		for i := 0; i < 5; i++ {
			draw := []float64{float64(c) + 0.1*float64(i), -1.0/3 + float64(i)}
			ch.Draws = append(ch.Draws, draw)
			ch.Stats = append(ch.Stats, simulation.StepStats{AcceptProb: 0.9, TreeDepth: 2, StepSize: 0.5, LogDensity: -1})
			samples["a"] = append(samples["a"], draw[0])
			samples["b[0]"] = append(samples["b[0]"], draw[1])
		}
		ch.Tune = [][]float64{{9, 9}}
		ch.TuneStats = []simulation.StepStats{{AcceptProb: 1}}
		chains[c] = ch
	}
	return &simulation.MCMCSamplingResult{
		RunID:            core.NewRunID(),
		ParameterNames:   []string{"a", "b[0]"},
		PosteriorSamples: samples,
		NChains:          2,
		NDraws:           5,
		NTune:            1,
		Chains:           chains,
		Metadata:         simulation.MCMCMetadata{Kernel: simulation.KernelNUTS, Warnings: []string{"chain 1 looks odd"}},
	}
}

func TestExportMCMC_ChainsReadBack(t *testing.T) {
	result := mcmcFixture()
	var buf bytes.Buffer
	exp := NewExporter(ExportConfig{IncludeTuning: true})
	require.NoError(t, exp.ExportMCMC(&buf, result, &simulation.ConvergenceDiagnostics{
		Parameters: []simulation.ParameterDiagnostics{{Name: "a", RHat: core.Float(math.NaN())}},
		Warnings:   []string{"parameter a has non-finite draws"},
	}))

	names, chains, err := ReadChains(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, result.ParameterNames, names)
	require.Len(t, chains, 2)
	for c := range chains {
		require.Len(t, chains[c], 5)
		for i := range chains[c] {
			assert.InDeltaSlice(t, result.Chains[c].Draws[i], chains[c][i], 1e-12)
		}
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{summarySheet, diagnosticsSheet, "Chain 0", "Tune 0", "Chain 1", "Tune 1"}, f.GetSheetList())

	rhat, err := f.GetCellValue(diagnosticsSheet, "E2")
	require.NoError(t, err)
	assert.Equal(t, "NaN", rhat)

	rows, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	var text []string
	for _, row := range rows {
		text = append(text, row...)
	}
	assert.Contains(t, text, "chain 1 looks odd")
	assert.Contains(t, text, "parameter a has non-finite draws")
}

func TestExportSimulation(t *testing.T) {
	result := &simulation.SimulationResult{
		RunID:          core.NewRunID(),
		Method:         paramspace.MethodStratified,
		ParameterNames: []string{"x"},
		Samples:        map[string][]float64{"x": {1, 2, 3, 4}},
		OutputNames:    []string{"loss"},
		Outputs:        map[string][]core.Float{"loss": {10, 20, core.Float(math.NaN()), 40}},
		Weights:        []float64{0.5, 0.5, 1.5, 1.5},
		Summaries:      map[string]simulation.OutputSummary{"loss": {N: 3, Mean: 25}},
		Strata: []simulation.StratumSummary{{
			Stratum: paramspace.Stratum{Name: "low", Parameter: "x", Lower: 0, Upper: 2.5},
			Weight:  0.25, Draws: 2, Means: map[string]core.Float{"loss": 15},
		}},
		ConvergenceHistory: []simulation.ConvergenceCheckpoint{{
			Draws:   4,
			Outputs: map[string]simulation.RunningStats{"loss": {Mean: 25, RelativeChange: core.Float(math.Inf(1))}},
		}},
		Failures: []core.FailedDraw{{Index: 2, Values: []float64{3}, Error: "division by zero"}},
	}

	var buf bytes.Buffer
	require.NoError(t, NewExporter(ExportConfig{MaxSampleRows: 3}).ExportSimulation(&buf, result))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{summarySheet, samplesSheet, convergenceSheet, strataSheet, failuresSheet}, f.GetSheetList())

	rows, err := f.GetRows(samplesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4, "header plus capped rows")
	assert.Equal(t, []string{"draw", "x", "loss", "weight"}, rows[0])
	assert.Equal(t, "NaN", rows[3][2])

	change, err := f.GetCellValue(convergenceSheet, "F2")
	require.NoError(t, err)
	assert.Equal(t, "+Inf", change)

	msg, err := f.GetCellValue(failuresSheet, "C2")
	require.NoError(t, err)
	assert.Equal(t, "division by zero", msg)
}

func TestReadChains_Rejects(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"draw", "x"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{0, "oops"}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	_, _, err := ReadChains(bytes.NewReader(buf.Bytes()))
	assert.True(t, core.IsValidationError(err))

	_, _, err = ReadChains(bytes.NewReader([]byte("not a workbook")))
	assert.Error(t, err)
}

func TestChainSheets(t *testing.T) {
	assert.Equal(t, []string{"Chain 2", "Chain 10"}, chainSheets([]string{"Summary", "Chain 10", "Chain 2", "Chain x"}))
	assert.Equal(t, []string{"run1", "run2"}, chainSheets([]string{"run1", "run2"}))
}
