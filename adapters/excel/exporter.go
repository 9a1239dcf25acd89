package excel

import (
	"fmt"
	"io"
	"math"
	"strings"

	"gorisk/domain/simulation"
	"gorisk/ports"

	"github.com/xuri/excelize/v2"
)

// Sheet names shared by the exporter and the chain reader
const (
	summarySheet     = "Summary"
	samplesSheet     = "Samples"
	convergenceSheet = "Convergence"
	strataSheet      = "Strata"
	failuresSheet    = "Failures"
	diagnosticsSheet = "Diagnostics"
	chainSheetPrefix = "Chain "
	tuneSheetPrefix  = "Tune "
)

// stepColumns are the per-draw kernel statistics written after the parameters of a chain sheet.
var stepColumns = []string{"accept_prob", "diverging", "tree_depth", "step_size", "log_density"}

// Exporter writes results as .xlsx workbooks.
type Exporter struct {
	config ExportConfig
}

// NewExporter creates a workbook exporter
func NewExporter(config ExportConfig) ports.ResultExporter {
	return &Exporter{config: config}
}

// ExportSimulation writes a Monte Carlo result: summary, samples, convergence
// history and, when present, strata and failures.
func (e *Exporter) ExportSimulation(w io.Writer, result *simulation.SimulationResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	summary := [][]interface{}{
		{"Run ID", result.RunID.String()},
		{"Method", string(result.Method)},
		{"Seed", result.Metadata.Seed},
		{"Requested samples", result.Metadata.RequestedSamples},
		{"Evaluated samples", result.Metadata.EvaluatedSamples},
		{"Failure rate", result.Metadata.FailureRate},
		{"Converged", result.Converged},
		{"Converged at", result.ConvergedAt},
		{"Incomplete", result.Incomplete},
		{"Space hash", result.Metadata.SpaceHash.String()},
		{},
		{"Output", "N", "Mean", "Std dev", "Std error", "Min", "P05", "Median", "P95", "P99", "Max", "Skewness", "Kurtosis"},
	}
	for _, name := range result.OutputNames {
		s := result.Summaries[name]
		summary = append(summary, []interface{}{
			name, s.N, cell(s.Mean.Value()), cell(s.StdDev.Value()), cell(s.StdError.Value()),
			cell(s.Min.Value()), cell(s.P05.Value()), cell(s.Median.Value()), cell(s.P95.Value()),
			cell(s.P99.Value()), cell(s.Max.Value()), cell(s.Skewness.Value()), cell(s.Kurtosis.Value()),
		})
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}

	header := append(append([]string{"draw"}, result.ParameterNames...), result.OutputNames...)
	if result.Weights != nil {
		header = append(header, "weight")
	}
	n := e.capRows(result.Len())
	if err := streamSheet(f, samplesSheet, header, n, func(i int) []interface{} {
		row := make([]interface{}, 0, len(header))
		row = append(row, i)
		for _, name := range result.ParameterNames {
			row = append(row, cell(result.Samples[name][i]))
		}
		for _, name := range result.OutputNames {
			row = append(row, cell(result.Outputs[name][i].Value()))
		}
		if result.Weights != nil {
			row = append(row, result.Weights[i])
		}
		return row
	}); err != nil {
		return err
	}

	history := [][]interface{}{{"Draws", "Output", "Mean", "Variance", "Std error", "Relative change", "Converged"}}
	for _, cp := range result.ConvergenceHistory {
		for _, name := range result.OutputNames {
			rs := cp.Outputs[name]
			history = append(history, []interface{}{
				cp.Draws, name, cell(rs.Mean.Value()), cell(rs.Variance.Value()),
				cell(rs.StdError.Value()), cell(rs.RelativeChange.Value()), cp.Converged,
			})
		}
	}
	if err := newSheet(f, convergenceSheet, history); err != nil {
		return err
	}

	if len(result.Strata) > 0 {
		rows := [][]interface{}{append([]interface{}{"Stratum", "Parameter", "Lower", "Upper", "Weight", "Draws", "Failures"}, toInterfaces(result.OutputNames)...)}
		for _, st := range result.Strata {
			row := []interface{}{
				st.Stratum.Name, st.Stratum.Parameter, cell(st.Stratum.Lower.Value()), cell(st.Stratum.Upper.Value()),
				st.Weight, st.Draws, st.Failures,
			}
			for _, name := range result.OutputNames {
				row = append(row, cell(st.Means[name].Value()))
			}
			rows = append(rows, row)
		}
		if err := newSheet(f, strataSheet, rows); err != nil {
			return err
		}
	}

	if len(result.Failures) > 0 {
		rows := [][]interface{}{{"Draw", "Values", "Error"}}
		for _, fd := range result.Failures {
			rows = append(rows, []interface{}{fd.Index, formatValues(fd.Values), fd.Error})
		}
		if err := newSheet(f, failuresSheet, rows); err != nil {
			return err
		}
	}

	return f.Write(w)
}

// ExportMCMC writes an MCMC result with one sheet per chain. diag may be nil.
func (e *Exporter) ExportMCMC(w io.Writer, result *simulation.MCMCSamplingResult, diag *simulation.ConvergenceDiagnostics) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	summary := [][]interface{}{
		{"Run ID", result.RunID.String()},
		{"Kernel", string(result.Metadata.Kernel)},
		{"Seed", result.Metadata.Seed},
		{"Chains", result.NChains},
		{"Draws per chain", result.NDraws},
		{"Tuning steps", result.NTune},
		{"Acceptance rate", result.AcceptanceRate},
		{"Divergences", result.Divergences},
		{"Incomplete", result.Incomplete},
		{"Space hash", result.Metadata.SpaceHash.String()},
	}
	if diag != nil {
		summary = append(summary, []interface{}{"Converged", diag.Converged})
	}
	warnings := result.Metadata.Warnings
	if diag != nil {
		warnings = append(append([]string(nil), warnings...), diag.Warnings...)
	}
	if len(warnings) > 0 {
		summary = append(summary, []interface{}{}, []interface{}{"Warnings"})
		for _, msg := range warnings {
			summary = append(summary, []interface{}{msg})
		}
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}

	if diag != nil {
		rows := [][]interface{}{{"Parameter", "Mean", "Std dev", "MCSE", "R-hat", "ESS bulk", "ESS tail", "Geweke Z", "Geweke chain"}}
		for _, p := range diag.Parameters {
			rows = append(rows, []interface{}{
				p.Name, cell(p.Mean.Value()), cell(p.StdDev.Value()), cell(p.MCSE.Value()), cell(p.RHat.Value()),
				cell(p.ESSBulk.Value()), cell(p.ESSTail.Value()), cell(p.GewekeZ.Value()), p.GewekeChain,
			})
		}
		if err := newSheet(f, diagnosticsSheet, rows); err != nil {
			return err
		}
	}

	header := append(append([]string{"draw"}, result.ParameterNames...), stepColumns...)
	for _, ch := range result.Chains {
		if err := writeChain(f, fmt.Sprintf("%s%d", chainSheetPrefix, ch.Index), header, ch.Draws, ch.Stats, e.capRows(len(ch.Draws))); err != nil {
			return err
		}
		if e.config.IncludeTuning && len(ch.Tune) > 0 {
			if err := writeChain(f, fmt.Sprintf("%s%d", tuneSheetPrefix, ch.Index), header, ch.Tune, ch.TuneStats, e.capRows(len(ch.Tune))); err != nil {
				return err
			}
		}
	}
	return f.Write(w)
}

func writeChain(f *excelize.File, sheet string, header []string, draws [][]float64, stats []simulation.StepStats, n int) error {
	return streamSheet(f, sheet, header, n, func(i int) []interface{} {
		row := make([]interface{}, 0, len(header))
		row = append(row, i)
		for _, v := range draws[i] {
			row = append(row, cell(v))
		}
		st := stats[i]
		return append(row, cell(st.AcceptProb), st.Diverging, st.TreeDepth, cell(st.StepSize), cell(st.LogDensity))
	})
}

func (e *Exporter) capRows(n int) int {
	if e.config.MaxSampleRows > 0 && n > e.config.MaxSampleRows {
		return e.config.MaxSampleRows
	}
	return n
}

func newSheet(f *excelize.File, sheet string, rows [][]interface{}) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	return writeRows(f, sheet, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, addr, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// streamSheet writes a header and n generated rows through a stream writer.
func streamSheet(f *excelize.File, sheet string, header []string, n int, row func(i int) []interface{}) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	if err := sw.SetRow("A1", toInterfaces(header)); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(addr, row(i)); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}
	return sw.Flush()
}

// cell keeps non-finite values readable; spreadsheets have no NaN or Inf.
func cell(v float64) interface{} {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return v
}

func toInterfaces(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func formatValues(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
