package ports

import (
	"io"

	"gorisk/domain/simulation"
)

// ResultExporter writes results in a document format for downstream reporting.
type ResultExporter interface {
	ExportSimulation(w io.Writer, result *simulation.SimulationResult) error
	ExportMCMC(w io.Writer, result *simulation.MCMCSamplingResult, diag *simulation.ConvergenceDiagnostics) error
}
