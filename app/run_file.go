package app

import (
	"encoding/json"
	"io"

	"gorisk/domain/core"
	"gorisk/domain/simulation"
	"gorisk/ports"
)

// StoredRun is one run of either kind with everything needed to report on it.
// It is also the JSON document the CLI writes and the migrate tool imports.
type StoredRun struct {
	Summary     ports.RunSummary                   `json:"summary"`
	Simulation  *simulation.SimulationResult       `json:"simulation,omitempty"`
	MCMC        *simulation.MCMCSamplingResult     `json:"mcmc,omitempty"`
	Diagnostics *simulation.ConvergenceDiagnostics `json:"diagnostics,omitempty"`
}

// Stored converts a finished Monte Carlo run.
func (r *SimulationRun) Stored() *StoredRun {
	return &StoredRun{Summary: r.Summary, Simulation: r.Result}
}

// Stored converts a finished MCMC run.
func (r *MCMCRun) Stored() *StoredRun {
	return &StoredRun{Summary: r.Summary, MCMC: r.Result, Diagnostics: r.Diagnostics}
}

// Validate checks that the summary kind matches the result present.
func (r *StoredRun) Validate() error {
	switch r.Summary.Kind {
	case core.RunKindMonteCarlo:
		if r.Simulation == nil || r.MCMC != nil {
			return core.NewValidationError("run", "a monte_carlo run needs a simulation result and no mcmc result")
		}
		if r.Summary.ID != r.Simulation.RunID {
			return core.NewValidationErrorf("run", "summary id %s does not match result id %s", r.Summary.ID, r.Simulation.RunID)
		}
	case core.RunKindMCMC:
		if r.MCMC == nil || r.Simulation != nil {
			return core.NewValidationError("run", "an mcmc run needs an mcmc result and no simulation result")
		}
		if r.Summary.ID != r.MCMC.RunID {
			return core.NewValidationErrorf("run", "summary id %s does not match result id %s", r.Summary.ID, r.MCMC.RunID)
		}
	default:
		return core.NewValidationErrorf("run", "unknown run kind %q", r.Summary.Kind)
	}
	return nil
}

// WriteRunFile writes run as indented JSON.
func WriteRunFile(w io.Writer, run *StoredRun) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

// ReadRunFile decodes and validates a run written by WriteRunFile.
func ReadRunFile(r io.Reader) (*StoredRun, error) {
	var run StoredRun
	if err := json.NewDecoder(r).Decode(&run); err != nil {
		return nil, core.NewValidationErrorf("run", "invalid run file: %v", err)
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}
	return &run, nil
}
