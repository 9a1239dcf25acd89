package simulation

import (
	"fmt"
	"time"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"
)

// Allocation controls how draws are split between strata.
type Allocation string

const (
	AllocationProportional Allocation = "proportional"
	AllocationEqual        Allocation = "equal"
)

// RunningStats is the running mean and its standard error for one output.
type RunningStats struct {
	Mean           core.Float `json:"mean"`
	Variance       core.Float `json:"variance"`
	StdError       core.Float `json:"std_error"`
	RelativeChange core.Float `json:"relative_change"`
}

// ConvergenceCheckpoint is a snapshot of every tracked output after Draws evaluations.
type ConvergenceCheckpoint struct {
	Draws     int                     `json:"draws"`
	Outputs   map[string]RunningStats `json:"outputs"`
	Converged bool                    `json:"converged"`
}

// OutputSummary describes the distribution of one output across successful draws.
type OutputSummary struct {
	N        int        `json:"n"`
	Mean     core.Float `json:"mean"`
	StdDev   core.Float `json:"std_dev"`
	StdError core.Float `json:"std_error"`
	Min      core.Float `json:"min"`
	Max      core.Float `json:"max"`
	Median   core.Float `json:"median"`
	P05      core.Float `json:"p05"`
	P95      core.Float `json:"p95"`
	P99      core.Float `json:"p99"`
	Skewness core.Float `json:"skewness"`
	Kurtosis core.Float `json:"kurtosis"`
}

// StratumSummary reports the per-stratum estimate of a stratified run.
type StratumSummary struct {
	Stratum  paramspace.Stratum    `json:"stratum"`
	Weight   float64               `json:"weight"`
	Draws    int                   `json:"draws"`
	Failures int                   `json:"failures"`
	Means    map[string]core.Float `json:"means"`
}

// SimulationMetadata records the configuration a run was produced with.
type SimulationMetadata struct {
	Seed               int64           `json:"seed"`
	RequestedSamples   int             `json:"requested_samples"`
	EvaluatedSamples   int             `json:"evaluated_samples"`
	Parallelism        int             `json:"parallelism"`
	ChunkSize          int             `json:"chunk_size"`
	Tolerance          float64         `json:"tolerance"`
	CheckpointFraction float64         `json:"checkpoint_fraction"`
	EarlyStop          bool            `json:"early_stop"`
	FailureThreshold   float64         `json:"failure_threshold"`
	FailureRate        float64         `json:"failure_rate"`
	Allocation         Allocation      `json:"allocation,omitempty"`
	SpaceHash          core.ConfigHash `json:"space_hash"`
	StartedAt          time.Time       `json:"started_at"`
	Duration           time.Duration   `json:"duration_ns"`
}

// SimulationResult is the output of one Monte Carlo run. Samples and Outputs are
// aligned by draw index; failed draws carry NaN outputs and are listed in Failures.
type SimulationResult struct {
	RunID              core.RunID                `json:"run_id"`
	Method             paramspace.SamplingMethod `json:"sampling_method"`
	ParameterNames     []string                  `json:"parameter_names"`
	Samples            map[string][]float64      `json:"samples"`
	OutputNames        []string                  `json:"output_names"`
	Outputs            map[string][]core.Float   `json:"outputs"`
	Weights            []float64                 `json:"weights,omitempty"`
	Summaries          map[string]OutputSummary  `json:"summaries"`
	Strata             []StratumSummary          `json:"strata,omitempty"`
	ConvergenceHistory []ConvergenceCheckpoint   `json:"convergence_history"`
	Converged          bool                      `json:"converged"`
	ConvergedAt        int                       `json:"converged_at,omitempty"`
	Failures           []core.FailedDraw         `json:"failures,omitempty"`
	Incomplete         bool                      `json:"incomplete"`
	Metadata           SimulationMetadata        `json:"metadata"`
}

// Len returns the number of draws in the result.
func (r *SimulationResult) Len() int {
	if len(r.ParameterNames) == 0 {
		return 0
	}
	return len(r.Samples[r.ParameterNames[0]])
}

// Output returns the values of the named output as plain floats.
func (r *SimulationResult) Output(name string) []float64 {
	vals := r.Outputs[name]
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = v.Value()
	}
	return out
}

// Point returns the parameter vector of draw i.
func (r *SimulationResult) Point(i int) []float64 {
	x := make([]float64, len(r.ParameterNames))
	for j, name := range r.ParameterNames {
		x[j] = r.Samples[name][i]
	}
	return x
}

// Validate checks the alignment of samples and outputs.
func (r *SimulationResult) Validate() error {
	n := r.Len()
	for _, name := range r.ParameterNames {
		if len(r.Samples[name]) != n {
			return fmt.Errorf("samples[%s] has %d values, want %d", name, len(r.Samples[name]), n)
		}
	}
	for _, name := range r.OutputNames {
		if len(r.Outputs[name]) != n {
			return fmt.Errorf("outputs[%s] has %d values, want %d", name, len(r.Outputs[name]), n)
		}
	}
	if r.Weights != nil && len(r.Weights) != n {
		return fmt.Errorf("weights has %d values, want %d", len(r.Weights), n)
	}
	return nil
}
