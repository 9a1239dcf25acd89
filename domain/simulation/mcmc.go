package simulation

import (
	"fmt"
	"time"

	"gorisk/domain/core"
)

// KernelType names a transition kernel.
type KernelType string

const (
	KernelAuto       KernelType = "auto"
	KernelNUTS       KernelType = "nuts"
	KernelMetropolis KernelType = "metropolis"
	KernelSlice      KernelType = "slice"
)

// ParseKernelType accepts the kernel names used in configuration.
func ParseKernelType(s string) (KernelType, error) {
	switch s {
	case "", "auto":
		return KernelAuto, nil
	case "nuts", "hmc":
		return KernelNUTS, nil
	case "metropolis", "mh", "random_walk":
		return KernelMetropolis, nil
	case "slice":
		return KernelSlice, nil
	}
	return "", core.NewValidationErrorf("kernel", "unknown kernel %q", s)
}

// StepStats are the per-step diagnostics a kernel reports.
type StepStats struct {
	Diverging  bool    `json:"diverging"`
	AcceptProb float64 `json:"accept_prob"`
	StepSize   float64 `json:"step_size,omitempty"`
	TreeDepth  int     `json:"tree_depth,omitempty"`
	Evals      int     `json:"evals"`
	LogDensity float64 `json:"log_density"`
}

// Chain is one MCMC trajectory. Draws excludes the tuning phase, which is kept
// separately in Tune.
type Chain struct {
	Index          int         `json:"index"`
	Draws          [][]float64 `json:"draws"`
	Stats          []StepStats `json:"stats"`
	Tune           [][]float64 `json:"tune,omitempty"`
	TuneStats      []StepStats `json:"tune_stats,omitempty"`
	AcceptanceRate float64     `json:"acceptance_rate"`
	Divergences    int         `json:"divergences"`
	StepSize       float64     `json:"step_size,omitempty"`
	InverseMetric  []float64   `json:"inverse_metric,omitempty"`
	InitAttempts   int         `json:"init_attempts"`
	BorrowedInit   bool        `json:"borrowed_init,omitempty"`
}

// MCMCMetadata records the sampler configuration and everything that is not a posterior draw.
type MCMCMetadata struct {
	Kernel       KernelType      `json:"kernel"`
	TargetAccept float64         `json:"target_accept"`
	MaxTreeDepth int             `json:"max_tree_depth"`
	Seed         int64           `json:"seed"`
	Parallelism  int             `json:"parallelism"`
	InitAttempts int             `json:"init_attempts"`
	Warnings     []string        `json:"warnings,omitempty"`
	SpaceHash    core.ConfigHash `json:"space_hash"`
	StartedAt    time.Time       `json:"started_at"`
	Duration     time.Duration   `json:"duration_ns"`
}

// MCMCSamplingResult is the output of one MCMC run. PosteriorSamples holds, for
// every parameter, the draws of chain 0 followed by chain 1 and so on.
type MCMCSamplingResult struct {
	RunID            core.RunID           `json:"run_id"`
	ParameterNames   []string             `json:"parameter_names"`
	PosteriorSamples map[string][]float64 `json:"posterior_samples"`
	NChains          int                  `json:"n_chains"`
	NDraws           int                  `json:"n_draws"`
	NTune            int                  `json:"n_tune"`
	AcceptanceRate   float64              `json:"acceptance_rate"`
	Divergences      int                  `json:"divergences"`
	Chains           []Chain              `json:"chains"`
	Incomplete       bool                 `json:"incomplete"`
	Metadata         MCMCMetadata         `json:"metadata"`
}

// ChainDraws returns the draws as chain × draw × parameter.
func (r *MCMCSamplingResult) ChainDraws() [][][]float64 {
	out := make([][][]float64, len(r.Chains))
	for i, c := range r.Chains {
		out[i] = c.Draws
	}
	return out
}

// TotalDraws returns the number of post-tuning draws across all chains.
func (r *MCMCSamplingResult) TotalDraws() int {
	return r.NChains * r.NDraws
}

// Validate checks len(posterior_samples[p]) == n_chains * n_draws for every parameter.
func (r *MCMCSamplingResult) Validate() error {
	want := r.NChains * r.NDraws
	for _, name := range r.ParameterNames {
		if got := len(r.PosteriorSamples[name]); got != want {
			return fmt.Errorf("posterior_samples[%s] has %d values, want %d", name, got, want)
		}
	}
	if len(r.Chains) != r.NChains {
		return fmt.Errorf("result has %d chains, want %d", len(r.Chains), r.NChains)
	}
	for _, c := range r.Chains {
		if len(c.Draws) != r.NDraws {
			return fmt.Errorf("chain %d has %d draws, want %d", c.Index, len(c.Draws), r.NDraws)
		}
	}
	return nil
}
