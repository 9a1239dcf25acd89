package simulation

import "gorisk/domain/core"

// Thresholds are the knobs a convergence verdict is judged against.
type Thresholds struct {
	RHat           float64 `json:"rhat" yaml:"rhat"`
	ESS            float64 `json:"ess" yaml:"ess"`
	GewekeZ        float64 `json:"geweke_z" yaml:"geweke_z"`
	DivergenceRate float64 `json:"divergence_rate" yaml:"divergence_rate"`
}

// DefaultThresholds returns R-hat 1.01, ESS 400, |Z| 2 and a zero divergence-rate tolerance.
func DefaultThresholds() Thresholds {
	return Thresholds{RHat: 1.01, ESS: 400, GewekeZ: 2, DivergenceRate: 0}
}

// Validate rejects thresholds that would make every verdict meaningless.
func (t Thresholds) Validate() error {
	if !(t.RHat > 1) {
		return core.NewValidationErrorf("thresholds.rhat", "must be greater than 1, got %v", t.RHat)
	}
	if t.ESS < 0 {
		return core.NewValidationErrorf("thresholds.ess", "must be non-negative, got %v", t.ESS)
	}
	if !(t.GewekeZ > 0) {
		return core.NewValidationErrorf("thresholds.geweke_z", "must be positive, got %v", t.GewekeZ)
	}
	if t.DivergenceRate < 0 || t.DivergenceRate > 1 {
		return core.NewValidationErrorf("thresholds.divergence_rate", "must be in [0, 1], got %v", t.DivergenceRate)
	}
	return nil
}

// ParameterDiagnostics holds the convergence statistics of one scalar parameter.
type ParameterDiagnostics struct {
	Name        string     `json:"name"`
	RHat        core.Float `json:"rhat"`
	ESSBulk     core.Float `json:"ess_bulk"`
	ESSTail     core.Float `json:"ess_tail"`
	GewekeZ     core.Float `json:"geweke_z"`
	GewekeChain int        `json:"geweke_chain"`
	Mean        core.Float `json:"mean"`
	StdDev      core.Float `json:"std_dev"`
	MCSE        core.Float `json:"mcse"`
}

// VectorDiagnostics summarises parameters sharing a base name, such as beta[0] and beta[1].
type VectorDiagnostics struct {
	Base       string     `json:"base"`
	Size       int        `json:"size"`
	MaxRHat    core.Float `json:"max_rhat"`
	MinESSBulk core.Float `json:"min_ess_bulk"`
	MinESSTail core.Float `json:"min_ess_tail"`
}

// DiagnosticsMetadata records how the diagnostics were computed.
type DiagnosticsMetadata struct {
	Thresholds    Thresholds `json:"thresholds"`
	GewekeFirst   float64    `json:"geweke_first"`
	GewekeLast    float64    `json:"geweke_last"`
	RHatMethod    string     `json:"rhat_method"`
	ESSMethod     string     `json:"ess_method"`
	SourceRunID   core.RunID `json:"source_run_id,omitempty"`
	SourceRunKind string     `json:"source_run_kind,omitempty"`
}

// ConvergenceDiagnostics is the verdict on a multi-chain sample. Converged is
// true only when every R-hat is below and every bulk and tail ESS is at or above
// its threshold. Warnings are advisory and never make a run fail.
type ConvergenceDiagnostics struct {
	Parameters     []ParameterDiagnostics `json:"parameters"`
	Vectors        []VectorDiagnostics    `json:"vectors,omitempty"`
	NChains        int                    `json:"n_chains"`
	NDraws         int                    `json:"n_draws"`
	Divergences    int                    `json:"divergences"`
	DivergenceRate float64                `json:"divergence_rate"`
	Converged      bool                   `json:"converged"`
	Warnings       []string               `json:"warnings"`
	Metadata       DiagnosticsMetadata    `json:"metadata"`
}

// Parameter returns the diagnostics for the named parameter.
func (d *ConvergenceDiagnostics) Parameter(name string) (ParameterDiagnostics, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterDiagnostics{}, false
}

// MaxRHat returns the largest R-hat across all parameters.
func (d *ConvergenceDiagnostics) MaxRHat() float64 {
	maxR := 0.0
	for _, p := range d.Parameters {
		if v := p.RHat.Value(); v > maxR || !p.RHat.IsFinite() {
			maxR = v
		}
	}
	return maxR
}

// MinESS returns the smallest bulk or tail ESS across all parameters.
func (d *ConvergenceDiagnostics) MinESS() float64 {
	minESS := -1.0
	for _, p := range d.Parameters {
		for _, v := range []float64{p.ESSBulk.Value(), p.ESSTail.Value()} {
			if minESS < 0 || v < minESS {
				minESS = v
			}
		}
	}
	return minESS
}
