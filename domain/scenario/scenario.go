package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"

	"gopkg.in/yaml.v3"
)

// Format is the serialisation of a scenario file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", core.NewValidationErrorf("scenario", "unsupported scenario file extension %q", filepath.Ext(path))
}

// SimulationSpec holds the Monte Carlo settings of a scenario.
type SimulationSpec struct {
	RiskFunction string               `json:"risk_function" yaml:"risk_function"`
	Samples      int                  `json:"samples" yaml:"samples"`
	Method       string               `json:"method,omitempty" yaml:"method,omitempty"`
	Seed         int64                `json:"seed" yaml:"seed"`
	Strata       []paramspace.Stratum `json:"strata,omitempty" yaml:"strata,omitempty"`
	// StratifyBy names a categorical parameter to stratify on, one stratum per category.
	StratifyBy string  `json:"stratify_by,omitempty" yaml:"stratify_by,omitempty"`
	Allocation string  `json:"allocation,omitempty" yaml:"allocation,omitempty"`
	Tolerance  float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	EarlyStop  bool    `json:"early_stop,omitempty" yaml:"early_stop,omitempty"`
	// FailureThreshold is left to the configured default when nil.
	FailureThreshold *float64 `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
}

// MCMCSpec holds the MCMC settings of a scenario.
type MCMCSpec struct {
	LogDensity   string    `json:"log_density" yaml:"log_density"`
	Chains       int       `json:"chains,omitempty" yaml:"chains,omitempty"`
	Draws        int       `json:"draws,omitempty" yaml:"draws,omitempty"`
	Tune         int       `json:"tune,omitempty" yaml:"tune,omitempty"`
	Kernel       string    `json:"kernel,omitempty" yaml:"kernel,omitempty"`
	Seed         int64     `json:"seed" yaml:"seed"`
	TargetAccept float64   `json:"target_accept,omitempty" yaml:"target_accept,omitempty"`
	MaxTreeDepth int       `json:"max_tree_depth,omitempty" yaml:"max_tree_depth,omitempty"`
	InitialPoint []float64 `json:"initial_point,omitempty" yaml:"initial_point,omitempty"`
}

// Scenario is a named parameter space together with the runs to perform on it.
type Scenario struct {
	Name         string                              `json:"name" yaml:"name"`
	Description  string                              `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters   []paramspace.ParameterDescription   `json:"parameters" yaml:"parameters"`
	Correlations []paramspace.CorrelationDescription `json:"correlations,omitempty" yaml:"correlations,omitempty"`
	Simulation   *SimulationSpec                     `json:"simulation,omitempty" yaml:"simulation,omitempty"`
	MCMC         *MCMCSpec                           `json:"mcmc,omitempty" yaml:"mcmc,omitempty"`
}

// Load reads a scenario file, choosing the decoder by extension.
func Load(path string) (*Scenario, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	sc, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes and validates a scenario. Unknown fields are rejected.
func Parse(data []byte, format Format) (*Scenario, error) {
	var sc Scenario
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&sc); err != nil {
			return nil, core.NewValidationErrorf("scenario", "invalid YAML: %v", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&sc); err != nil {
			return nil, core.NewValidationErrorf("scenario", "invalid JSON: %v", err)
		}
	default:
		return nil, core.NewValidationErrorf("scenario", "unknown format %q", format)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the scenario and builds its space once to surface parameter errors.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return core.NewValidationError("name", "scenario name is required")
	}
	space, err := s.Space()
	if err != nil {
		return err
	}
	if sim := s.Simulation; sim != nil {
		if sim.RiskFunction == "" {
			return core.NewValidationError("simulation.risk_function", "a risk function is required")
		}
		if sim.Samples <= 0 {
			return core.NewValidationErrorf("simulation.samples", "must be positive, got %d", sim.Samples)
		}
		if len(sim.Strata) > 0 && sim.StratifyBy != "" {
			return core.NewValidationError("simulation.strata", "set either strata or stratify_by, not both")
		}
		if _, err := s.Strata(space); err != nil {
			return err
		}
	}
	if m := s.MCMC; m != nil {
		if m.LogDensity == "" {
			return core.NewValidationError("mcmc.log_density", "a log density is required")
		}
		if m.InitialPoint != nil && len(m.InitialPoint) != space.Len() {
			return core.NewValidationErrorf("mcmc.initial_point", "has %d values for %d parameters", len(m.InitialPoint), space.Len())
		}
	}
	return nil
}

// Space builds a fresh ParameterSpace. Every call returns a new, unfrozen space.
func (s *Scenario) Space() (*paramspace.ParameterSpace, error) {
	return paramspace.Description{Parameters: s.Parameters, Correlations: s.Correlations}.Build()
}

// Strata resolves the simulation strata against space. It returns nil when the
// scenario does not stratify.
func (s *Scenario) Strata(space *paramspace.ParameterSpace) ([]paramspace.Stratum, error) {
	if s.Simulation == nil {
		return nil, nil
	}
	if s.Simulation.StratifyBy != "" {
		return space.CategoricalStrata(s.Simulation.StratifyBy)
	}
	return s.Simulation.Strata, nil
}

// Fingerprint hashes the canonical JSON form of the scenario. Equal scenarios
// hash equally whichever format they were read from.
func (s *Scenario) Fingerprint() core.ScenarioHash {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return core.ScenarioHash(core.NewHash(data))
}
