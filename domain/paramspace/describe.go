package paramspace

import (
	"encoding/json"
	"math"
	"sort"

	"gorisk/domain/core"
)

// ParameterDescription is the plain, serialisable form of a Parameter.
type ParameterDescription struct {
	Name             string             `json:"name" yaml:"name"`
	Distribution     DistributionType   `json:"distribution" yaml:"distribution"`
	Params           map[string]float64 `json:"params" yaml:"params"`
	Lower            *core.Float        `json:"lower,omitempty" yaml:"lower,omitempty"`
	Upper            *core.Float        `json:"upper,omitempty" yaml:"upper,omitempty"`
	CorrelationGroup string             `json:"correlation_group,omitempty" yaml:"correlation_group,omitempty"`
}

// CorrelationDescription is one off-diagonal entry of the correlation matrix.
type CorrelationDescription struct {
	A   string  `json:"a" yaml:"a"`
	B   string  `json:"b" yaml:"b"`
	Rho float64 `json:"rho" yaml:"rho"`
}

// Description is a ParameterSpace as plain data.
type Description struct {
	Parameters   []ParameterDescription   `json:"parameters" yaml:"parameters"`
	Correlations []CorrelationDescription `json:"correlations,omitempty" yaml:"correlations,omitempty"`
}

// Describe returns the space as plain data. Correlations are ordered by parameter position.
func (s *ParameterSpace) Describe() Description {
	desc := Description{Parameters: make([]ParameterDescription, len(s.params))}
	for i, p := range s.params {
		pd := ParameterDescription{
			Name:             p.Name,
			Distribution:     p.Distribution.Type(),
			Params:           p.Distribution.Params(),
			CorrelationGroup: p.CorrelationGroup,
		}
		if !math.IsInf(p.Bounds.Lower, -1) {
			lo := core.Float(p.Bounds.Lower)
			pd.Lower = &lo
		}
		if !math.IsInf(p.Bounds.Upper, 1) {
			hi := core.Float(p.Bounds.Upper)
			pd.Upper = &hi
		}
		desc.Parameters[i] = pd
	}

	keys := make([]pairKey, 0, len(s.corr))
	for k := range s.corr {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].i != keys[b].i {
			return keys[a].i < keys[b].i
		}
		return keys[a].j < keys[b].j
	})
	for _, k := range keys {
		desc.Correlations = append(desc.Correlations, CorrelationDescription{
			A:   s.params[k.i].Name,
			B:   s.params[k.j].Name,
			Rho: s.corr[k],
		})
	}
	return desc
}

// Build constructs a ParameterSpace from its description.
func (d Description) Build() (*ParameterSpace, error) {
	if len(d.Parameters) == 0 {
		return nil, core.NewValidationError("parameters", "at least one parameter is required")
	}
	space := NewParameterSpace()
	for _, pd := range d.Parameters {
		lower, upper := math.Inf(-1), math.Inf(1)
		if pd.Lower != nil {
			lower = pd.Lower.Value()
		}
		if pd.Upper != nil {
			upper = pd.Upper.Value()
		}
		opts := []ParameterOption{WithBounds(lower, upper)}
		if pd.CorrelationGroup != "" {
			opts = append(opts, WithCorrelationGroup(pd.CorrelationGroup))
		}
		p, err := NewParameter(pd.Name, pd.Distribution, pd.Params, opts...)
		if err != nil {
			return nil, err
		}
		if err := space.AddParameter(p); err != nil {
			return nil, err
		}
	}
	for _, c := range d.Correlations {
		if err := space.SetCorrelation(c.A, c.B, c.Rho); err != nil {
			return nil, err
		}
	}
	return space, nil
}

// Fingerprint hashes the description so runs over the same space can be matched.
func (s *ParameterSpace) Fingerprint() core.ConfigHash {
	data, err := json.Marshal(s.Describe())
	if err != nil {
		return ""
	}
	return core.ConfigHash(core.NewHash(data))
}
