package paramspace

import (
	"math"
	"strings"

	"gorisk/domain/core"
)

// Bounds is a closed interval used to truncate a marginal. Infinite ends are allowed.
type Bounds struct {
	Lower float64
	Upper float64
}

// Unbounded returns (-Inf, +Inf).
func Unbounded() Bounds {
	return Bounds{Lower: math.Inf(-1), Upper: math.Inf(1)}
}

// Contains reports whether x lies inside the closed interval.
func (b Bounds) Contains(x float64) bool {
	return x >= b.Lower && x <= b.Upper
}

// Parameter is a named uncertain quantity.
type Parameter struct {
	Name             string
	Distribution     Distribution
	Bounds           Bounds
	CorrelationGroup string

	// effective domain = Bounds ∩ support. pLo and pHi are the CDF at its ends,
	// or the survival function when upperTail is set.
	lo, hi    float64
	pLo, pHi  float64
	mass      float64
	upperTail bool
}

// ParameterOption customises a Parameter at construction.
type ParameterOption func(*Parameter)

// WithBounds truncates the marginal to [lower, upper].
func WithBounds(lower, upper float64) ParameterOption {
	return func(p *Parameter) {
		p.Bounds = Bounds{Lower: lower, Upper: upper}
	}
}

// WithCorrelationGroup tags the parameter as part of the jointly sampled subset.
func WithCorrelationGroup(group string) ParameterOption {
	return func(p *Parameter) {
		p.CorrelationGroup = group
	}
}

// NewParameter validates distribution_params against the declared type and
// returns a ready-to-sample Parameter.
func NewParameter(name string, dt DistributionType, params map[string]float64, opts ...ParameterOption) (Parameter, error) {
	if strings.TrimSpace(name) == "" {
		return Parameter{}, core.NewValidationError("name", "parameter name cannot be empty")
	}
	dist, err := NewDistribution(dt, params)
	if err != nil {
		if ve, ok := err.(*core.ValidationError); ok {
			ve.Field = name + "." + ve.Field
		}
		return Parameter{}, err
	}
	return NewParameterFromDistribution(name, dist, opts...)
}

// NewParameterFromDistribution wraps an already constructed distribution.
func NewParameterFromDistribution(name string, dist Distribution, opts ...ParameterOption) (Parameter, error) {
	if strings.TrimSpace(name) == "" {
		return Parameter{}, core.NewValidationError("name", "parameter name cannot be empty")
	}
	if dist == nil {
		return Parameter{}, core.NewValidationError(name+".distribution", "distribution is required")
	}
	p := Parameter{Name: name, Distribution: dist, Bounds: Unbounded()}
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.prepare(); err != nil {
		return Parameter{}, err
	}
	return p, nil
}

func (p *Parameter) prepare() error {
	b := p.Bounds
	if math.IsNaN(b.Lower) || math.IsNaN(b.Upper) {
		return core.NewValidationError(p.Name+".bounds", "bounds cannot be NaN")
	}
	if b.Lower >= b.Upper {
		return core.NewValidationErrorf(p.Name+".bounds", "lower bound %v must be below upper bound %v", b.Lower, b.Upper)
	}

	sLo, sHi := p.Distribution.Support()
	p.lo = math.Max(b.Lower, sLo)
	p.hi = math.Min(b.Upper, sHi)
	if p.lo > p.hi {
		return core.NewValidationErrorf(p.Name+".bounds", "bounds [%v, %v] do not intersect the support [%v, %v]", b.Lower, b.Upper, sLo, sHi)
	}

	p.pLo = probBelow(p.Distribution, p.lo)
	p.pHi = p.Distribution.CDF(p.hi)
	p.mass = p.pHi - p.pLo
	p.upperTail = p.pLo > 0.5 && !isDiscrete(p.Distribution)
	if p.upperTail {
		p.pLo = p.Distribution.Survival(p.lo)
		p.pHi = p.Distribution.Survival(p.hi)
		p.mass = p.pLo - p.pHi
	}
	if !(p.mass > 0) {
		return core.NewValidationErrorf(p.Name+".bounds", "bounds [%v, %v] carry no probability mass", b.Lower, b.Upper)
	}
	return nil
}

// massBelow is the untruncated probability between the lower end of the
// domain and x, counting an atom at the lower end when below is false.
func (p Parameter) massBelow(x float64, below bool) float64 {
	if p.upperTail {
		return p.pLo - p.Distribution.Survival(x)
	}
	if below {
		return probBelow(p.Distribution, x) - p.pLo
	}
	return p.Distribution.CDF(x) - p.pLo
}

// Domain returns the effective sampling interval (bounds intersected with support).
func (p Parameter) Domain() (lo, hi float64) {
	return p.lo, p.hi
}

// Mass returns the probability the untruncated marginal assigns to the domain.
func (p Parameter) Mass() float64 {
	return p.mass
}

// Contains reports whether x is a valid value of the parameter.
func (p Parameter) Contains(x float64) bool {
	if math.IsNaN(x) || math.IsInf(x, 0) || x < p.lo || x > p.hi {
		return false
	}
	if isDiscrete(p.Distribution) && x != math.Round(x) {
		return false
	}
	return true
}

// FromUnit maps u ∈ (0,1) through the truncated inverse CDF.
func (p Parameter) FromUnit(u float64) float64 {
	var x float64
	if p.upperTail {
		s := p.pLo - clampUnit(u)*p.mass
		x = p.Distribution.InverseSurvival(math.Min(math.Max(s, tinyProb), 1-epsProb))
	} else {
		prob := p.pLo + clampUnit(u)*p.mass
		x = p.Distribution.Quantile(math.Min(math.Max(prob, tinyProb), 1-epsProb))
	}
	if x < p.lo {
		x = p.lo
	} else if x > p.hi {
		x = p.hi
	}
	return x
}

// ToUnit is the truncated CDF, the inverse of FromUnit for continuous marginals.
func (p Parameter) ToUnit(x float64) float64 {
	return p.massBelow(x, false) / p.mass
}

// unitInterval maps a value interval of the parameter onto its truncated unit scale.
func (p Parameter) unitInterval(lower, upper float64) (float64, float64) {
	lower = math.Max(lower, p.lo)
	upper = math.Min(upper, p.hi)
	if lower > upper {
		return 0, 0
	}
	a := p.massBelow(lower, true) / p.mass
	b := p.massBelow(upper, false) / p.mass
	return math.Max(a, 0), math.Min(b, 1)
}

// LogProb is the truncation-normalised marginal log density.
func (p Parameter) LogProb(x float64) float64 {
	if !p.Contains(x) {
		return math.Inf(-1)
	}
	return p.Distribution.LogProb(x) - math.Log(p.mass)
}

// ScaleHint is a finite, positive length scale used to size random-walk proposals.
func (p Parameter) ScaleHint() float64 {
	sd := p.Distribution.StdDev()
	if w := p.hi - p.lo; !math.IsInf(w, 0) && (math.IsNaN(sd) || math.IsInf(sd, 0) || sd > w) {
		sd = w / math.Sqrt(12)
	}
	if math.IsNaN(sd) || math.IsInf(sd, 0) || sd <= 0 {
		return 1
	}
	return sd
}

const (
	tinyProb = 1e-300
	epsProb  = 1.0 / (1 << 53)
)

func clampUnit(u float64) float64 {
	if math.IsNaN(u) || u < 0 {
		return 0
	}
	if u > 1 {
		return 1
	}
	return u
}
