package paramspace

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gorisk/domain/core"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"
)

// DistributionType names a supported marginal distribution family.
type DistributionType string

const (
	DistNormal      DistributionType = "normal"
	DistUniform     DistributionType = "uniform"
	DistTriangular  DistributionType = "triangular"
	DistLogNormal   DistributionType = "lognormal"
	DistBeta        DistributionType = "beta"
	DistGamma       DistributionType = "gamma"
	DistExponential DistributionType = "exponential"
	DistCategorical DistributionType = "categorical"
)

// DistributionTypes lists every supported family in a stable order.
var DistributionTypes = []DistributionType{
	DistNormal, DistUniform, DistTriangular, DistLogNormal,
	DistBeta, DistGamma, DistExponential, DistCategorical,
}

// requiredKeys holds the exact distribution_params keys of each fixed-arity family.
// Categorical is variadic and validated separately.
var requiredKeys = map[DistributionType][]string{
	DistNormal:      {"mean", "std"},
	DistUniform:     {"low", "high"},
	DistTriangular:  {"low", "mode", "high"},
	DistLogNormal:   {"mu", "sigma"},
	DistBeta:        {"alpha", "beta"},
	DistGamma:       {"shape", "rate"},
	DistExponential: {"rate"},
}

// Distribution is the closed set of marginal distributions a Parameter can carry.
// The unexported marker keeps the set closed to this package so type switches over
// it stay exhaustive.
type Distribution interface {
	Type() DistributionType
	// Params returns the distribution_params the distribution was built from.
	Params() map[string]float64
	CDF(x float64) float64
	Quantile(p float64) float64
	// Survival is P(X > x), accurate where CDF rounds to one.
	Survival(x float64) float64
	// InverseSurvival returns x with Survival(x) = s.
	InverseSurvival(s float64) float64
	LogProb(x float64) float64
	// Support returns the closed interval outside of which the density is zero.
	Support() (lo, hi float64)
	Mean() float64
	StdDev() float64

	isDistribution()
}

// NewDistribution builds a distribution from its type and named arguments.
// The params map must contain exactly the keys required by the type.
func NewDistribution(dt DistributionType, params map[string]float64) (Distribution, error) {
	for k, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, core.NewValidationErrorf("distribution_params."+k, "must be finite, got %v", v)
		}
	}

	if dt == DistCategorical {
		return newCategorical(params)
	}

	keys, ok := requiredKeys[dt]
	if !ok {
		return nil, core.NewValidationErrorf("distribution_type", "unsupported distribution %q", dt)
	}
	if err := checkExactKeys(dt, params, keys); err != nil {
		return nil, err
	}

	switch dt {
	case DistNormal:
		if params["std"] <= 0 {
			return nil, core.NewValidationError("distribution_params.std", "must be positive")
		}
		return Normal{Mu: params["mean"], Sigma: params["std"]}, nil
	case DistUniform:
		if params["low"] >= params["high"] {
			return nil, core.NewValidationError("distribution_params", "uniform requires low < high")
		}
		return Uniform{Low: params["low"], High: params["high"]}, nil
	case DistTriangular:
		low, mode, high := params["low"], params["mode"], params["high"]
		if !(low < high) || mode < low || mode > high {
			return nil, core.NewValidationError("distribution_params", "triangular requires low <= mode <= high and low < high")
		}
		return Triangular{Low: low, Mode: mode, High: high}, nil
	case DistLogNormal:
		if params["sigma"] <= 0 {
			return nil, core.NewValidationError("distribution_params.sigma", "must be positive")
		}
		return LogNormal{Mu: params["mu"], Sigma: params["sigma"]}, nil
	case DistBeta:
		if params["alpha"] <= 0 || params["beta"] <= 0 {
			return nil, core.NewValidationError("distribution_params", "beta requires alpha > 0 and beta > 0")
		}
		return Beta{Alpha: params["alpha"], Beta: params["beta"]}, nil
	case DistGamma:
		if params["shape"] <= 0 || params["rate"] <= 0 {
			return nil, core.NewValidationError("distribution_params", "gamma requires shape > 0 and rate > 0")
		}
		return Gamma{Shape: params["shape"], Rate: params["rate"]}, nil
	case DistExponential:
		if params["rate"] <= 0 {
			return nil, core.NewValidationError("distribution_params.rate", "must be positive")
		}
		return Exponential{Rate: params["rate"]}, nil
	}
	return nil, core.NewValidationErrorf("distribution_type", "unsupported distribution %q", dt)
}

func checkExactKeys(dt DistributionType, params map[string]float64, keys []string) error {
	var missing, extra []string
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range params {
		found := false
		for _, want := range keys {
			if k == want {
				found = true
				break
			}
		}
		if !found {
			extra = append(extra, k)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	var reasons []string
	if len(missing) > 0 {
		reasons = append(reasons, "missing "+strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		reasons = append(reasons, "unexpected "+strings.Join(extra, ", "))
	}
	return core.NewValidationErrorf("distribution_params", "%s requires {%s}: %s",
		dt, strings.Join(keys, ", "), strings.Join(reasons, "; "))
}

// Normal is N(Mu, Sigma²).
type Normal struct{ Mu, Sigma float64 }

func (d Normal) dist() distuv.Normal { return distuv.Normal{Mu: d.Mu, Sigma: d.Sigma} }
func (Normal) Type() DistributionType { return DistNormal }
func (d Normal) Params() map[string]float64 { return map[string]float64{"mean": d.Mu, "std": d.Sigma} }
func (d Normal) CDF(x float64) float64 { return d.dist().CDF(x) }
func (d Normal) Quantile(p float64) float64 { return d.dist().Quantile(p) }
func (d Normal) Survival(x float64) float64 { return d.dist().CDF(2*d.Mu - x) }
func (d Normal) InverseSurvival(s float64) float64 { return 2*d.Mu - d.dist().Quantile(s) }
func (d Normal) LogProb(x float64) float64 { return d.dist().LogProb(x) }
func (Normal) Support() (float64, float64) { return math.Inf(-1), math.Inf(1) }
func (d Normal) Mean() float64 { return d.Mu }
func (d Normal) StdDev() float64 { return d.Sigma }
func (Normal) isDistribution() {}

// Uniform is U(Low, High).
type Uniform struct{ Low, High float64 }

func (d Uniform) dist() distuv.Uniform { return distuv.Uniform{Min: d.Low, Max: d.High} }
func (Uniform) Type() DistributionType { return DistUniform }
func (d Uniform) Params() map[string]float64 { return map[string]float64{"low": d.Low, "high": d.High} }
func (d Uniform) CDF(x float64) float64 { return d.dist().CDF(x) }
func (d Uniform) Quantile(p float64) float64 { return d.dist().Quantile(p) }
func (d Uniform) Survival(x float64) float64 { return d.dist().Survival(x) }
func (d Uniform) InverseSurvival(s float64) float64 { return d.High - s*(d.High-d.Low) }
func (d Uniform) LogProb(x float64) float64 { return d.dist().LogProb(x) }
func (d Uniform) Support() (float64, float64) { return d.Low, d.High }
func (d Uniform) Mean() float64 { return (d.Low + d.High) / 2 }
func (d Uniform) StdDev() float64 { return (d.High - d.Low) / math.Sqrt(12) }
func (Uniform) isDistribution() {}

// Triangular has lower limit Low, upper limit High and peak at Mode.
type Triangular struct{ Low, Mode, High float64 }

func (d Triangular) dist() distuv.Triangle { return distuv.NewTriangle(d.Low, d.High, d.Mode, nil) }
func (Triangular) Type() DistributionType { return DistTriangular }
func (d Triangular) Params() map[string]float64 {
	return map[string]float64{"low": d.Low, "mode": d.Mode, "high": d.High}
}
func (d Triangular) CDF(x float64) float64 { return d.dist().CDF(x) }
func (d Triangular) Quantile(p float64) float64 { return d.dist().Quantile(p) }

// mirror is the triangle reflected about the midpoint of its support.
func (d Triangular) mirror() distuv.Triangle {
	return distuv.NewTriangle(d.Low, d.High, d.Low+d.High-d.Mode, nil)
}
func (d Triangular) Survival(x float64) float64 { return d.mirror().CDF(d.Low + d.High - x) }
func (d Triangular) InverseSurvival(s float64) float64 {
	return d.Low + d.High - d.mirror().Quantile(s)
}
func (d Triangular) LogProb(x float64) float64 { return d.dist().LogProb(x) }
func (d Triangular) Support() (float64, float64) { return d.Low, d.High }
func (d Triangular) Mean() float64 { return (d.Low + d.Mode + d.High) / 3 }
func (d Triangular) StdDev() float64 {
	a, b, c := d.Low, d.High, d.Mode
	return math.Sqrt((a*a + b*b + c*c - a*b - a*c - b*c) / 18)
}
func (Triangular) isDistribution() {}

// LogNormal is exp(N(Mu, Sigma²)).
type LogNormal struct{ Mu, Sigma float64 }

func (d LogNormal) dist() distuv.LogNormal { return distuv.LogNormal{Mu: d.Mu, Sigma: d.Sigma} }
func (LogNormal) Type() DistributionType { return DistLogNormal }
func (d LogNormal) Params() map[string]float64 { return map[string]float64{"mu": d.Mu, "sigma": d.Sigma} }
func (d LogNormal) CDF(x float64) float64 { return d.dist().CDF(x) }
func (d LogNormal) Quantile(p float64) float64 { return d.dist().Quantile(p) }
func (d LogNormal) Survival(x float64) float64 {
	if x <= 0 {
		return 1
	}
	return Normal{Mu: d.Mu, Sigma: d.Sigma}.Survival(math.Log(x))
}
func (d LogNormal) InverseSurvival(s float64) float64 {
	return math.Exp(Normal{Mu: d.Mu, Sigma: d.Sigma}.InverseSurvival(s))
}
func (d LogNormal) LogProb(x float64) float64 { return d.dist().LogProb(x) }
func (LogNormal) Support() (float64, float64) { return 0, math.Inf(1) }
func (d LogNormal) Mean() float64 { return d.dist().Mean() }
func (d LogNormal) StdDev() float64 { return d.dist().StdDev() }
func (LogNormal) isDistribution() {}

// Beta is Beta(Alpha, Beta) on [0, 1].
type Beta struct{ Alpha, Beta float64 }

func (d Beta) dist() distuv.Beta { return distuv.Beta{Alpha: d.Alpha, Beta: d.Beta} }
func (Beta) Type() DistributionType { return DistBeta }
func (d Beta) Params() map[string]float64 { return map[string]float64{"alpha": d.Alpha, "beta": d.Beta} }
func (d Beta) CDF(x float64) float64 { return d.dist().CDF(x) }
func (d Beta) Quantile(p float64) float64 { return d.dist().Quantile(p) }
func (d Beta) Survival(x float64) float64 { return d.dist().Survival(x) }
func (d Beta) InverseSurvival(s float64) float64 {
	return 1 - distuv.Beta{Alpha: d.Beta, Beta: d.Alpha}.Quantile(s)
}
func (d Beta) LogProb(x float64) float64 { return d.dist().LogProb(x) }
func (Beta) Support() (float64, float64) { return 0, 1 }
func (d Beta) Mean() float64 { return d.dist().Mean() }
func (d Beta) StdDev() float64 { return d.dist().StdDev() }
func (Beta) isDistribution() {}

// Gamma has shape Shape and rate Rate.
type Gamma struct{ Shape, Rate float64 }

func (d Gamma) dist() distuv.Gamma { return distuv.Gamma{Alpha: d.Shape, Beta: d.Rate} }
func (Gamma) Type() DistributionType { return DistGamma }
func (d Gamma) Params() map[string]float64 { return map[string]float64{"shape": d.Shape, "rate": d.Rate} }
func (d Gamma) CDF(x float64) float64 { return d.dist().CDF(x) }
func (d Gamma) Quantile(p float64) float64 { return d.dist().Quantile(p) }
func (d Gamma) Survival(x float64) float64 { return d.dist().Survival(x) }
func (d Gamma) InverseSurvival(s float64) float64 {
	return mathext.GammaIncRegCompInv(d.Shape, s) / d.Rate
}
func (d Gamma) LogProb(x float64) float64 { return d.dist().LogProb(x) }
func (Gamma) Support() (float64, float64) { return 0, math.Inf(1) }
func (d Gamma) Mean() float64 { return d.Shape / d.Rate }
func (d Gamma) StdDev() float64 { return math.Sqrt(d.Shape) / d.Rate }
func (Gamma) isDistribution() {}

// Exponential has rate Rate.
type Exponential struct{ Rate float64 }

func (d Exponential) dist() distuv.Exponential { return distuv.Exponential{Rate: d.Rate} }
func (Exponential) Type() DistributionType { return DistExponential }
func (d Exponential) Params() map[string]float64 { return map[string]float64{"rate": d.Rate} }
func (d Exponential) CDF(x float64) float64 { return d.dist().CDF(x) }
func (d Exponential) Quantile(p float64) float64 { return d.dist().Quantile(p) }
func (d Exponential) Survival(x float64) float64 { return d.dist().Survival(x) }
func (d Exponential) InverseSurvival(s float64) float64 { return -math.Log(s) / d.Rate }
func (d Exponential) LogProb(x float64) float64 { return d.dist().LogProb(x) }
func (Exponential) Support() (float64, float64) { return 0, math.Inf(1) }
func (d Exponential) Mean() float64 { return 1 / d.Rate }
func (d Exponential) StdDev() float64 { return 1 / d.Rate }
func (Exponential) isDistribution() {}

// Categorical takes the integer values 0..K-1 with probabilities Probs.
type Categorical struct {
	Probs []float64
	cum   []float64
}

func newCategorical(params map[string]float64) (Distribution, error) {
	k := len(params)
	if k < 2 {
		return nil, core.NewValidationError("distribution_params", "categorical requires at least p0 and p1")
	}
	probs := make([]float64, k)
	for key, v := range params {
		if !strings.HasPrefix(key, "p") {
			return nil, core.NewValidationErrorf("distribution_params", "categorical key %q must be p<index>", key)
		}
		idx, err := strconv.Atoi(key[1:])
		if err != nil || idx < 0 || idx >= k || key != "p"+strconv.Itoa(idx) {
			return nil, core.NewValidationErrorf("distribution_params", "categorical keys must be p0..p%d, got %q", k-1, key)
		}
		if v < 0 {
			return nil, core.NewValidationErrorf("distribution_params."+key, "probability must be non-negative, got %v", v)
		}
		probs[idx] = v
	}
	d, err := NewCategorical(probs)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewCategorical builds a categorical distribution from probabilities that sum to one.
func NewCategorical(probs []float64) (Categorical, error) {
	if len(probs) < 2 {
		return Categorical{}, core.NewValidationError("distribution_params", "categorical requires at least two categories")
	}
	cum := make([]float64, len(probs))
	total := 0.0
	for i, p := range probs {
		if p < 0 || math.IsNaN(p) {
			return Categorical{}, core.NewValidationErrorf("distribution_params", "p%d must be non-negative", i)
		}
		total += p
		cum[i] = total
	}
	if math.Abs(total-1) > 1e-9 {
		return Categorical{}, core.NewValidationErrorf("distribution_params", "categorical probabilities sum to %v, want 1", total)
	}
	cum[len(cum)-1] = 1
	out := make([]float64, len(probs))
	copy(out, probs)
	return Categorical{Probs: out, cum: cum}, nil
}

func (Categorical) Type() DistributionType { return DistCategorical }

func (d Categorical) Params() map[string]float64 {
	out := make(map[string]float64, len(d.Probs))
	for i, p := range d.Probs {
		out[fmt.Sprintf("p%d", i)] = p
	}
	return out
}

func (d Categorical) CDF(x float64) float64 {
	if x < 0 {
		return 0
	}
	k := int(math.Floor(x))
	if k >= len(d.cum)-1 {
		return 1
	}
	return d.cum[k]
}

func (d Categorical) Quantile(p float64) float64 {
	if p <= 0 {
		for i, pk := range d.Probs {
			if pk > 0 {
				return float64(i)
			}
		}
		return 0
	}
	i := sort.SearchFloat64s(d.cum, p)
	if i >= len(d.cum) {
		i = len(d.cum) - 1
	}
	return float64(i)
}

func (d Categorical) Survival(x float64) float64 { return 1 - d.CDF(x) }

func (d Categorical) InverseSurvival(s float64) float64 { return d.Quantile(1 - s) }

func (d Categorical) LogProb(x float64) float64 {
	k := math.Round(x)
	if k != x || k < 0 || int(k) >= len(d.Probs) {
		return math.Inf(-1)
	}
	return math.Log(d.Probs[int(k)])
}

func (d Categorical) Support() (float64, float64) { return 0, float64(len(d.Probs) - 1) }

func (d Categorical) Mean() float64 {
	m := 0.0
	for i, p := range d.Probs {
		m += float64(i) * p
	}
	return m
}

func (d Categorical) StdDev() float64 {
	m := d.Mean()
	v := 0.0
	for i, p := range d.Probs {
		dx := float64(i) - m
		v += dx * dx * p
	}
	return math.Sqrt(v)
}

func (Categorical) isDistribution() {}

// probBelow returns P(X < x). It only differs from CDF for discrete families,
// where a lower bound must include the mass at the bound itself.
func probBelow(d Distribution, x float64) float64 {
	switch v := d.(type) {
	case Categorical:
		return v.CDF(math.Ceil(x) - 1)
	case Normal, Uniform, Triangular, LogNormal, Beta, Gamma, Exponential:
		return d.CDF(x)
	}
	return d.CDF(x)
}

// isDiscrete reports whether the family takes integer values only.
func isDiscrete(d Distribution) bool {
	switch d.(type) {
	case Categorical:
		return true
	case Normal, Uniform, Triangular, LogNormal, Beta, Gamma, Exponential:
		return false
	}
	return false
}
