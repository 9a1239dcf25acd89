package paramspace

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gorisk/domain/core"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/samplemv"
)

// SamplingMethod selects how the unit-cube design is generated.
type SamplingMethod string

const (
	MethodSRS         SamplingMethod = "srs"
	MethodLHS         SamplingMethod = "lhs"
	MethodStratified  SamplingMethod = "stratified"
	MethodQuasiRandom SamplingMethod = "quasi_random"
)

// ParseSamplingMethod accepts the canonical names plus a few common aliases.
func ParseSamplingMethod(s string) (SamplingMethod, error) {
	switch s {
	case "srs", "random", "simple":
		return MethodSRS, nil
	case "lhs", "latin_hypercube":
		return MethodLHS, nil
	case "stratified":
		return MethodStratified, nil
	case "quasi_random", "qmc", "halton", "sobol":
		return MethodQuasiRandom, nil
	}
	return "", core.NewValidationErrorf("method", "unknown sampling method %q", s)
}

// unitCube is the identity quantiler, so gonum's designs stay on [0,1]^d and the
// marginal transform is applied by the space itself.
type unitCube struct{}

func (unitCube) Quantile(x, p []float64) []float64 {
	if x == nil {
		x = make([]float64, len(p))
	}
	copy(x, p)
	return x
}

// OpenUnit returns a uniform draw strictly inside (0,1).
func OpenUnit(rng *rand.Rand) float64 {
	return (float64(rng.Uint64()>>11) + 0.5) / (1 << 53)
}

// UnitDesign generates an n×d design on the unit cube. Stratified designs need
// strata and are produced by SampleStratum instead.
func UnitDesign(n, d int, method SamplingMethod, rng *rand.Rand) (*mat.Dense, error) {
	if n <= 0 {
		return nil, core.NewValidationErrorf("n_samples", "must be positive, got %d", n)
	}
	if d <= 0 {
		return nil, core.NewValidationError("parameters", "parameter space is empty")
	}
	if rng == nil {
		return nil, core.NewValidationError("rng", "random stream is required")
	}

	design := mat.NewDense(n, d, nil)
	switch method {
	case MethodSRS:
		raw := design.RawMatrix()
		for i := 0; i < n; i++ {
			row := raw.Data[i*raw.Stride : i*raw.Stride+d]
			for j := range row {
				row[j] = OpenUnit(rng)
			}
		}
	case MethodLHS:
		samplemv.LatinHypercube{Q: unitCube{}, Src: rng}.Sample(design)
	case MethodQuasiRandom:
		samplemv.Halton{Kind: samplemv.Owen, Q: unitCube{}, Src: rng}.Sample(design)
	case MethodStratified:
		return nil, core.NewValidationError("method", "stratified sampling requires strata; use SampleStratum")
	default:
		return nil, core.NewValidationErrorf("method", "unknown sampling method %q", method)
	}
	return design, nil
}

// Sample returns n parameter vectors honouring the marginals, bounds and
// correlations of the space. It freezes the space.
func (s *ParameterSpace) Sample(n int, method SamplingMethod, rng *rand.Rand) ([][]float64, error) {
	if err := s.Freeze(); err != nil {
		return nil, err
	}
	design, err := UnitDesign(n, len(s.params), method, rng)
	if err != nil {
		return nil, err
	}
	return s.Transform(design), nil
}

// Transform maps every row of a unit-cube design to a parameter vector.
func (s *ParameterSpace) Transform(design *mat.Dense) [][]float64 {
	n, _ := design.Dims()
	out := make([][]float64, n)
	scratch := s.newScratch()
	for i := 0; i < n; i++ {
		out[i] = make([]float64, len(s.params))
		s.transformRow(design.RawRowView(i), out[i], scratch)
	}
	return out
}

// TransformPoint maps a single unit-cube point u into dst.
func (s *ParameterSpace) TransformPoint(u, dst []float64) {
	s.transformRow(u, dst, s.newScratch())
}

type transformScratch struct {
	z, tmp []float64
}

func (s *ParameterSpace) newScratch() transformScratch {
	k := 0
	if s.cop != nil {
		k = len(s.cop.dims)
	}
	return transformScratch{z: make([]float64, k), tmp: make([]float64, k)}
}

// transformRow applies the Gaussian copula to the correlated dims, then each
// marginal's truncated inverse CDF. Truncation happens after the correlation
// transform, so the dependence structure is defined on the copula scale.
func (s *ParameterSpace) transformRow(u, dst []float64, sc transformScratch) {
	copy(dst, u)
	if s.cop != nil && len(s.cop.dims) > 1 {
		for k, d := range s.cop.dims {
			sc.z[k] = distuv.UnitNormal.Quantile(math.Min(math.Max(u[d], tinyProb), 1-epsProb))
		}
		s.cop.correlate(sc.z, sc.tmp)
		for k, d := range s.cop.dims {
			dst[d] = distuv.UnitNormal.CDF(sc.z[k])
		}
	}
	for i, p := range s.params {
		dst[i] = p.FromUnit(dst[i])
	}
}

// Stratum restricts one parameter to a value interval. Its weight is the
// probability mass of that interval under the parameter's truncated marginal.
type Stratum struct {
	Name      string     `json:"name" yaml:"name"`
	Parameter string     `json:"parameter" yaml:"parameter"`
	Lower     core.Float `json:"lower" yaml:"lower"`
	Upper     core.Float `json:"upper" yaml:"upper"`
}

// StratumWeight returns the probability mass of a stratum.
func (s *ParameterSpace) StratumWeight(st Stratum) (float64, error) {
	p, ok := s.Parameter(st.Parameter)
	if !ok {
		return 0, core.NewValidationErrorf("strata."+st.Name, "unknown parameter %q", st.Parameter)
	}
	if !(st.Lower < st.Upper) {
		return 0, core.NewValidationErrorf("strata."+st.Name, "lower %v must be below upper %v", st.Lower, st.Upper)
	}
	a, b := p.unitInterval(st.Lower.Value(), st.Upper.Value())
	return math.Max(b-a, 0), nil
}

// CategoricalStrata returns one stratum per category with non-zero probability.
func (s *ParameterSpace) CategoricalStrata(name string) ([]Stratum, error) {
	p, ok := s.Parameter(name)
	if !ok {
		return nil, core.NewValidationErrorf("strata", "unknown parameter %q", name)
	}
	cat, ok := p.Distribution.(Categorical)
	if !ok {
		return nil, core.NewValidationErrorf("strata", "parameter %q is %s, not categorical", name, p.Distribution.Type())
	}
	var strata []Stratum
	for k, prob := range cat.Probs {
		if prob == 0 || !p.Contains(float64(k)) {
			continue
		}
		strata = append(strata, Stratum{
			Name:      fmt.Sprintf("%s=%d", name, k),
			Parameter: name,
			Lower:     core.Float(float64(k) - 0.5),
			Upper:     core.Float(float64(k) + 0.5),
		})
	}
	return strata, nil
}

// SampleStratum draws n simple-random points with the stratifying parameter
// confined to the stratum. The stratifying parameter must not be correlated.
func (s *ParameterSpace) SampleStratum(n int, st Stratum, rng *rand.Rand) ([][]float64, error) {
	if err := s.Freeze(); err != nil {
		return nil, err
	}
	j, ok := s.index[st.Parameter]
	if !ok {
		return nil, core.NewValidationErrorf("strata."+st.Name, "unknown parameter %q", st.Parameter)
	}
	if s.IsCorrelated(st.Parameter) {
		return nil, core.NewValidationErrorf("strata."+st.Name, "stratifying parameter %q must not be correlated", st.Parameter)
	}
	a, b := s.params[j].unitInterval(st.Lower.Value(), st.Upper.Value())
	if !(b > a) {
		return nil, core.NewValidationErrorf("strata."+st.Name, "stratum carries no probability mass")
	}
	design, err := UnitDesign(n, len(s.params), MethodSRS, rng)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		design.Set(i, j, a+design.At(i, j)*(b-a))
	}
	return s.Transform(design), nil
}
