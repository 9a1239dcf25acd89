package profiling

import (
	"math"
	"sort"

	"gorisk/domain/simulation"

	"gonum.org/v1/gonum/stat/distuv"
)

// OutputProfile is the shape analysis of one simulated output
type OutputProfile struct {
	Name       string                   `json:"name"`
	Summary    simulation.OutputSummary `json:"summary"`
	Outliers   int                      `json:"outliers"`
	JarqueBera float64                  `json:"jarque_bera"`
	NormalityP float64                  `json:"normality_p"`
	IsNormal   bool                     `json:"is_normal"`
}

// OutputProfiler profiles every output of a simulation result
type OutputProfiler struct {
	analyzer *DistributionAnalyzer
}

// NewOutputProfiler creates a new output profiler
func NewOutputProfiler() *OutputProfiler {
	return &OutputProfiler{analyzer: NewDistributionAnalyzer()}
}

// ProfileResult analyses all outputs of a result, skipping failed draws
func (op *OutputProfiler) ProfileResult(result *simulation.SimulationResult) ([]OutputProfile, error) {
	profiles := make([]OutputProfile, 0, len(result.OutputNames))
	for _, name := range result.OutputNames {
		var values []float64
		for _, v := range result.Outputs[name] {
			if v.IsFinite() {
				values = append(values, v.Value())
			}
		}
		profile, err := op.ProfileColumn(name, values)
		if err != nil {
			return nil, err
		}
		if s, ok := result.Summaries[name]; ok {
			profile.Summary = s
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// ProfileColumn performs the shape analysis of a single output
func (op *OutputProfiler) ProfileColumn(name string, data []float64) (OutputProfile, error) {
	summary, err := op.analyzer.Summarize(data)
	if err != nil {
		return OutputProfile{Name: name}, err
	}
	jb, p := testNormality(data)
	return OutputProfile{
		Name:       name,
		Summary:    summary,
		Outliers:   detectOutliers(data),
		JarqueBera: jb,
		NormalityP: p,
		IsNormal:   p > 0.05,
	}, nil
}

// testNormality is the Jarque-Bera test: JB = n/6·(S² + K²/4) ~ χ²(2)
func testNormality(data []float64) (statistic, pValue float64) {
	if len(data) < 8 {
		return 0, 1
	}
	n := float64(len(data))
	s := calculateSkewness(data, nil)
	k := calculateKurtosis(data, nil)
	statistic = n / 6 * (s*s + k*k/4)
	pValue = 1 - distuv.ChiSquared{K: 2}.CDF(statistic)
	return statistic, pValue
}

// KolmogorovSmirnov returns the one-sample KS distance between data and cdf and
// its asymptotic p-value.
func KolmogorovSmirnov(data []float64, cdf func(float64) float64) (d, pValue float64) {
	if len(data) == 0 {
		return 0, 1
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	n := float64(len(sorted))
	for i, x := range sorted {
		f := cdf(x)
		d = math.Max(d, math.Max(f-float64(i)/n, float64(i+1)/n-f))
	}
	sqrtN := math.Sqrt(n)
	lambda := (sqrtN + 0.12 + 0.11/sqrtN) * d
	return d, kolmogorovQ(lambda)
}

// kolmogorovQ is the survival function of the Kolmogorov distribution.
func kolmogorovQ(lambda float64) float64 {
	if lambda < 1e-3 {
		return 1
	}
	sum := 0.0
	sign := 1.0
	for k := 1; k <= 100; k++ {
		term := sign * math.Exp(-2*float64(k*k)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-12 {
			break
		}
		sign = -sign
	}
	return math.Min(math.Max(2*sum, 0), 1)
}
