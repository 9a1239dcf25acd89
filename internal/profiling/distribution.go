package profiling

import (
	"math"

	"gorisk/domain/core"
	"gorisk/domain/simulation"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DistributionAnalyzer summarises simulated output distributions
type DistributionAnalyzer struct{}

// NewDistributionAnalyzer creates a new distribution analyzer
func NewDistributionAnalyzer() *DistributionAnalyzer {
	return &DistributionAnalyzer{}
}

// Summarize computes the output summary of equally weighted draws. Empty input
// yields a summary with N = 0 and NaN statistics.
func (da *DistributionAnalyzer) Summarize(data []float64) (simulation.OutputSummary, error) {
	summary := emptySummary()
	if len(data) == 0 {
		return summary, nil
	}
	summary.N = len(data)

	mean, err := stats.Mean(data)
	if err != nil {
		return summary, err
	}
	min, err := stats.Min(data)
	if err != nil {
		return summary, err
	}
	max, err := stats.Max(data)
	if err != nil {
		return summary, err
	}
	median, err := stats.Median(data)
	if err != nil {
		return summary, err
	}
	summary.Mean = core.Float(mean)
	summary.Min = core.Float(min)
	summary.Max = core.Float(max)
	summary.Median = core.Float(median)

	for _, q := range []struct {
		pct float64
		dst *core.Float
	}{{5, &summary.P05}, {95, &summary.P95}, {99, &summary.P99}} {
		v, err := stats.Percentile(data, q.pct)
		if err != nil {
			// Percentile rejects ranks below the first order statistic.
			v = min
		}
		*q.dst = core.Float(v)
	}

	if len(data) > 1 {
		sd, err := stats.StandardDeviationSample(data)
		if err != nil {
			return summary, err
		}
		summary.StdDev = core.Float(sd)
		summary.StdError = core.Float(sd / math.Sqrt(float64(len(data))))
	}
	summary.Skewness = core.Float(calculateSkewness(data, nil))
	summary.Kurtosis = core.Float(calculateKurtosis(data, nil))
	return summary, nil
}

// WeightedSummarize computes the output summary of draws carrying probability
// weights, as produced by stratified sampling. Weights need not be normalised.
func (da *DistributionAnalyzer) WeightedSummarize(data, weights []float64) (simulation.OutputSummary, error) {
	summary := emptySummary()
	if len(data) != len(weights) {
		return summary, core.NewValidationErrorf("weights", "have %d weights for %d values", len(weights), len(data))
	}
	if len(data) == 0 {
		return summary, nil
	}
	total := floats.Sum(weights)
	if !(total > 0) {
		return summary, core.NewValidationError("weights", "must sum to a positive value")
	}

	// Rescale to frequency weights summing to n so gonum's sample formulas apply.
	n := float64(len(data))
	x := append([]float64(nil), data...)
	w := make([]float64, len(weights))
	for i, v := range weights {
		w[i] = v * n / total
	}

	summary.N = len(data)
	mean, sd := stat.MeanStdDev(x, w)
	summary.Mean = core.Float(mean)
	summary.StdDev = core.Float(sd)
	summary.StdError = core.Float(sd / math.Sqrt(kishSize(w)))
	summary.Skewness = core.Float(calculateSkewness(x, w))
	summary.Kurtosis = core.Float(calculateKurtosis(x, w))

	inds := make([]int, len(x))
	floats.Argsort(x, inds)
	sortedW := make([]float64, len(w))
	for i, j := range inds {
		sortedW[i] = w[j]
	}
	summary.Min = core.Float(x[0])
	summary.Max = core.Float(x[len(x)-1])
	summary.Median = core.Float(stat.Quantile(0.5, stat.Empirical, x, sortedW))
	summary.P05 = core.Float(stat.Quantile(0.05, stat.Empirical, x, sortedW))
	summary.P95 = core.Float(stat.Quantile(0.95, stat.Empirical, x, sortedW))
	summary.P99 = core.Float(stat.Quantile(0.99, stat.Empirical, x, sortedW))
	return summary, nil
}

func emptySummary() simulation.OutputSummary {
	nan := core.Float(math.NaN())
	return simulation.OutputSummary{
		Mean: nan, StdDev: nan, StdError: nan,
		Min: nan, Max: nan, Median: nan,
		P05: nan, P95: nan, P99: nan,
		Skewness: nan, Kurtosis: nan,
	}
}

// kishSize is the effective sample size of a weighted sample.
func kishSize(w []float64) float64 {
	s, s2 := 0.0, 0.0
	for _, v := range w {
		s += v
		s2 += v * v
	}
	return s * s / s2
}

// calculateSkewness is the sample skewness, or 0 when it is undefined.
func calculateSkewness(data, weights []float64) float64 {
	if len(data) < 3 {
		return 0
	}
	s := stat.Skew(data, weights)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return s
}

// calculateKurtosis is the sample excess kurtosis, or 0 when it is undefined.
func calculateKurtosis(data, weights []float64) float64 {
	if len(data) < 4 {
		return 0
	}
	k := stat.ExKurtosis(data, weights)
	if math.IsNaN(k) || math.IsInf(k, 0) {
		return 0
	}
	return k
}

// detectOutliers counts values outside the 1.5·IQR fences
func detectOutliers(data []float64) int {
	if len(data) < 4 {
		return 0
	}
	q25, err := stats.Percentile(data, 25)
	if err != nil {
		return 0
	}
	q75, err := stats.Percentile(data, 75)
	if err != nil {
		return 0
	}
	iqr := q75 - q25
	lowerBound := q25 - 1.5*iqr
	upperBound := q75 + 1.5*iqr

	outlierCount := 0
	for _, x := range data {
		if x < lowerBound || x > upperBound {
			outlierCount++
		}
	}
	return outlierCount
}
