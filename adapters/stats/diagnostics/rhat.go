package diagnostics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// basicRHat is the potential scale reduction of equally long chains.
func basicRHat(chains [][]float64) float64 {
	m := len(chains)
	if m < 2 {
		return math.NaN()
	}
	n := float64(len(chains[0]))
	if n < 2 {
		return math.NaN()
	}
	means := make([]float64, m)
	vars := make([]float64, m)
	for c, ch := range chains {
		means[c], vars[c] = stat.MeanVariance(ch, nil)
	}
	w := stat.Mean(vars, nil)
	if w == 0 {
		return math.NaN()
	}
	varPlus := (n-1)/n*w + stat.Variance(means, nil)
	return math.Sqrt(varPlus / w)
}

// RHat is the rank-normalised split R-hat: the larger of the bulk value and
// the value for draws folded around the median (Vehtari et al. 2021). Chains
// must have equal length.
func RHat(chains [][]float64) float64 {
	split := splitChains(chains)
	bulk := basicRHat(rankNormalize(split))
	tail := basicRHat(rankNormalize(fold(split)))
	if math.IsNaN(bulk) || math.IsNaN(tail) {
		return math.NaN()
	}
	return math.Max(bulk, tail)
}
