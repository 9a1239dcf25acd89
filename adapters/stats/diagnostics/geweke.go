package diagnostics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Geweke compares the mean of the first fraction of a chain with the mean of
// its last fraction. The standard errors account for autocorrelation through
// each segment's effective sample size.
func Geweke(chain []float64, first, last float64) float64 {
	n := len(chain)
	na, nb := int(first*float64(n)), int(last*float64(n))
	if na < 4 || nb < 4 || na+nb > n {
		return math.NaN()
	}
	a, b := chain[:na], chain[n-nb:]
	meanA, varA := stat.MeanVariance(a, nil)
	meanB, varB := stat.MeanVariance(b, nil)

	se2 := 0.0
	if varA > 0 {
		se2 += varA / ess([][]float64{a})
	}
	if varB > 0 {
		se2 += varB / ess([][]float64{b})
	}
	diff := meanA - meanB
	if se2 == 0 {
		if diff == 0 {
			return 0
		}
		return math.Copysign(math.Inf(1), diff)
	}
	return diff / math.Sqrt(se2)
}
