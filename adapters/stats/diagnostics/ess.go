package diagnostics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// autocovariance returns the biased autocovariance of x at lags 0..len(x)-1,
// computed through a zero-padded FFT.
func autocovariance(x []float64) []float64 {
	n := len(x)
	acov := make([]float64, n)
	if n == 0 {
		return acov
	}
	size := 1
	for size < 2*n {
		size <<= 1
	}
	mean := stat.Mean(x, nil)
	padded := make([]float64, size)
	direct := 0.0
	for i, v := range x {
		padded[i] = v - mean
		direct += padded[i] * padded[i]
	}
	direct /= float64(n)

	fft := fourier.NewFFT(size)
	coeff := fft.Coefficients(nil, padded)
	for i, c := range coeff {
		coeff[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	seq := fft.Sequence(nil, coeff)
	if seq[0] == 0 {
		return acov
	}
	// Normalise against the directly computed lag-0 value so the result does
	// not depend on the transform's scaling convention.
	scale := direct / seq[0]
	for t := range acov {
		acov[t] = seq[t] * scale
	}
	return acov
}

// ess is the multi-chain effective sample size with Geyer's initial positive
// and initial monotone sequence estimators. It never exceeds the number of draws.
func ess(chains [][]float64) float64 {
	m := len(chains)
	if m == 0 {
		return math.NaN()
	}
	n := len(chains[0])
	total := float64(m * n)
	if n < 4 {
		return math.NaN()
	}

	acovs := make([][]float64, m)
	means := make([]float64, m)
	w := 0.0
	for c, ch := range chains {
		acovs[c] = autocovariance(ch)
		means[c] = stat.Mean(ch, nil)
		w += acovs[c][0] * float64(n) / float64(n-1)
	}
	w /= float64(m)
	varPlus := w * float64(n-1) / float64(n)
	if m > 1 {
		varPlus += stat.Variance(means, nil)
	}
	if varPlus == 0 {
		return total
	}

	rho := func(t int) float64 {
		if t == 0 {
			return 1
		}
		mean := 0.0
		for _, a := range acovs {
			mean += a[t]
		}
		mean /= float64(m)
		return 1 - (w-mean)/varPlus
	}

	tau := 0.0
	prev := math.Inf(1)
	for t := 0; t+1 < n; t += 2 {
		pair := rho(t) + rho(t+1)
		if !(pair > 0) {
			break
		}
		pair = math.Min(pair, prev)
		prev = pair
		tau += pair
	}
	tau = 2*tau - 1
	if !(tau > 0) {
		return total
	}
	return math.Min(total/tau, total)
}

// BulkESS is the effective sample size of the rank-normalised split chains.
func BulkESS(chains [][]float64) float64 {
	return ess(rankNormalize(splitChains(chains)))
}

// TailESS is the smaller effective sample size of the 5% and 95% quantile
// indicators over the split chains.
func TailESS(chains [][]float64) float64 {
	split := splitChains(chains)
	sorted := pool(split)
	sort.Float64s(sorted)
	lo := ess(indicator(split, stat.Quantile(0.05, stat.Empirical, sorted, nil)))
	hi := ess(indicator(split, stat.Quantile(0.95, stat.Empirical, sorted, nil)))
	return math.Min(lo, hi)
}

// MeanESS is the effective sample size for the mean, on the raw split chains.
func MeanESS(chains [][]float64) float64 {
	return ess(splitChains(chains))
}
