package diagnostics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// splitChains halves every chain, dropping the middle draw of odd-length chains.
func splitChains(chains [][]float64) [][]float64 {
	out := make([][]float64, 0, 2*len(chains))
	for _, c := range chains {
		half := len(c) / 2
		out = append(out, c[:half], c[len(c)-half:])
	}
	return out
}

func pool(chains [][]float64) []float64 {
	var out []float64
	for _, c := range chains {
		out = append(out, c...)
	}
	return out
}

// reshape cuts flat back into chains of the given lengths.
func reshape(flat []float64, like [][]float64) [][]float64 {
	out := make([][]float64, len(like))
	i := 0
	for c := range like {
		out[c] = flat[i : i+len(like[c])]
		i += len(like[c])
	}
	return out
}

// averageRanks returns 1-based ranks, ties sharing their average rank.
func averageRanks(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })
	ranks := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		r := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = r
		}
		i = j + 1
	}
	return ranks
}

// rankNormalize replaces the pooled draws by normal scores of their ranks,
// Φ⁻¹((r − 3/8) / (S + 1/4)).
func rankNormalize(chains [][]float64) [][]float64 {
	flat := pool(chains)
	ranks := averageRanks(flat)
	s := float64(len(flat))
	z := make([]float64, len(flat))
	for i, r := range ranks {
		z[i] = distuv.UnitNormal.Quantile((r - 0.375) / (s + 0.25))
	}
	return reshape(z, chains)
}

// fold replaces every draw by its absolute deviation from the pooled median.
func fold(chains [][]float64) [][]float64 {
	flat := pool(chains)
	sorted := append([]float64(nil), flat...)
	sort.Float64s(sorted)
	med := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	for i, v := range flat {
		flat[i] = math.Abs(v - med)
	}
	return reshape(flat, chains)
}

// indicator replaces every draw by 1 when it is at or below q and 0 otherwise.
func indicator(chains [][]float64, q float64) [][]float64 {
	out := make([][]float64, len(chains))
	for c, ch := range chains {
		out[c] = make([]float64, len(ch))
		for i, v := range ch {
			if v <= q {
				out[c][i] = 1
			}
		}
	}
	return out
}
