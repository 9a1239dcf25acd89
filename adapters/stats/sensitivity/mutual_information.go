package sensitivity

import (
	"math"
	"math/rand/v2"

	"gorisk/domain/core"
	"gorisk/domain/simulation"
)

// MeasureMutualInformation is the name of the binned mutual information measure
const MeasureMutualInformation = "mutual_information"

// Defaults for the mutual information estimator
const (
	DefaultBins         = 10
	DefaultPermutations = 100
)

// MutualInformation detects non-linear relationships that rank correlation
// misses. Both variables are cut into equal-frequency bins and I(X;Y) is
// reported in bits.
type MutualInformation struct {
	bins         int
	permutations int
}

// NewMutualInformation creates the measure. permutations ≤ 0 skips the
// permutation test and reports p = 1.
func NewMutualInformation(bins, permutations int) *MutualInformation {
	if bins < 2 {
		bins = DefaultBins
	}
	return &MutualInformation{bins: bins, permutations: permutations}
}

// Name returns the measure name
func (m *MutualInformation) Name() string {
	return MeasureMutualInformation
}

// Analyze computes I(X;Y) = H(X) + H(Y) − H(X,Y) and its permutation p-value
// (k+1)/(P+1), where k of P shuffles of y reach the observed value.
func (m *MutualInformation) Analyze(x, y []float64, rng *rand.Rand) simulation.MeasureResult {
	n := len(x)
	if n != len(y) || n < 2*m.bins {
		return insufficient(m.Name())
	}

	xb, yb := m.discretize(x), m.discretize(y)
	observed := m.mutualInformation(xb, yb)

	pValue := 1.0
	if m.permutations > 0 && rng != nil {
		shuffled := append([]int(nil), yb...)
		extreme := 0
		for p := 0; p < m.permutations; p++ {
			rng.Shuffle(n, func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			if m.mutualInformation(xb, shuffled) >= observed-1e-12 {
				extreme++
			}
		}
		pValue = float64(extreme+1) / float64(m.permutations+1)
	}

	return simulation.MeasureResult{
		Measure: m.Name(),
		Effect:  core.Float(observed),
		PValue:  core.Float(pValue),
		Signal:  classifySignal(observed, [3]float64{0.1, 0.3, 0.5}),
	}
}

// discretize assigns equal-frequency bins by mid-rank so tied values share a bin
func (m *MutualInformation) discretize(data []float64) []int {
	n := float64(len(data))
	r := ranks(data)
	bins := make([]int, len(data))
	for i, rank := range r {
		b := int((rank - 0.5) * float64(m.bins) / n)
		if b >= m.bins {
			b = m.bins - 1
		}
		bins[i] = b
	}
	return bins
}

func (m *MutualInformation) mutualInformation(xb, yb []int) float64 {
	k := m.bins
	joint := make([]int, k*k)
	px := make([]int, k)
	py := make([]int, k)
	for i := range xb {
		joint[xb[i]*k+yb[i]]++
		px[xb[i]]++
		py[yb[i]]++
	}
	n := float64(len(xb))
	return math.Max(0, entropy(px, n)+entropy(py, n)-entropy(joint, n))
}

// entropy is the Shannon entropy in bits of a histogram with total n
func entropy(counts []int, n float64) float64 {
	h := 0.0
	for _, c := range counts {
		if c > 0 {
			p := float64(c) / n
			h -= p * math.Log2(p)
		}
	}
	return h
}
