package sensitivity

import (
	"math"
	"math/rand/v2"
	"sort"

	"gorisk/domain/core"
	"gorisk/domain/simulation"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MeasureSpearman is the name of the rank correlation measure
const MeasureSpearman = "spearman"

// Spearman detects monotonic relationships using rank correlation
type Spearman struct{}

// NewSpearman creates a Spearman rank correlation measure
func NewSpearman() *Spearman {
	return &Spearman{}
}

// Name returns the measure name
func (s *Spearman) Name() string {
	return MeasureSpearman
}

// Analyze computes Spearman's rho as the Pearson correlation of mid-ranks,
// with a two-sided p-value from the t distribution on n−2 degrees of freedom.
// A constant input or output has no rank correlation (rho 0, p 1).
func (s *Spearman) Analyze(x, y []float64, _ *rand.Rand) simulation.MeasureResult {
	n := len(x)
	if n != len(y) || n < 3 {
		return insufficient(s.Name())
	}

	rx, ry := ranks(x), ranks(y)
	if stat.Variance(rx, nil) == 0 || stat.Variance(ry, nil) == 0 {
		return simulation.MeasureResult{Measure: s.Name(), Effect: 0, PValue: 1, Signal: simulation.SignalWeak}
	}

	rho := math.Max(-1, math.Min(1, stat.Correlation(rx, ry, nil)))
	return simulation.MeasureResult{
		Measure: s.Name(),
		Effect:  core.Float(rho),
		PValue:  core.Float(correlationPValue(rho, n)),
		Signal:  classifySignal(rho, [3]float64{0.2, 0.5, 0.8}),
	}
}

func correlationPValue(rho float64, n int) float64 {
	if math.Abs(rho) >= 1 {
		return 0
	}
	t := rho * math.Sqrt(float64(n-2)/(1-rho*rho))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	return 2 * dist.Survival(math.Abs(t))
}

// ranks converts values to 1-based ranks, averaging the ranks of ties
func ranks(data []float64) []float64 {
	n := len(data)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return data[order[a]] < data[order[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i + 1
		for j < n && data[order[j]] == data[order[i]] {
			j++
		}
		avg := float64(i+1) + float64(j-i-1)/2
		for k := i; k < j; k++ {
			out[order[k]] = avg
		}
		i = j
	}
	return out
}
