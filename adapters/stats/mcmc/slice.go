package mcmc

import (
	"math"
	"math/rand/v2"

	"gorisk/domain/simulation"
)

const (
	sliceMaxSteps  = 100
	sliceMaxShrink = 1000
)

// sliceKernel updates one coordinate at a time with stepping out and
// shrinkage (Neal 2003). During tuning each width follows the average
// distance its coordinate moves.
type sliceKernel struct {
	t      *target
	x      []float64
	logp   float64
	width  []float64
	moved  []float64
	nTuned int
}

func newSliceKernel(t *target, start []float64) *sliceKernel {
	k := &sliceKernel{
		t:     t,
		x:     append([]float64(nil), start...),
		width: scaleHints(t),
		moved: make([]float64, t.dim),
	}
	k.logp = t.logp(k.x)
	return k
}

func (k *sliceKernel) position() []float64 { return k.x }

func (k *sliceKernel) settings() (float64, []float64) {
	return 0, append([]float64(nil), k.width...)
}

// logpAt evaluates the density with coordinate j replaced by v.
func (k *sliceKernel) logpAt(y []float64, j int, v float64, evals *int) float64 {
	y[j] = v
	if !k.t.inBounds(y) {
		return math.Inf(-1)
	}
	*evals++
	return k.t.logp(y)
}

func (k *sliceKernel) step(rng *rand.Rand, tuning bool) simulation.StepStats {
	stats := simulation.StepStats{AcceptProb: 1}
	y := append([]float64(nil), k.x...)
	for j := range k.x {
		x0 := k.x[j]
		w := k.width[j]
		logy := k.logp - rng.ExpFloat64()

		lo := x0 - w*rng.Float64()
		hi := lo + w
		left := rng.IntN(sliceMaxSteps)
		right := sliceMaxSteps - 1 - left
		for ; left > 0 && k.logpAt(y, j, lo, &stats.Evals) > logy; left-- {
			lo -= w
		}
		for ; right > 0 && k.logpAt(y, j, hi, &stats.Evals) > logy; right-- {
			hi += w
		}

		next, nextLogp := x0, k.logp
		for i := 0; i < sliceMaxShrink; i++ {
			v := lo + rng.Float64()*(hi-lo)
			lp := k.logpAt(y, j, v, &stats.Evals)
			if lp > logy {
				next, nextLogp = v, lp
				break
			}
			if v < x0 {
				lo = v
			} else {
				hi = v
			}
		}
		y[j] = next
		k.x[j] = next
		k.logp = nextLogp
		if tuning {
			k.moved[j] += math.Abs(next - x0)
		}
	}
	stats.LogDensity = k.logp

	if tuning {
		k.nTuned++
		for j := range k.width {
			if avg := k.moved[j] / float64(k.nTuned); avg > 0 {
				k.width[j] = 2 * avg
			}
		}
	}
	return stats
}

func (k *sliceKernel) endTuning() {}
