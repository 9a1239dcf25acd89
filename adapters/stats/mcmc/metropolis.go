package mcmc

import (
	"math"
	"math/rand/v2"

	"gorisk/domain/simulation"
)

// metropolisKernel is a Gaussian random-walk Metropolis kernel. The proposal
// scale per dimension is the prior scale times a global factor adapted during
// tuning toward the optimal acceptance rate for the dimension.
type metropolisKernel struct {
	t     *target
	x     []float64
	logp  float64
	base  []float64
	rm    robbinsMonro
	scale float64
}

func newMetropolisKernel(t *target, start []float64, cfg Config) *metropolisKernel {
	goal := 0.234
	if t.dim == 1 {
		goal = 0.44
	}
	k := &metropolisKernel{
		t:    t,
		x:    append([]float64(nil), start...),
		base: scaleHints(t),
		rm:   robbinsMonro{target: goal, logScale: math.Log(2.38 / math.Sqrt(float64(t.dim)))},
	}
	k.scale = k.rm.scale()
	k.logp = t.logp(k.x)
	return k
}

func (k *metropolisKernel) position() []float64 { return k.x }

func (k *metropolisKernel) settings() (float64, []float64) {
	return k.scale, nil
}

func (k *metropolisKernel) step(rng *rand.Rand, tuning bool) simulation.StepStats {
	y := make([]float64, len(k.x))
	for j := range y {
		y[j] = k.x[j] + k.scale*k.base[j]*rng.NormFloat64()
	}

	stats := simulation.StepStats{StepSize: k.scale}
	accept := 0.0
	if k.t.inBounds(y) {
		stats.Evals = 1
		lp := k.t.logp(y)
		accept = math.Min(1, math.Exp(lp-k.logp))
		if math.IsNaN(accept) {
			accept = 0
		}
		if rng.Float64() < accept {
			k.x, k.logp = y, lp
		}
	}
	stats.AcceptProb = accept
	stats.LogDensity = k.logp

	if tuning {
		k.rm.update(accept)
		k.scale = k.rm.scale()
	}
	return stats
}

func (k *metropolisKernel) endTuning() {}
