package mcmc

import (
	"math"
	"math/rand/v2"

	"gorisk/domain/simulation"
)

// divergenceThreshold is the energy error above which a trajectory is divergent.
const divergenceThreshold = 1000.0

// phasePoint is a position in phase space with its log density and gradient.
type phasePoint struct {
	q, p, grad []float64
	logp       float64
}

// nutsKernel is the No-U-Turn sampler with a slice variable (Hoffman and
// Gelman 2014, algorithm 6) and a diagonal metric.
type nutsKernel struct {
	t            *target
	cur          phasePoint
	invMetric    []float64
	stepSize     float64
	maxDepth     int
	targetAccept float64

	da         *dualAveraging
	window     *varianceWindow
	winStart   int
	winEnd     int
	adaptingM  bool
	iter       int
	tuneLength int
}

func newNUTSKernel(t *target, start []float64, cfg Config, rng *rand.Rand) *nutsKernel {
	k := &nutsKernel{
		t:            t,
		invMetric:    make([]float64, t.dim),
		maxDepth:     cfg.MaxTreeDepth,
		targetAccept: cfg.TargetAccept,
		tuneLength:   cfg.Tune,
	}
	for j := range k.invMetric {
		k.invMetric[j] = 1
	}
	k.cur = phasePoint{q: append([]float64(nil), start...), grad: make([]float64, t.dim)}
	k.cur.logp = t.logpGrad(k.cur.q, k.cur.grad)
	k.winStart, k.winEnd, k.adaptingM = adaptationWindow(cfg.Tune)
	if k.adaptingM {
		k.window = newVarianceWindow(t.dim)
	}
	k.stepSize = k.reasonableStepSize(rng)
	k.da = newDualAveraging(k.stepSize, k.targetAccept)
	return k
}

func (k *nutsKernel) position() []float64 { return k.cur.q }

func (k *nutsKernel) settings() (float64, []float64) {
	return k.stepSize, append([]float64(nil), k.invMetric...)
}

func (k *nutsKernel) kinetic(p []float64) float64 {
	e := 0.0
	for j, v := range p {
		e += v * v * k.invMetric[j]
	}
	return e / 2
}

func (k *nutsKernel) momentum(rng *rand.Rand) []float64 {
	p := make([]float64, k.t.dim)
	for j := range p {
		p[j] = rng.NormFloat64() / math.Sqrt(k.invMetric[j])
	}
	return p
}

// leapfrog integrates one step of size eps. It reports false, without
// evaluating the density, when the new position leaves the parameter space.
func (k *nutsKernel) leapfrog(from *phasePoint, eps float64) (*phasePoint, bool) {
	next := &phasePoint{
		q:    make([]float64, k.t.dim),
		p:    make([]float64, k.t.dim),
		grad: make([]float64, k.t.dim),
	}
	for j := range next.p {
		next.p[j] = from.p[j] + eps/2*from.grad[j]
		next.q[j] = from.q[j] + eps*k.invMetric[j]*next.p[j]
	}
	if !k.t.inBounds(next.q) {
		next.logp = math.Inf(-1)
		return next, false
	}
	next.logp = k.t.logpGrad(next.q, next.grad)
	for j := range next.p {
		next.p[j] += eps / 2 * next.grad[j]
	}
	return next, true
}

// reasonableStepSize doubles or halves the step size until the acceptance
// probability of a single leapfrog step crosses one half.
func (k *nutsKernel) reasonableStepSize(rng *rand.Rand) float64 {
	eps := 1.0
	start := k.cur
	start.p = k.momentum(rng)
	h0 := start.logp - k.kinetic(start.p)

	logRatio := func(eps float64) float64 {
		next, ok := k.leapfrog(&start, eps)
		if !ok {
			return math.Inf(-1)
		}
		r := next.logp - k.kinetic(next.p) - h0
		if math.IsNaN(r) {
			return math.Inf(-1)
		}
		return r
	}

	dir := 1.0
	if !(logRatio(eps) > math.Log(0.5)) {
		dir = -1
	}
	for i := 0; i < 100; i++ {
		r := logRatio(eps)
		if (dir > 0 && !(r > math.Log(0.5))) || (dir < 0 && !(r < math.Log(0.5))) {
			break
		}
		eps *= math.Pow(2, dir)
		if eps < 1e-8 || eps > 1e7 {
			break
		}
	}
	return eps
}

type nutsTree struct {
	minus, plus *phasePoint
	proposal    *phasePoint
	n           int
	ok          bool
	divergent   bool
	alpha       float64
	nAlpha      int
	evals       int
}

func (k *nutsKernel) uturn(minus, plus *phasePoint) bool {
	fwd, bwd := 0.0, 0.0
	for j := range minus.q {
		dq := plus.q[j] - minus.q[j]
		fwd += dq * k.invMetric[j] * plus.p[j]
		bwd += dq * k.invMetric[j] * minus.p[j]
	}
	return fwd < 0 || bwd < 0
}

func (k *nutsKernel) buildTree(rng *rand.Rand, from *phasePoint, logu, h0, eps float64, depth int) nutsTree {
	if depth == 0 {
		next, inBounds := k.leapfrog(from, eps)
		tr := nutsTree{minus: next, plus: next, proposal: next, nAlpha: 1}
		if !inBounds {
			return tr
		}
		tr.evals = 1
		h := next.logp - k.kinetic(next.p)
		if math.IsNaN(h) {
			h = math.Inf(-1)
		}
		if h0-h > divergenceThreshold {
			tr.divergent = true
			return tr
		}
		if logu <= h {
			tr.n = 1
		}
		tr.ok = true
		tr.alpha = math.Min(1, math.Exp(h-h0))
		return tr
	}

	tr := k.buildTree(rng, from, logu, h0, eps, depth-1)
	if !tr.ok {
		return tr
	}
	edge := tr.plus
	if eps < 0 {
		edge = tr.minus
	}
	sub := k.buildTree(rng, edge, logu, h0, eps, depth-1)
	if eps < 0 {
		tr.minus = sub.minus
	} else {
		tr.plus = sub.plus
	}
	if total := tr.n + sub.n; sub.n > 0 && rng.Float64()*float64(total) < float64(sub.n) {
		tr.proposal = sub.proposal
	}
	tr.alpha += sub.alpha
	tr.nAlpha += sub.nAlpha
	tr.evals += sub.evals
	tr.divergent = sub.divergent
	tr.ok = sub.ok && !k.uturn(tr.minus, tr.plus)
	tr.n += sub.n
	return tr
}

func (k *nutsKernel) step(rng *rand.Rand, tuning bool) simulation.StepStats {
	eps := k.stepSize
	if tuning {
		eps = k.da.current()
	}

	start := k.cur
	start.p = k.momentum(rng)
	h0 := start.logp - k.kinetic(start.p)
	logu := h0 - rng.ExpFloat64()

	minus, plus, proposal := &start, &start, &start
	n, ok, depth := 1, true, 0
	stats := simulation.StepStats{StepSize: eps}
	alpha, nAlpha := 0.0, 0
	for ok && depth < k.maxDepth {
		var tr nutsTree
		if rng.IntN(2) == 0 {
			tr = k.buildTree(rng, minus, logu, h0, -eps, depth)
			minus = tr.minus
		} else {
			tr = k.buildTree(rng, plus, logu, h0, eps, depth)
			plus = tr.plus
		}
		alpha += tr.alpha
		nAlpha += tr.nAlpha
		stats.Evals += tr.evals
		stats.Diverging = stats.Diverging || tr.divergent
		if tr.ok && tr.n > 0 && rng.Float64()*float64(n) < float64(tr.n) {
			proposal = tr.proposal
		}
		n += tr.n
		ok = tr.ok && !k.uturn(minus, plus)
		depth++
	}

	k.cur = phasePoint{q: proposal.q, grad: proposal.grad, logp: proposal.logp}
	stats.TreeDepth = depth
	stats.AcceptProb = alpha / float64(max(nAlpha, 1))
	stats.LogDensity = k.cur.logp

	if tuning {
		k.adapt(rng, stats.AcceptProb)
	}
	return stats
}

func (k *nutsKernel) adapt(rng *rand.Rand, acceptProb float64) {
	k.da.update(acceptProb)
	if k.adaptingM && k.iter >= k.winStart && k.iter < k.winEnd {
		k.window.add(k.cur.q)
		if k.iter == k.winEnd-1 {
			k.invMetric = k.window.inverseMetric()
			k.stepSize = k.reasonableStepSize(rng)
			k.da = newDualAveraging(k.stepSize, k.targetAccept)
		}
	}
	k.iter++
}

func (k *nutsKernel) endTuning() {
	k.stepSize = k.da.final()
}
