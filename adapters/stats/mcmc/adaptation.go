package mcmc

import "math"

// dualAveraging tunes a step size toward a target acceptance probability
// (Hoffman and Gelman 2014, section 3.2).
type dualAveraging struct {
	target    float64
	mu        float64
	hBar      float64
	logEps    float64
	logEpsBar float64
	t         float64
}

const (
	daGamma = 0.05
	daT0    = 10.0
	daKappa = 0.75
)

func newDualAveraging(stepSize, target float64) *dualAveraging {
	return &dualAveraging{
		target: target,
		mu:     math.Log(10 * stepSize),
		logEps: math.Log(stepSize),
	}
}

func (d *dualAveraging) update(acceptProb float64) {
	if math.IsNaN(acceptProb) {
		acceptProb = 0
	}
	d.t++
	eta := 1 / (d.t + daT0)
	d.hBar = (1-eta)*d.hBar + eta*(d.target-acceptProb)
	d.logEps = d.mu - math.Sqrt(d.t)/daGamma*d.hBar
	w := math.Pow(d.t, -daKappa)
	d.logEpsBar = w*d.logEps + (1-w)*d.logEpsBar
}

func (d *dualAveraging) current() float64 { return math.Exp(d.logEps) }

// final is the averaged step size used once tuning is over.
func (d *dualAveraging) final() float64 {
	if d.t == 0 {
		return math.Exp(d.logEps)
	}
	return math.Exp(d.logEpsBar)
}

// varianceWindow accumulates per-dimension variances for metric adaptation.
type varianceWindow struct {
	n    int
	mean []float64
	m2   []float64
}

func newVarianceWindow(dim int) *varianceWindow {
	return &varianceWindow{mean: make([]float64, dim), m2: make([]float64, dim)}
}

func (w *varianceWindow) add(x []float64) {
	w.n++
	for j, v := range x {
		d := v - w.mean[j]
		w.mean[j] += d / float64(w.n)
		w.m2[j] += d * (v - w.mean[j])
	}
}

// inverseMetric returns the regularised variances, shrunk toward 1e-3 for short windows.
func (w *varianceWindow) inverseMetric() []float64 {
	out := make([]float64, len(w.mean))
	n := float64(w.n)
	for j := range out {
		v := w.m2[j] / (n - 1)
		out[j] = n/(n+5)*v + 1e-3*5/(n+5)
	}
	return out
}

// adaptationWindow returns the tuning iterations [start, end) over which the
// metric is estimated. ok is false when tuning is too short to estimate one.
func adaptationWindow(tune int) (start, end int, ok bool) {
	start = tune * 15 / 100
	end = tune - tune/10
	return start, end, end-start >= 20
}

// robbinsMonro adapts a log scale toward a target acceptance rate with a
// decaying gain.
type robbinsMonro struct {
	target   float64
	logScale float64
	t        float64
}

func (r *robbinsMonro) update(acceptProb float64) {
	r.t++
	r.logScale += (acceptProb - r.target) / math.Pow(r.t, 0.6)
}

func (r *robbinsMonro) scale() float64 { return math.Exp(r.logScale) }
