package montecarlo

import (
	"math"
	"sort"

	"gorisk/domain/core"
	"gorisk/domain/paramspace"
	"gorisk/domain/simulation"
)

// designBlock is the number of SRS draws generated from one stream.
const designBlock = 4096

// plan is the full list of parameter vectors a run will evaluate, in draw order.
type plan struct {
	points [][]float64

	// stratified runs only
	weights        []float64 // per-draw estimator weight W_h / n_h
	stratum        []int
	strata         []paramspace.Stratum
	stratumWeights []float64
	allocation     []int
}

// buildPlan generates every draw up front. SRS designs use one stream per block
// of designBlock draws, LHS and quasi-random designs one stream for the whole
// design, and stratified designs one stream per stratum. None depend on the
// chunk size or the worker count.
func (s *Simulator) buildPlan(space *paramspace.ParameterSpace, opts Options) (*plan, error) {
	n := opts.Samples
	switch opts.Method {
	case paramspace.MethodSRS:
		points := make([][]float64, 0, n)
		for block, start := 0, 0; start < n; block, start = block+1, start+designBlock {
			size := min(designBlock, n-start)
			pts, err := space.Sample(size, paramspace.MethodSRS, s.rng.Stream(opts.Seed, "design", block))
			if err != nil {
				return nil, err
			}
			points = append(points, pts...)
		}
		return &plan{points: points}, nil

	case paramspace.MethodLHS, paramspace.MethodQuasiRandom:
		points, err := space.Sample(n, opts.Method, s.rng.Stream(opts.Seed, "design", 0))
		if err != nil {
			return nil, err
		}
		return &plan{points: points}, nil

	case paramspace.MethodStratified:
		return s.buildStratifiedPlan(space, opts)
	}
	return nil, core.NewValidationErrorf("method", "unknown sampling method %q", opts.Method)
}

func (s *Simulator) buildStratifiedPlan(space *paramspace.ParameterSpace, opts Options) (*plan, error) {
	weights, err := ValidateStrata(space, opts.Strata)
	if err != nil {
		return nil, err
	}
	alloc, err := allocate(opts.Samples, weights, opts.Allocation)
	if err != nil {
		return nil, err
	}

	p := &plan{
		strata:         opts.Strata,
		stratumWeights: weights,
		allocation:     alloc,
	}
	for h, st := range opts.Strata {
		pts, err := space.SampleStratum(alloc[h], st, s.rng.Stream(opts.Seed, "stratum", h))
		if err != nil {
			return nil, err
		}
		for _, pt := range pts {
			p.points = append(p.points, pt)
			p.weights = append(p.weights, weights[h]/float64(alloc[h]))
			p.stratum = append(p.stratum, h)
		}
	}

	// Interleave strata so every prefix of the run, and so every convergence
	// checkpoint, sees all strata.
	perm := s.rng.Stream(opts.Seed, "order", 0).Perm(len(p.points))
	points := make([][]float64, len(perm))
	w := make([]float64, len(perm))
	idx := make([]int, len(perm))
	for i, j := range perm {
		points[i], w[i], idx[i] = p.points[j], p.weights[j], p.stratum[j]
	}
	p.points, p.weights, p.stratum = points, w, idx
	return p, nil
}

// ValidateStrata checks that strata partition one uncorrelated parameter into
// disjoint intervals whose probability masses sum to one, and returns the masses.
func ValidateStrata(space *paramspace.ParameterSpace, strata []paramspace.Stratum) ([]float64, error) {
	if len(strata) == 0 {
		return nil, core.NewValidationError("strata", "at least one stratum is required")
	}
	param := strata[0].Parameter
	names := make(map[string]bool, len(strata))
	weights := make([]float64, len(strata))
	total := 0.0
	for h, st := range strata {
		if st.Parameter != param {
			return nil, core.NewValidationErrorf("strata", "all strata must stratify %q, got %q", param, st.Parameter)
		}
		if st.Name == "" || names[st.Name] {
			return nil, core.NewValidationErrorf("strata", "stratum names must be unique and non-empty, got %q", st.Name)
		}
		names[st.Name] = true
		w, err := space.StratumWeight(st)
		if err != nil {
			return nil, err
		}
		if w <= 0 {
			return nil, core.NewValidationErrorf("strata."+st.Name, "stratum carries no probability mass")
		}
		weights[h] = w
		total += w
	}
	if space.IsCorrelated(param) {
		return nil, core.NewValidationErrorf("strata", "stratifying parameter %q must not be correlated", param)
	}

	order := make([]int, len(strata))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return strata[order[a]].Lower < strata[order[b]].Lower })
	for k := 1; k < len(order); k++ {
		prev, next := strata[order[k-1]], strata[order[k]]
		if next.Lower < prev.Upper {
			return nil, core.NewValidationErrorf("strata", "strata %q and %q overlap", prev.Name, next.Name)
		}
	}

	if math.Abs(total-1) > 1e-6 {
		return nil, core.NewValidationErrorf("strata", "strata cover %.6f of the probability mass of %q, want 1", total, param)
	}
	return weights, nil
}

// allocate splits n draws between strata, every stratum receiving at least one.
func allocate(n int, weights []float64, mode simulation.Allocation) ([]int, error) {
	k := len(weights)
	if n < k {
		return nil, core.NewValidationErrorf("n_samples", "need at least one draw per stratum: %d draws for %d strata", n, k)
	}
	alloc := make([]int, k)
	if mode == simulation.AllocationEqual {
		for h := range alloc {
			alloc[h] = n / k
			if h < n%k {
				alloc[h]++
			}
		}
		return alloc, nil
	}

	// Largest remainder rounding of n·W_h, ties to the lower index.
	type rem struct {
		h    int
		frac float64
	}
	rems := make([]rem, k)
	assigned := 0
	for h, w := range weights {
		exact := float64(n) * w
		alloc[h] = int(math.Floor(exact))
		rems[h] = rem{h: h, frac: exact - float64(alloc[h])}
		assigned += alloc[h]
	}
	sort.SliceStable(rems, func(a, b int) bool { return rems[a].frac > rems[b].frac })
	for i := 0; assigned < n; i = (i + 1) % k {
		alloc[rems[i].h]++
		assigned++
	}

	for h := range alloc {
		if alloc[h] > 0 {
			continue
		}
		largest := 0
		for j := range alloc {
			if alloc[j] > alloc[largest] {
				largest = j
			}
		}
		alloc[largest]--
		alloc[h]++
	}
	return alloc, nil
}
