package paramspace

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"gorisk/domain/core"

	"gonum.org/v1/gonum/stat/distuv"
)

// ParameterSpace is an ordered set of parameters plus an optional correlation
// structure. It is built once by the caller; Freeze (called implicitly by every
// sampler) makes it immutable, after which it can be shared across goroutines.
//
// Construction methods are not safe for concurrent use.
type ParameterSpace struct {
	params []Parameter
	index  map[string]int
	corr   map[pairKey]float64

	frozen     atomic.Bool
	freezeOnce sync.Once
	freezeErr  error
	cop        *copula
}

// NewParameterSpace creates an empty parameter space.
func NewParameterSpace() *ParameterSpace {
	return &ParameterSpace{
		index: make(map[string]int),
		corr:  make(map[pairKey]float64),
	}
}

// AddParameter appends a parameter. Names must be unique.
func (s *ParameterSpace) AddParameter(p Parameter) error {
	if s.frozen.Load() {
		return fmt.Errorf("add parameter %q: %w", p.Name, core.ErrSpaceFrozen)
	}
	if _, exists := s.index[p.Name]; exists {
		return &core.DuplicateParameterError{Name: p.Name}
	}
	if p.Distribution == nil {
		return core.NewValidationError(p.Name+".distribution", "distribution is required")
	}
	// Parameters built by struct literal have not been prepared yet.
	if !(p.mass > 0) {
		if p.Bounds == (Bounds{}) {
			p.Bounds = Unbounded()
		}
		if err := p.prepare(); err != nil {
			return err
		}
	}

	s.index[p.Name] = len(s.params)
	s.params = append(s.params, p)

	if p.CorrelationGroup != "" {
		if err := s.checkCorrelation(); err != nil {
			s.params = s.params[:len(s.params)-1]
			delete(s.index, p.Name)
			return err
		}
	}
	return nil
}

// SetCorrelation declares corr(nameA, nameB) = rho. The aggregate correlation
// matrix is checked eagerly and the call is rolled back if it would stop being
// positive semi-definite. A rho of zero removes the entry.
func (s *ParameterSpace) SetCorrelation(nameA, nameB string, rho float64) error {
	if s.frozen.Load() {
		return fmt.Errorf("set correlation %s/%s: %w", nameA, nameB, core.ErrSpaceFrozen)
	}
	a, ok := s.index[nameA]
	if !ok {
		return core.NewValidationErrorf("correlation", "unknown parameter %q", nameA)
	}
	b, ok := s.index[nameB]
	if !ok {
		return core.NewValidationErrorf("correlation", "unknown parameter %q", nameB)
	}
	if a == b {
		return core.NewValidationErrorf("correlation", "cannot correlate %q with itself", nameA)
	}
	if math.IsNaN(rho) || math.Abs(rho) > 1 {
		return core.NewValidationErrorf("correlation", "|rho| must be <= 1, got %v for %s/%s", rho, nameA, nameB)
	}

	key := newPairKey(a, b)
	prev, had := s.corr[key]
	if rho == 0 {
		delete(s.corr, key)
	} else {
		s.corr[key] = rho
	}

	if err := s.checkCorrelation(); err != nil {
		if had {
			s.corr[key] = prev
		} else {
			delete(s.corr, key)
		}
		return err
	}
	return nil
}

func (s *ParameterSpace) checkCorrelation() error {
	dims := correlatedIndices(s.params, s.corr)
	if minEig, ok := checkPSD(correlationMatrix(dims, s.corr)); !ok {
		return core.NewValidationErrorf("correlation_matrix", "not positive semi-definite (smallest eigenvalue %.3g)", minEig)
	}
	return nil
}

// Freeze makes the space immutable and precomputes the copula. It is idempotent
// and safe to call from several goroutines.
func (s *ParameterSpace) Freeze() error {
	s.freezeOnce.Do(func() {
		s.frozen.Store(true)
		if len(s.params) == 0 {
			s.freezeErr = core.NewValidationError("parameters", "parameter space is empty")
			return
		}
		cp, err := newCopula(correlatedIndices(s.params, s.corr), s.corr)
		if err != nil {
			s.freezeErr = core.NewValidationError("correlation_matrix", err.Error())
			return
		}
		s.cop = cp
	})
	return s.freezeErr
}

// Frozen reports whether the space has been frozen.
func (s *ParameterSpace) Frozen() bool { return s.frozen.Load() }

// Len returns the number of parameters.
func (s *ParameterSpace) Len() int { return len(s.params) }

// Names returns parameter names in declaration order.
func (s *ParameterSpace) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.Name
	}
	return names
}

// Parameter returns the named parameter.
func (s *ParameterSpace) Parameter(name string) (Parameter, bool) {
	i, ok := s.index[name]
	if !ok {
		return Parameter{}, false
	}
	return s.params[i], true
}

// Index returns the position of the named parameter in sample vectors.
func (s *ParameterSpace) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// At returns the i-th parameter.
func (s *ParameterSpace) At(i int) Parameter { return s.params[i] }

// Correlation returns the declared correlation between two parameters (1 on the diagonal).
func (s *ParameterSpace) Correlation(nameA, nameB string) float64 {
	a, okA := s.index[nameA]
	b, okB := s.index[nameB]
	if !okA || !okB {
		return 0
	}
	if a == b {
		return 1
	}
	return s.corr[newPairKey(a, b)]
}

// IsCorrelated reports whether the named parameter is sampled jointly with others.
func (s *ParameterSpace) IsCorrelated(name string) bool {
	i, ok := s.index[name]
	if !ok {
		return false
	}
	for _, d := range correlatedIndices(s.params, s.corr) {
		if d == i {
			return true
		}
	}
	return false
}

// CorrelatedNames returns the jointly sampled subset in declaration order.
func (s *ParameterSpace) CorrelatedNames() []string {
	dims := correlatedIndices(s.params, s.corr)
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = s.params[d].Name
	}
	return names
}

// ValidatePoint reports whether x has the right dimension and every coordinate
// lies inside its parameter's bounds and support.
func (s *ParameterSpace) ValidatePoint(x []float64) bool {
	if len(x) != len(s.params) {
		return false
	}
	for i, p := range s.params {
		if !p.Contains(x[i]) {
			return false
		}
	}
	return true
}

// LogPrior is the joint log density implied by the space: truncated marginals
// plus, when the correlation matrix is non-singular, the Gaussian copula term.
// It returns -Inf for points outside the domain.
func (s *ParameterSpace) LogPrior(x []float64) float64 {
	if !s.ValidatePoint(x) {
		return math.Inf(-1)
	}
	lp := 0.0
	for i, p := range s.params {
		lp += p.LogProb(x[i])
	}
	if err := s.Freeze(); err != nil {
		return lp
	}
	if s.cop != nil && s.cop.prec != nil {
		z := make([]float64, len(s.cop.dims))
		for k, d := range s.cop.dims {
			u := s.params[d].ToUnit(x[d])
			u = math.Min(math.Max(u, tinyProb), 1-epsProb)
			z[k] = distuv.UnitNormal.Quantile(u)
		}
		lp += s.cop.logDensity(z)
	}
	return lp
}
