package paramspace

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// psdTolerance is the most negative eigenvalue still treated as zero.
const psdTolerance = 1e-10

type pairKey struct{ i, j int }

func newPairKey(a, b int) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{i: a, j: b}
}

// copula holds the precomputed Gaussian copula over the correlated subset.
type copula struct {
	dims   []int         // parameter indices in declaration order
	factor *mat.Dense    // A with A·Aᵀ = C, rows normalised to unit length
	prec   *mat.SymDense // C⁻¹ - I, nil when C is singular
	logDet float64
}

// correlatedIndices returns the parameters that are sampled jointly.
func correlatedIndices(params []Parameter, corr map[pairKey]float64) []int {
	marked := make([]bool, len(params))
	for i, p := range params {
		if p.CorrelationGroup != "" {
			marked[i] = true
		}
	}
	for k, rho := range corr {
		if rho != 0 {
			marked[k.i] = true
			marked[k.j] = true
		}
	}
	var dims []int
	for i, m := range marked {
		if m {
			dims = append(dims, i)
		}
	}
	return dims
}

// correlationMatrix assembles the symmetric matrix over dims with a unit diagonal.
func correlationMatrix(dims []int, corr map[pairKey]float64) *mat.SymDense {
	k := len(dims)
	c := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		c.SetSym(a, a, 1)
		for b := a + 1; b < k; b++ {
			c.SetSym(a, b, corr[newPairKey(dims[a], dims[b])])
		}
	}
	return c
}

// checkPSD returns the smallest eigenvalue and whether the matrix is positive semi-definite.
func checkPSD(c *mat.SymDense) (float64, bool) {
	if c.SymmetricDim() == 0 {
		return 1, true
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(c, false); !ok {
		return math.NaN(), false
	}
	vals := eig.Values(nil)
	minVal := math.Inf(1)
	for _, v := range vals {
		minVal = math.Min(minVal, v)
	}
	return minVal, minVal >= -psdTolerance
}

// newCopula factors C = V·Λ·Vᵀ and keeps A = V·√Λ. The eigen route tolerates the
// singular matrices that a Cholesky factorisation rejects.
func newCopula(dims []int, corr map[pairKey]float64) (*copula, error) {
	cp := &copula{dims: dims}
	k := len(dims)
	if k == 0 {
		return cp, nil
	}
	c := correlationMatrix(dims, corr)

	var eig mat.EigenSym
	if ok := eig.Factorize(c, true); !ok {
		return nil, fmt.Errorf("eigen decomposition of correlation matrix failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	factor := mat.NewDense(k, k, nil)
	for col := 0; col < k; col++ {
		s := math.Sqrt(math.Max(vals[col], 0))
		for row := 0; row < k; row++ {
			factor.Set(row, col, vecs.At(row, col)*s)
		}
	}
	for row := 0; row < k; row++ {
		norm := mat.Norm(factor.RowView(row), 2)
		if norm == 0 {
			return nil, fmt.Errorf("correlation factor row %d is degenerate", row)
		}
		for col := 0; col < k; col++ {
			factor.Set(row, col, factor.At(row, col)/norm)
		}
	}
	cp.factor = factor

	var chol mat.Cholesky
	if ok := chol.Factorize(c); ok {
		var inv mat.SymDense
		if err := chol.InverseTo(&inv); err == nil {
			prec := mat.NewSymDense(k, nil)
			for a := 0; a < k; a++ {
				for b := a; b < k; b++ {
					v := inv.At(a, b)
					if a == b {
						v--
					}
					prec.SetSym(a, b, v)
				}
			}
			cp.prec = prec
			cp.logDet = chol.LogDet()
		}
	}
	return cp, nil
}

// correlate maps independent standard-normal z (over dims) to correlated ones in place.
func (cp *copula) correlate(z []float64, scratch []float64) {
	k := len(cp.dims)
	for row := 0; row < k; row++ {
		s := 0.0
		for col := 0; col < k; col++ {
			s += cp.factor.At(row, col) * z[col]
		}
		scratch[row] = s
	}
	copy(z, scratch[:k])
}

// logDensity is the Gaussian copula log density at the normal scores z.
func (cp *copula) logDensity(z []float64) float64 {
	if cp.prec == nil || len(z) == 0 {
		return 0
	}
	zv := mat.NewVecDense(len(z), z)
	return -0.5*mat.Inner(zv, cp.prec, zv) - 0.5*cp.logDet
}
