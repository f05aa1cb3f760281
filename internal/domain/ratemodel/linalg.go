package ratemodel

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// pivotTolerance is the relative size below which a Cholesky pivot is
// treated as zero.
const pivotTolerance = 1e-10

// singularError reports the position of the first pivot that failed, which
// is the column that is a linear combination of the ones before it.
type singularError struct {
	pivot int
}

func (e *singularError) Error() string { return "information matrix is singular" }

// cholesky factors the symmetric matrix a. A pivot that is not positive, or
// is small relative to the largest diagonal entry, fails with its position.
func cholesky(a [][]float64) (*mat.Cholesky, error) {
	n := len(a)
	if n == 0 {
		return nil, &singularError{pivot: 0}
	}
	sym := mat.NewSymDense(n, nil)
	scale := 0.0
	for i := 0; i < n; i++ {
		scale = math.Max(scale, math.Abs(a[i][i]))
		for j := i; j < n; j++ {
			sym.SetSym(i, j, a[i][j])
		}
	}
	if scale == 0 || math.IsNaN(scale) {
		return nil, &singularError{pivot: 0}
	}

	var chol mat.Cholesky
	if chol.Factorize(sym) {
		if j := weakPivot(&chol, scale); j >= 0 {
			return nil, &singularError{pivot: j}
		}
		return &chol, nil
	}

	// The factor of a leading minor is the leading block of the full factor,
	// so the first minor that fails points at the dependent column.
	for k := 1; k <= n; k++ {
		var sub mat.Cholesky
		if !sub.Factorize(sym.SliceSym(0, k)) {
			return nil, &singularError{pivot: k - 1}
		}
		if j := weakPivot(&sub, scale); j >= 0 {
			return nil, &singularError{pivot: j}
		}
	}
	return nil, &singularError{pivot: n - 1}
}

// weakPivot returns the first diagonal position whose squared factor entry
// is below tolerance, or -1.
func weakPivot(c *mat.Cholesky, scale float64) int {
	var u mat.TriDense
	c.UTo(&u)
	n, _ := u.Dims()
	for j := 0; j < n; j++ {
		d := u.At(j, j)
		if math.IsNaN(d) || d*d <= pivotTolerance*scale {
			return j
		}
	}
	return -1
}

// cholSolve solves A·x = b for the factored A.
func cholSolve(c *mat.Cholesky, b []float64) ([]float64, error) {
	var x mat.VecDense
	if err := c.SolveVecTo(&x, mat.NewVecDense(len(b), append([]float64(nil), b...))); err != nil && !illConditioned(err) {
		return nil, err
	}
	return mat.Col(nil, 0, &x), nil
}

// cholInverse returns A⁻¹ for the factored A.
func cholInverse(c *mat.Cholesky) ([][]float64, error) {
	var inv mat.SymDense
	if err := c.InverseTo(&inv); err != nil && !illConditioned(err) {
		return nil, err
	}
	n, _ := inv.Dims()
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			out[i][j] = inv.At(i, j)
		}
	}
	return out, nil
}

// illConditioned reports whether err is gonum's condition warning. The
// result is still computed; weak pivots are rejected before this point.
func illConditioned(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond)
}
