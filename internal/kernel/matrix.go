package kernel

import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// Matrix is an M×N observable matrix with an optional cached N×M
// transpose. With the cache present, transposed products read memory
// contiguously at the cost of one extra copy of the matrix.
type Matrix struct {
	a blas64.General
	t *blas64.General
}

// NewMatrix wraps the raw storage of d. The data is shared, not copied.
func NewMatrix(d *mat.Dense) *Matrix {
	return &Matrix{a: d.RawMatrix()}
}

// Dims returns the number of rows (observables) and columns (members).
func (m *Matrix) Dims() (rows, cols int) {
	return m.a.Rows, m.a.Cols
}

// Raw exposes the row-major storage.
func (m *Matrix) Raw() blas64.General {
	return m.a
}

// Cache builds the transposed copy. Calling it twice is a no-op.
func (m *Matrix) Cache() {
	if m.t != nil {
		return
	}
	src := mat.NewDense(m.a.Rows, m.a.Cols, nil)
	src.SetRawMatrix(m.a)
	raw := mat.DenseCopyOf(src.T()).RawMatrix()
	m.t = &raw
}

// Release drops the transposed copy.
func (m *Matrix) Release() {
	m.t = nil
}

// Cached reports whether the transposed copy is held.
func (m *Matrix) Cached() bool {
	return m.t != nil
}

// MulVec computes dst = A·x.
func (m *Matrix) MulVec(k Kernel, dst, x []float64) {
	k.MulVec(dst, m.a, x)
}

// MulTransVec computes dst = Aᵀ·x, using the cached transpose when held.
func (m *Matrix) MulTransVec(k Kernel, dst, x []float64) {
	if m.t != nil {
		k.MulVec(dst, *m.t, x)
		return
	}
	k.MulTransVec(dst, m.a, x)
}
