package kernel

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// Native routes products through gonum's blas64 implementation.
type Native struct{}

func (Native) Name() string { return "native/" + DetectedFeature().String() }

func (Native) MulVec(dst []float64, a blas64.General, x []float64) {
	if len(dst) != a.Rows || len(x) != a.Cols {
		panic("kernel: dimension mismatch in MulVec")
	}
	blas64.Gemv(blas.NoTrans, 1, a,
		blas64.Vector{N: len(x), Data: x, Inc: 1}, 0,
		blas64.Vector{N: len(dst), Data: dst, Inc: 1})
}

func (Native) MulTransVec(dst []float64, a blas64.General, x []float64) {
	if len(dst) != a.Cols || len(x) != a.Rows {
		panic("kernel: dimension mismatch in MulTransVec")
	}
	blas64.Gemv(blas.Trans, 1, a,
		blas64.Vector{N: len(x), Data: x, Inc: 1}, 0,
		blas64.Vector{N: len(dst), Data: dst, Inc: 1})
}

func (Native) Dot(x, y []float64) float64 {
	if len(x) != len(y) {
		panic("kernel: dimension mismatch in Dot")
	}
	return blas64.Dot(
		blas64.Vector{N: len(x), Data: x, Inc: 1},
		blas64.Vector{N: len(y), Data: y, Inc: 1})
}
