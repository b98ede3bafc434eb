package kernel

import (
	"sync"

	"gonum.org/v1/gonum/blas/blas64"
)

// minParallelWork is the number of multiply-adds below which the generic
// kernel stays on the calling goroutine.
const minParallelWork = 1 << 15

// Generic is the portable kernel. Each output element is accumulated from
// zero in increasing index order by exactly one goroutine.
type Generic struct {
	Threads int
}

func (g Generic) Name() string { return "generic" }

func (g Generic) workers(work, outputs int) int {
	n := g.Threads
	if n <= 1 || work < minParallelWork {
		return 1
	}
	if n > outputs {
		n = outputs
	}
	return n
}

// MulVec computes dst[r] = Σ_c A[r,c]·x[c].
func (g Generic) MulVec(dst []float64, a blas64.General, x []float64) {
	if len(dst) != a.Rows || len(x) != a.Cols {
		panic("kernel: dimension mismatch in MulVec")
	}
	parallelRange(g.workers(a.Rows*a.Cols, a.Rows), a.Rows, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			row := a.Data[r*a.Stride : r*a.Stride+a.Cols]
			var s float64
			for c, v := range row {
				s += v * x[c]
			}
			dst[r] = s
		}
	})
}

// MulTransVec computes dst[c] = Σ_r A[r,c]·x[r], accumulating rows in
// increasing order. The order matches MulVec on the explicit transpose.
func (g Generic) MulTransVec(dst []float64, a blas64.General, x []float64) {
	if len(dst) != a.Cols || len(x) != a.Rows {
		panic("kernel: dimension mismatch in MulTransVec")
	}
	parallelRange(g.workers(a.Rows*a.Cols, a.Cols), a.Cols, func(lo, hi int) {
		out := dst[lo:hi]
		for i := range out {
			out[i] = 0
		}
		for r := 0; r < a.Rows; r++ {
			xr := x[r]
			row := a.Data[r*a.Stride+lo : r*a.Stride+hi]
			for i, v := range row {
				out[i] += v * xr
			}
		}
	})
}

// Dot returns Σ x[i]·y[i] in increasing index order.
func (g Generic) Dot(x, y []float64) float64 {
	if len(x) != len(y) {
		panic("kernel: dimension mismatch in Dot")
	}
	var s float64
	for i, v := range x {
		s += v * y[i]
	}
	return s
}

// parallelRange splits [0, n) into at most workers contiguous chunks.
func parallelRange(workers, n int, fn func(lo, hi int)) {
	if workers <= 1 || n < 2 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
