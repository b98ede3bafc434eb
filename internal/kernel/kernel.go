package kernel

import (
	"log/slog"
	"sync"

	"golang.org/x/sys/cpu"
	"gonum.org/v1/gonum/blas/blas64"
)

// Dense matrix-vector kernels used by the objective evaluators.
//
// Two execution paths exist:
//   - Generic: portable Go loops. The summation order of every output
//     element is fixed, independent of the number of worker goroutines,
//     so results are bit-identical for any Threads value.
//   - Native: gonum blas64, which dispatches to assembly ddot/daxpy
//     routines on supported architectures.
//
// Both paths agree to floating-point round-off; they are not guaranteed
// to be bit-identical to each other.

// Kernel computes dense matrix-vector products on row-major matrices.
type Kernel interface {
	// MulVec computes dst = A·x. len(dst) == A.Rows, len(x) == A.Cols.
	MulVec(dst []float64, a blas64.General, x []float64)
	// MulTransVec computes dst = Aᵀ·x. len(dst) == A.Cols, len(x) == A.Rows.
	MulTransVec(dst []float64, a blas64.General, x []float64)
	// Dot returns x·y.
	Dot(x, y []float64) float64
	// Name identifies the path for logs and diagnostics.
	Name() string
}

// New returns the native kernel when native is set, the generic one
// otherwise. threads only affects the generic path; values below 1 mean
// single-threaded.
func New(native bool, threads int) Kernel {
	if native {
		return Native{}
	}
	return Generic{Threads: threads}
}

// Feature names the widest SIMD extension detected on this CPU.
type Feature int

const (
	FeatureNone Feature = iota
	FeatureAVX2
	FeatureFMA
	FeatureASIMD
)

func (f Feature) String() string {
	switch f {
	case FeatureAVX2:
		return "AVX2"
	case FeatureFMA:
		return "FMA"
	case FeatureASIMD:
		return "ASIMD"
	default:
		return "none"
	}
}

var (
	detectOnce sync.Once
	detected   Feature
)

// DetectedFeature reports the SIMD extension available to the native path.
// Detection runs once and is logged at debug level.
func DetectedFeature() Feature {
	detectOnce.Do(func() {
		switch {
		case cpu.X86.HasAVX2:
			detected = FeatureAVX2
		case cpu.X86.HasFMA:
			detected = FeatureFMA
		case cpu.ARM64.HasASIMD:
			detected = FeatureASIMD
		default:
			detected = FeatureNone
		}
		slog.Debug("Kernel features detected", "simd", detected.String())
	})
	return detected
}
