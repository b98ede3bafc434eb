package kernel

import (
	"math"

	"github.com/cwbudde/bioenfit/internal/errs"
	"gonum.org/v1/gonum/floats"
)

// Finite reports whether every element of v is finite.
func Finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Normalize scales w in place to sum to one. A zero or non-finite sum is
// reported as numerical instability and leaves w untouched.
func Normalize(op string, w []float64) error {
	s := floats.Sum(w)
	if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return errs.Unstable(op, "normalization sum is %g", s)
	}
	floats.Scale(1/s, w)
	return nil
}

// ShiftedExp writes dst[i] = exp(v[i] + logW0[i] - shift) where shift is
// the largest v[i]+logW0[i] over members with logW0[i] > -Inf. The largest
// term becomes exactly one, so the sum of dst is at least one. Members with
// zero reference weight get exactly zero.
func ShiftedExp(dst, v, logW0 []float64) {
	shift := math.Inf(-1)
	for i, l := range logW0 {
		if math.IsInf(l, -1) {
			continue
		}
		if t := v[i] + l; t > shift {
			shift = t
		}
	}
	for i, l := range logW0 {
		if math.IsInf(l, -1) {
			dst[i] = 0
			continue
		}
		dst[i] = math.Exp(v[i] + l - shift)
	}
}

// LogSoftmax writes dst = g - logsumexp(g) and returns logsumexp(g).
func LogSoftmax(dst, g []float64) float64 {
	lse := floats.LogSumExp(g)
	for i, x := range g {
		dst[i] = x - lse
	}
	return lse
}

// Softmax writes dst = exp(g) / Σ exp(g), shifted by max(g) and
// normalized so that dst sums to one to rounding.
func Softmax(dst, g []float64) {
	shift := floats.Max(g)
	for i, x := range g {
		dst[i] = math.Exp(x - shift)
	}
	floats.Scale(1/floats.Sum(dst), dst)
}

// Log writes dst[i] = log(w[i]); zero entries map to -Inf.
func Log(dst, w []float64) {
	for i, x := range w {
		dst[i] = math.Log(x)
	}
}

// RelativeEntropy returns Σ w_i log(w_i / w0_i) with 0·log 0 = 0. A member
// with w_i > 0 and w0_i = 0 makes the result +Inf.
func RelativeEntropy(w, w0 []float64) float64 {
	var s float64
	for i, x := range w {
		if x <= 0 {
			continue
		}
		if w0[i] <= 0 {
			return math.Inf(1)
		}
		s += x * math.Log(x/w0[i])
	}
	return s
}

// RelativeEntropyLog is RelativeEntropy for callers that already hold the
// logarithms of both distributions.
func RelativeEntropyLog(w, logW, logW0 []float64) float64 {
	var s float64
	for i, x := range w {
		if x <= 0 {
			continue
		}
		s += x * (logW[i] - logW0[i])
	}
	return s
}

// RelativeDifference returns |a-b| / max(|a|, |b|), or 0 when both are 0.
func RelativeDifference(a, b float64) float64 {
	d := math.Abs(a - b)
	if d == 0 {
		return 0
	}
	return d / math.Max(math.Abs(a), math.Abs(b))
}

// MaxRelativeDifference returns the largest element-wise relative
// difference between a and b and the index where it occurs.
func MaxRelativeDifference(a, b []float64) (float64, int) {
	if len(a) != len(b) {
		panic("kernel: length mismatch in MaxRelativeDifference")
	}
	maxDiff, at := 0.0, -1
	for i := range a {
		if d := RelativeDifference(a[i], b[i]); d > maxDiff || at < 0 {
			maxDiff, at = d, i
		}
	}
	return maxDiff, at
}
