package runner

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/bioenfit/internal/errs"
	"github.com/sourcegraph/conc/pool"
)

// ScanPoint is the outcome of one theta of a scan. Plotting ChiSquare
// against Entropy over the points gives the L-curve used to choose theta.
type ScanPoint struct {
	Theta      float64 `json:"theta"`
	RunID      string  `json:"run_id"`
	Status     string  `json:"status"`
	Objective  float64 `json:"objective"`
	ChiSquare  float64 `json:"chi_square"`
	Entropy    float64 `json:"entropy"`
	Iterations int     `json:"iterations"`
	Error      string  `json:"error,omitempty"`
}

// Scan runs base once per theta with at most workers runs in flight. Each
// run gets its own evaluator and job. Failed runs are reported in their
// point and do not stop the scan; cancellation of ctx does, and the points
// of runs that did not finish carry the cancellation error.
//
// Points are returned in the order of thetas.
func (r *Runner) Scan(ctx context.Context, base Request, thetas []float64, workers int) ([]ScanPoint, error) {
	if len(thetas) == 0 {
		return nil, errs.Invalid("scan", "no theta values")
	}
	for i, th := range thetas {
		if math.IsNaN(th) || math.IsInf(th, 0) || th < 0 {
			return nil, errs.Invalid("scan", "theta[%d] = %g must be finite and non-negative", i, th)
		}
	}
	if workers < 1 {
		workers = 1
	}

	start := time.Now()
	slog.Info("Starting theta scan", "kind", base.Kind, "points", len(thetas), "workers", workers)

	points := make([]ScanPoint, len(thetas))
	p := pool.New().WithMaxGoroutines(workers)
	for i, th := range thetas {
		i, th := i, th
		req := base
		req.Data.Theta = th
		req.Config.Observer = nil
		p.Go(func() {
			points[i] = r.scanPoint(ctx, req)
		})
	}
	p.Wait()

	slog.Info("Theta scan finished", "points", len(thetas), "elapsed", time.Since(start))
	return points, ctx.Err()
}

func (r *Runner) scanPoint(ctx context.Context, req Request) ScanPoint {
	pt := ScanPoint{Theta: req.Data.Theta}
	if err := ctx.Err(); err != nil {
		pt.Status = string(StateCancelled)
		pt.Error = err.Error()
		return pt
	}
	run, err := r.Submit(ctx, req)
	if run != nil {
		pt.RunID = run.ID
		pt.Status = run.Status.String()
		pt.Objective = run.FinalObjective
		pt.ChiSquare = run.ChiSquare
		pt.Entropy = run.Entropy
		pt.Iterations = run.Iterations
	}
	if err != nil {
		pt.Error = err.Error()
	}
	return pt
}

// LogThetas returns n thetas spaced geometrically from lo to hi inclusive.
func LogThetas(lo, hi float64, n int) ([]float64, error) {
	if !(lo > 0) || !(hi >= lo) || math.IsInf(hi, 0) {
		return nil, errs.Invalid("scan", "need 0 < lo <= hi < inf, got lo=%g hi=%g", lo, hi)
	}
	if n < 1 {
		return nil, errs.Invalid("scan", "need at least one theta, got %d", n)
	}
	if n == 1 {
		return []float64{lo}, nil
	}
	out := make([]float64, n)
	step := (math.Log(hi) - math.Log(lo)) / float64(n-1)
	for i := range out {
		out[i] = math.Exp(math.Log(lo) + float64(i)*step)
	}
	out[n-1] = hi
	return out, nil
}
