// Package reweight finds the maximum-entropy reweighting of an ensemble
// against experimental averages, in the forces or the log-weights
// parameterization.
package reweight

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwbudde/bioenfit/internal/errs"
	"github.com/cwbudde/bioenfit/internal/kernel"
	"github.com/cwbudde/bioenfit/internal/minimize"
	"github.com/cwbudde/bioenfit/internal/objective"
)

// Summary holds what both parameterizations report about a run. YPred
// holds the reweighted ensemble averages in observable units and is nil when
// the problem carries no unscaled predictions. YTildePred holds the
// reweighted averages of the scaled predictions.
type Summary struct {
	Weights          []float64       `json:"weights"`
	YPred            []float64       `json:"y_pred,omitempty"`
	YTildePred       []float64       `json:"y_tilde_pred"`
	InitialObjective float64         `json:"initial_objective"`
	FinalObjective   float64         `json:"final_objective"`
	ChiSquare        float64         `json:"chi_square"`
	Entropy          float64         `json:"entropy"`
	GradNorm         float64         `json:"grad_norm"`
	Backend          string          `json:"backend"`
	Algorithm        string          `json:"algorithm"`
	Status           minimize.Status `json:"status"`
	Iterations       int             `json:"iterations"`
	Evaluations      int             `json:"evaluations"`
	Runtime          time.Duration   `json:"runtime"`
}

// Err reports NonConvergence when the iteration cap was hit.
func (s *Summary) Err() error {
	if s.Status != minimize.MaxIterReached {
		return nil
	}
	return &errs.Error{
		Kind:          errs.NonConvergence,
		Op:            s.Backend + "/" + s.Algorithm,
		Iteration:     s.Iterations,
		LastObjective: s.FinalObjective,
		HasObjective:  true,
	}
}

// ForcesResult is the outcome of FindOptimumForces.
type ForcesResult struct {
	Summary
	Forces []float64 `json:"forces"`
}

// LogWeightsResult is the outcome of FindOptimumLogWeights.
type LogWeightsResult struct {
	Summary
	// G holds all N log-weights with the last one fixed at zero.
	G []float64 `json:"g"`
}

func evaluatorOptions(cfg minimize.Config) []objective.Option {
	return []objective.Option{
		objective.WithCache(cfg.CacheTransposed),
		objective.WithKernel(kernel.New(cfg.UseNativeKernel, cfg.Threads)),
	}
}

// evaluation is implemented by both evaluators.
type evaluation interface {
	minimize.Objective
	Evaluate(x []float64) (objective.Evaluation, error)
	Release()
}

// optimize runs the minimizer and fills a summary. On failure the summary
// carries the partial state and Status Failed.
func optimize(ctx context.Context, op string, ev evaluation, x0 []float64, cfg minimize.Config) (Summary, []float64, error) {
	defer ev.Release()

	res, err := minimize.Run(ctx, cfg, ev, x0)
	if res == nil {
		return Summary{}, nil, err
	}
	sum := Summary{
		InitialObjective: res.InitialF,
		FinalObjective:   res.F,
		GradNorm:         res.GradNorm,
		Backend:          res.Backend,
		Algorithm:        res.Algorithm,
		Status:           res.Status,
		Iterations:       res.Iterations,
		Evaluations:      res.Evaluations,
		Runtime:          res.Runtime,
	}
	if err != nil {
		return sum, res.X, err
	}

	eval, err := ev.Evaluate(res.X)
	if err != nil {
		sum.Status = minimize.Failed
		return sum, res.X, err
	}
	sum.Weights = eval.Weights
	sum.YPred = eval.YPred
	sum.YTildePred = eval.YTildePred
	sum.ChiSquare = eval.ChiSquare
	sum.Entropy = eval.Entropy
	sum.FinalObjective = eval.Objective

	slog.Info("Reweighting finished",
		"parameterization", op,
		"backend", sum.Backend,
		"algorithm", sum.Algorithm,
		"status", sum.Status.String(),
		"iterations", sum.Iterations,
		"initial_objective", sum.InitialObjective,
		"objective", sum.FinalObjective,
		"chi_square", sum.ChiSquare,
		"entropy", sum.Entropy,
	)
	return sum, res.X, nil
}

// FindOptimumForces minimizes the objective over the M forces starting at
// forcesInit. A run that hits the iteration cap returns its best iterate
// with Status MaxIterReached and a nil error.
func FindOptimumForces(ctx context.Context, forcesInit []float64, data objective.Data, cfg minimize.Config) (*ForcesResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ev, err := objective.NewForces(data, evaluatorOptions(cfg)...)
	if err != nil {
		return nil, err
	}
	if len(forcesInit) != ev.Dim() {
		ev.Release()
		return nil, errs.Invalid("forces", "forces_init has %d entries, want %d", len(forcesInit), ev.Dim())
	}
	sum, x, err := optimize(ctx, "forces", ev, forcesInit, cfg)
	if x == nil && err != nil {
		return nil, err
	}
	return &ForcesResult{Summary: sum, Forces: x}, err
}

// FindOptimumLogWeights minimizes the objective over the log-weights. gInit
// holds N log-weights and is gauge-fixed before the run. G holds the prior
// log-weights, nil for log(w0).
func FindOptimumLogWeights(ctx context.Context, gInit, G []float64, data objective.Data, cfg minimize.Config) (*LogWeightsResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ev, err := objective.NewLogWeights(data, G, evaluatorOptions(cfg)...)
	if err != nil {
		return nil, err
	}
	if len(gInit) != ev.Dim()+1 {
		ev.Release()
		return nil, errs.Invalid("logweights", "g_init has %d entries, want %d", len(gInit), ev.Dim()+1)
	}
	x0 := objective.GaugeFix(gInit)[:ev.Dim()]
	sum, x, err := optimize(ctx, "logweights", ev, x0, cfg)
	if x == nil && err != nil {
		return nil, err
	}
	return &LogWeightsResult{Summary: sum, G: append(x, 0)}, err
}

// ForcesObjective evaluates the objective at forces with a fresh evaluator.
func ForcesObjective(forces []float64, data objective.Data) (objective.Evaluation, error) {
	ev, err := objective.NewForces(data)
	if err != nil {
		return objective.Evaluation{}, err
	}
	if len(forces) != ev.Dim() {
		return objective.Evaluation{}, errs.Invalid("forces", "forces has %d entries, want %d", len(forces), ev.Dim())
	}
	return ev.Evaluate(forces)
}

// LogWeightsObjective evaluates the objective at the N log-weights g with a
// fresh evaluator. G is as in FindOptimumLogWeights.
func LogWeightsObjective(g, G []float64, data objective.Data) (objective.Evaluation, error) {
	ev, err := objective.NewLogWeights(data, G)
	if err != nil {
		return objective.Evaluation{}, err
	}
	if len(g) != ev.Dim()+1 {
		return objective.Evaluation{}, errs.Invalid("logweights", "g has %d entries, want %d", len(g), ev.Dim()+1)
	}
	return ev.Evaluate(objective.GaugeFix(g)[:ev.Dim()])
}
