package main

import (
	"fmt"
	"math"

	"github.com/cwbudde/bioenfit/internal/kernel"
	"github.com/cwbudde/bioenfit/internal/objective"
	"github.com/cwbudde/bioenfit/internal/store"
	"github.com/spf13/cobra"
)

var (
	gradcheckData      string
	gradcheckKind      string
	gradcheckStep      float64
	gradcheckThreshold float64
)

var gradcheckCmd = &cobra.Command{
	Use:   "gradcheck",
	Short: "Compare analytic and finite-difference gradients",
	Long: `Evaluates the gradient of the objective at the dataset's starting point
analytically and by central finite differences, and fails if the scaled
difference exceeds --threshold.`,
	RunE: runGradcheck,
}

func init() {
	gradcheckCmd.Flags().StringVar(&gradcheckData, "data", "", "Dataset file (required)")
	gradcheckCmd.Flags().StringVar(&gradcheckKind, "kind", store.KindForces, "Parameterization: forces, logweights")
	gradcheckCmd.Flags().Float64Var(&gradcheckStep, "step", 0, "Finite difference step (0 = default)")
	gradcheckCmd.Flags().Float64Var(&gradcheckThreshold, "threshold", 1e-6, "Largest accepted scaled difference")
	gradcheckCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(gradcheckCmd)
}

func runGradcheck(cmd *cobra.Command, args []string) error {
	req, err := loadRequest(gradcheckData, gradcheckKind, math.NaN())
	if err != nil {
		return err
	}

	var (
		ev objective.Evaluator
		x  []float64
	)
	switch gradcheckKind {
	case store.KindForces:
		fe, err := objective.NewForces(req.Data)
		if err != nil {
			return err
		}
		defer fe.Release()
		ev, x = fe, req.Init
	default:
		le, err := objective.NewLogWeights(req.Data, req.G)
		if err != nil {
			return err
		}
		defer le.Release()
		if len(req.Init) != le.Dim()+1 {
			return fmt.Errorf("GInit has %d entries, want %d", len(req.Init), le.Dim()+1)
		}
		ev, x = le, objective.GaugeFix(req.Init)[:le.Dim()]
	}

	check, err := objective.CheckGradient(ev, x, gradcheckStep)
	if err != nil {
		return err
	}
	fmt.Printf("dimension %d, max scaled difference %.3e at index %d\n", len(x), check.MaxError, check.Index)
	if check.Index >= 0 {
		fmt.Printf("analytic %.12g, numeric %.12g (relative %.3e)\n",
			check.Analytic[check.Index], check.Numeric[check.Index],
			kernel.RelativeDifference(check.Analytic[check.Index], check.Numeric[check.Index]))
	}
	if check.MaxError > gradcheckThreshold {
		return fmt.Errorf("gradient check failed: %.3e > %.3e", check.MaxError, gradcheckThreshold)
	}
	return nil
}
