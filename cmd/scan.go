package main

import (
	"fmt"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/cwbudde/bioenfit/internal/runner"
	"github.com/cwbudde/bioenfit/internal/store"
	"github.com/spf13/cobra"
)

var scanFlags struct {
	optimizerFlags
	dataPath string
	kind     string
	thetaMin float64
	thetaMax float64
	points   int
	workers  int
	save     bool
	dataDir  string
	outPath  string
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Reweight over a range of theta values",
	Long: `Runs one independent reweighting per theta on a geometric grid and prints
chi-square and relative entropy per point. Plotting the two against each other
gives the L-curve used to choose theta.`,
	RunE: runScan,
}

func init() {
	scanFlags.register(scanCmd.Flags())
	scanCmd.Flags().StringVar(&scanFlags.dataPath, "data", "", "Dataset file (required)")
	scanCmd.Flags().StringVar(&scanFlags.kind, "kind", store.KindForces, "Parameterization: forces, logweights")
	scanCmd.Flags().Float64Var(&scanFlags.thetaMin, "theta-min", 0.01, "Smallest theta")
	scanCmd.Flags().Float64Var(&scanFlags.thetaMax, "theta-max", 100, "Largest theta")
	scanCmd.Flags().IntVar(&scanFlags.points, "points", 9, "Number of theta values")
	scanCmd.Flags().IntVar(&scanFlags.workers, "workers", runtime.NumCPU(), "Concurrent runs")
	scanCmd.Flags().BoolVar(&scanFlags.save, "save", false, "Store every run under --data-dir")
	scanCmd.Flags().StringVar(&scanFlags.outPath, "out", "", "Write the scan points as JSON to this file")
	dataDirFlag(scanCmd, &scanFlags.dataDir)
	scanCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := scanFlags.config()
	if err != nil {
		return err
	}
	thetas, err := runner.LogThetas(scanFlags.thetaMin, scanFlags.thetaMax, scanFlags.points)
	if err != nil {
		return err
	}
	req, err := loadRequest(scanFlags.dataPath, scanFlags.kind, thetas[0])
	if err != nil {
		return err
	}
	req.Config = cfg

	var st store.Store
	if scanFlags.save {
		if st, err = openStore(scanFlags.dataDir); err != nil {
			return err
		}
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	points, scanErr := runner.New(nil, st, false).Scan(ctx, req, thetas, scanFlags.workers)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "THETA\tSTATUS\tITER\tOBJECTIVE\tCHI2\tENTROPY\tERROR")
	fmt.Fprintln(w, "-----\t------\t----\t---------\t----\t-------\t-----")
	failed := 0
	for _, pt := range points {
		if pt.Error != "" {
			failed++
		}
		fmt.Fprintf(w, "%g\t%s\t%d\t%.8g\t%.8g\t%.8g\t%s\n",
			pt.Theta, pt.Status, pt.Iterations, pt.Objective, pt.ChiSquare, pt.Entropy, pt.Error)
	}
	w.Flush()

	if scanFlags.outPath != "" {
		if err := writeJSON(scanFlags.outPath, points); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", scanFlags.outPath)
	}
	if scanErr != nil {
		return scanErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(points))
	}
	return nil
}
