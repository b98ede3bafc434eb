package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/cwbudde/bioenfit/internal/runner"
	"github.com/cwbudde/bioenfit/internal/store"
	"github.com/spf13/cobra"
)

// reweightFlags configure the forces and logw commands.
type reweightFlags struct {
	optimizerFlags
	dataPath string
	theta    float64
	save     bool
	trace    bool
	dataDir  string
	outPath  string
}

func newReweightCmd(kind, use, short, long string) *cobra.Command {
	f := &reweightFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReweight(cmd.Context(), kind, f)
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().StringVar(&f.dataPath, "data", "", "Dataset file (required)")
	cmd.Flags().Float64Var(&f.theta, "theta", math.NaN(), "Override the dataset's theta")
	cmd.Flags().BoolVar(&f.save, "save", false, "Store the run under --data-dir")
	cmd.Flags().BoolVar(&f.trace, "trace", false, "Write the iteration trace of a stored run")
	cmd.Flags().StringVar(&f.outPath, "out", "", "Write the result as JSON to this file")
	dataDirFlag(cmd, &f.dataDir)
	cmd.MarkFlagRequired("data")
	return cmd
}

func init() {
	rootCmd.AddCommand(newReweightCmd(store.KindForces, "forces",
		"Reweight in the forces parameterization",
		`Minimizes the reweighting objective over one force per observable,
starting from the dataset's forces_init.`))
	rootCmd.AddCommand(newReweightCmd(store.KindLogWeights, "logw",
		"Reweight in the log-weights parameterization",
		`Minimizes the reweighting objective over the log-weights of all ensemble
members, starting from the dataset's GInit. The dataset's G, if present, gives
the prior log-weights; otherwise log(w0) is used.`))
}

// loadRequest reads a dataset and assembles a runner request for kind. A
// NaN theta keeps the dataset's value.
func loadRequest(path, kind string, theta float64) (runner.Request, error) {
	req, err := runner.LoadRequest(path, kind)
	if err != nil {
		return req, err
	}
	if !math.IsNaN(theta) {
		req.Data.Theta = theta
	}
	return req, nil
}

// signalContext cancels on interrupt so a long run stops at the next
// iteration and still reports its state.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt)
}

func openStore(dataDir string) (*store.FSStore, error) {
	st, err := store.NewFSStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create run store: %w", err)
	}
	return st, nil
}

func runReweight(ctx context.Context, kind string, f *reweightFlags) error {
	cfg, err := f.config()
	if err != nil {
		return err
	}
	req, err := loadRequest(f.dataPath, kind, f.theta)
	if err != nil {
		return err
	}
	req.Config = cfg

	var st store.Store
	if f.save {
		if st, err = openStore(f.dataDir); err != nil {
			return err
		}
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	run, runErr := runner.New(nil, st, f.trace).Submit(ctx, req)
	if run == nil {
		return runErr
	}
	printRun(run)

	if f.outPath != "" {
		if err := writeJSON(f.outPath, run); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", f.outPath)
	}
	return runErr
}

func printRun(run *store.Run) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RUN\t%s\n", run.ID)
	fmt.Fprintf(w, "KIND\t%s\n", run.Kind)
	fmt.Fprintf(w, "BACKEND\t%s/%s\n", run.Config.Backend, run.Config.Algorithm)
	fmt.Fprintf(w, "STATUS\t%s\n", run.Status)
	fmt.Fprintf(w, "THETA\t%g\n", run.Theta)
	fmt.Fprintf(w, "ITERATIONS\t%d (%d evaluations)\n", run.Iterations, run.Evaluations)
	fmt.Fprintf(w, "OBJECTIVE\t%.10g -> %.10g\n", run.InitialObjective, run.FinalObjective)
	fmt.Fprintf(w, "CHI2\t%.10g\n", run.ChiSquare)
	fmt.Fprintf(w, "ENTROPY\t%.10g\n", run.Entropy)
	if len(run.YPred) > 0 {
		fmt.Fprintf(w, "Y_PRED\t%.6g\n", run.YPred)
	}
	fmt.Fprintf(w, "RUNTIME\t%s\n", run.Runtime)
	if run.Error != "" {
		fmt.Fprintf(w, "ERROR\t%s\n", run.Error)
	}
	w.Flush()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
