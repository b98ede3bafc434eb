package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/bioenfit/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	runsDataDir   string
	keepLast      int
	olderThanDays int
	failedOnly    bool
	forceClean    bool
	showTrace     bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage stored reweighting runs",
	Long:  `Inspect and clean runs saved with --save.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored runs",
	Long:  `Display all stored runs with kind, backend, theta, status, objective and size on disk.`,
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old runs",
	Long: `Delete stored runs based on retention policy.
You can keep the newest N runs, delete runs older than N days, or both.`,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)
	runsCmd.AddCommand(cleanRunsCmd)

	runsCmd.PersistentFlags().StringVar(&runsDataDir, "data-dir", "./data", "Base directory for stored runs")

	showRunCmd.Flags().BoolVar(&showTrace, "trace", false, "Print the iteration trace")

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N runs (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVar(&failedOnly, "failed", false, "Only consider failed runs")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func runListRuns(cmd *cobra.Command, args []string) error {
	runStore, err := openStore(runsDataDir)
	if err != nil {
		return err
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tTIMESTAMP\tKIND\tBACKEND\tTHETA\tSTATUS\tITER\tOBJECTIVE\tSIZE")
	fmt.Fprintln(w, "------\t---------\t----\t-------\t-----\t------\t----\t---------\t----")

	for _, info := range infos {
		sizeStr := "unknown"
		if size, err := getDirSize(filepath.Join(runsDataDir, "runs", info.ID)); err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s\t%g\t%s\t%d\t%.8g\t%s\n",
			shortID(info.ID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.Kind,
			info.Backend, info.Algorithm,
			info.Theta,
			info.Status,
			info.Iterations,
			info.FinalObjective,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Printf("\nTotal runs: %d\n", len(infos))
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	runStore, err := openStore(runsDataDir)
	if err != nil {
		return err
	}
	run, err := runStore.LoadRun(args[0])
	if err != nil {
		return err
	}
	printRun(run)
	if run.Input != "" {
		fmt.Printf("\nInput: %s\n", run.Input)
	}
	fmt.Printf("Params: %v\n", run.Params)

	if !showTrace {
		return nil
	}
	tr, err := store.NewTraceReader(runsDataDir, run.ID)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Println("\nNo trace recorded.")
		return nil
	}
	if err != nil {
		return err
	}
	defer tr.Close()
	entries, err := tr.ReadAll()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nITERATION\tOBJECTIVE\tGRAD NORM")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%.12g\t%.3e\n", e.Iteration, e.Objective, e.GradNorm)
	}
	return w.Flush()
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 && !failedOnly {
		return fmt.Errorf("must specify --keep-last, --older-than or --failed")
	}

	runStore, err := openStore(runsDataDir)
	if err != nil {
		return err
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No runs to clean.")
		return nil
	}

	policy := store.RetentionPolicy{
		KeepLast:   keepLast,
		OlderThan:  time.Duration(olderThanDays) * 24 * time.Hour,
		FailedOnly: failedOnly,
	}
	now := time.Now()
	toDelete := policy.Select(infos, now)

	if len(toDelete) == 0 {
		fmt.Println("No runs match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (%s, %s)\n",
			shortID(info.ID),
			info.Status,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted, err := runStore.Prune(policy, now)
	for _, id := range deleted {
		slog.Info("Deleted run", "run_id", id)
	}
	failed := len(multierr.Errors(err))
	for _, e := range multierr.Errors(err) {
		slog.Error("Failed to delete run", "error", e)
	}

	fmt.Printf("\nDeleted %d run(s), %d failed.\n", len(deleted), failed)
	return nil
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
