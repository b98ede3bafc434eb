package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cwbudde/bioenfit/internal/minimize"
	"github.com/spf13/cobra"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List minimizer backends and their algorithms",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BACKEND\tGRADIENT\tDEFAULT\tALGORITHMS")
		fmt.Fprintln(w, "-------\t--------\t-------\t----------")
		for _, b := range minimize.Backends() {
			fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", b.Name, b.Gradient, b.DefaultAlgorithm, strings.Join(b.Algorithms, ", "))
		}
		w.Flush()
		fmt.Printf("\nOptions for --set: %s\n", strings.Join(minimize.Keys(), ", "))
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
