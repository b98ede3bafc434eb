package main

import (
	"fmt"

	"github.com/cwbudde/bioenfit/internal/kernel"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bioenfit version %s (native kernel: %s)\n", version, kernel.DetectedFeature())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
