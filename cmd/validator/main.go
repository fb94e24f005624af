// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command validator runs or exercises a DAG consensus node: "run"
// drives a local multi-validator simulation in a single process, and
// "check" validates a parameter preset before it is handed to
// runner.Build on a real deployment.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "validator",
	Short: "Run and exercise the DAG consensus core",
	Long: `validator wires up the consensus runner package and runs it, either as a
local multi-node simulation for development or as a one-shot parameter check
before a real deployment.`,
}

func main() {
	rootCmd.AddCommand(runCmd(), checkCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
