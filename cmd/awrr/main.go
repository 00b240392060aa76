// Command awrr is the runner entry point (§6 "CLI surface"): it drives a
// strategy against a task file and either reports per-task outcomes (run)
// or reduces an existing trace log into aggregate metrics (metrics).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "awrr",
		Short: "Autonomous Workflow Recovery Runtime",
		Long:  "awrr drives multi-step tool-using tasks under injected faults and a configurable recovery strategy.",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newMetricsCmd())
	return root
}
