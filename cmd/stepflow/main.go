// cmd/stepflow/main.go
//
// This is the entry point for the stepflow CLI.
//
// `stepflow run` walks the user through a template's steps in the terminal.
// `stepflow validate` and `stepflow plan` inspect a template without running
// it, and `stepflow complete` / `stepflow end` post events to a running
// wizard's bridge.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stepflow",
		Short: "Terminal wizard for step-by-step templates",
		Long: `stepflow renders a template as an ordered list of steps and walks the
user through them: one step is open at a time, unsaved edits prompt before
switching, and review steps unlock once the rest are complete.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(runCmd(), validateCmd(), planCmd(), completeCmd(), endCmd())
	return cmd
}
