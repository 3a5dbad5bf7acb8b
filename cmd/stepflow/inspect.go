package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/stepflow/internal/template"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check that a template loads",
		Long: `Validate parses a YAML or JSON template and applies the same transform the
wizard uses. A template without steps expands into the default campaign flow.

The exit code indicates the result:
  0 - template is valid
  1 - template could not be parsed or has invalid steps`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := template.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d step(s)\n", len(tmpl.Steps))
			return nil
		},
	}
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan FILE",
		Short: "Print the steps a template produces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := template.LoadFile(args[0])
			if err != nil {
				return err
			}
			plan, err := tmpl.Plan()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if name := strings.TrimSpace(tmpl.Name); name != "" {
				fmt.Fprintln(out, name)
			}
			for _, def := range plan.Steps() {
				var marks []string
				if def.Dependent {
					marks = append(marks, "dependent")
				}
				if def.Completed {
					marks = append(marks, "completed")
				}
				if def.DisableContinue {
					marks = append(marks, "no-continue")
				}
				line := fmt.Sprintf("%2d. %s", def.Number, def.Title)
				if len(marks) > 0 {
					line += " [" + strings.Join(marks, ", ") + "]"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
