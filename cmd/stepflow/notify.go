package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/stepflow/internal/config"
	"github.com/kingrea/stepflow/internal/eventbridge"
)

type notifyOptions struct {
	bridgeURL  string
	templateID string
	sessionID  string
}

func (o *notifyOptions) register(cmd *cobra.Command) {
	defaultURL := config.Defaults().Bridge.URL()
	cmd.Flags().StringVar(&o.bridgeURL, "bridge-url", defaultURL, "Base URL of the running wizard's bridge")
	cmd.Flags().StringVar(&o.templateID, "template-id", "", "Template the event is addressed to")
	cmd.Flags().StringVar(&o.sessionID, "session", "", "Limit the event to one wizard session")
	_ = cmd.MarkFlagRequired("template-id")
}

func (o *notifyOptions) publish(cmd *cobra.Command, event eventbridge.Event) error {
	event.TemplateID = strings.TrimSpace(o.templateID)
	event.SessionID = strings.TrimSpace(o.sessionID)
	sent, err := eventbridge.NewPublisher(o.bridgeURL, nil).Publish(cmd.Context(), event)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "accepted %s (%s)\n", sent.EventID, sent.Type)
	return nil
}

func completeCmd() *cobra.Command {
	var (
		opts notifyOptions
		step int
	)
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Mark a step completed in a running wizard",
		Long: `Complete posts a step_completed event to a wizard started with --bridge.
The wizard records the completion and moves on if that step was open.

Example:
  stepflow complete --template-id onboarding --step 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.publish(cmd, eventbridge.Event{Type: eventbridge.TypeStepCompleted, Step: step})
		},
	}
	opts.register(cmd)
	cmd.Flags().IntVar(&step, "step", 0, "Step number to mark completed")
	_ = cmd.MarkFlagRequired("step")
	return cmd
}

func endCmd() *cobra.Command {
	var opts notifyOptions
	cmd := &cobra.Command{
		Use:   "end",
		Short: "Close a running wizard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.publish(cmd, eventbridge.Event{Type: eventbridge.TypeSessionEnd})
		},
	}
	opts.register(cmd)
	return cmd
}
