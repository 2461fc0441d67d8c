package subcommands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/daemonclient"
)

// AckCmd acknowledges an incident.
var AckCmd = &cobra.Command{
	Use:   "ack <id>",
	Short: "Acknowledge an open incident",
	Long: "Acknowledge an open incident. Acknowledged incidents stay unresolved " +
		"until the rule clears or they are resolved by hand.",
	Example: `  mailroom alerts ack 3f0e8a51-7c7b-4d5e-8a8e-2f4f6a9b1c3d`,
	Args:    cobra.ExactArgs(1),
	PreRunE: runtimeErrors,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, args[0], "acknowledge", (*daemonclient.Client).Ack)
	},
}

// ResolveCmd resolves an incident by hand.
var ResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Resolve an incident by hand",
	Long: "Resolve an open or acknowledged incident by hand. The rule does not " +
		"open a new incident until its condition clears and trips again.",
	Example: `  mailroom alerts resolve 3f0e8a51-7c7b-4d5e-8a8e-2f4f6a9b1c3d`,
	Args:    cobra.ExactArgs(1),
	PreRunE: runtimeErrors,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, args[0], "resolve", (*daemonclient.Client).Resolve)
	},
}

func runTransition(cmd *cobra.Command, id, action string, call func(*daemonclient.Client, context.Context, string) (*alerts.Incident, error)) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	inc, err := call(client, cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("failed to %s incident; %w", action, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Incident %s is now %s\n", inc.ID, inc.State)
	return nil
}
