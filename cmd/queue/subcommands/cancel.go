package subcommands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/store"
)

// CancelCmd cancels a job.
var CancelCmd = &cobra.Command{
	Use:   "cancel <queue> <id>",
	Short: "Cancel a job",
	Long: "Cancel a job.\n\n" +
		"A pending or retry-pending job is cancelled at once. A running job is " +
		"flagged and its worker stops at the next checkpoint. Finished jobs are left alone.",
	Example: `  # Cancel a job
  mailroom queue cancel email 6f1c2b9e-3a0d-4c55-9b7e-1f2a3b4c5d6e`,
	Args:    cobra.ExactArgs(2),
	PreRunE: runtimeErrors,
	RunE:    runCancel,
}

func init() {
	cmdutil.AddJSONFlag(CancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	res, err := client.Cancel(cmd.Context(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to cancel job; %w", err)
	}

	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), cancelMessage(res.ID, res.Result))
	return nil
}

func cancelMessage(id string, res store.CancelResult) string {
	switch res {
	case store.CancelApplied:
		return fmt.Sprintf("Job %s cancelled", id)
	case store.CancelRequested:
		return fmt.Sprintf("Cancellation requested for running job %s", id)
	default:
		return fmt.Sprintf("Job %s already finished; nothing to cancel", id)
	}
}
