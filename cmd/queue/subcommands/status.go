package subcommands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
)

// StatusCmd shows worker and counter state per queue.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workers, backlog and job counts per queue",
	Long: "Show workers, backlog and job counts per queue.\n\n" +
		"Reads the live overview from the daemon: the pool state, live workers " +
		"against configured concurrency, the cached backlog and the lifetime job " +
		"counters of every queue.",
	Example: `  # Show queue status
  mailroom queue status

  # As JSON
  mailroom queue status --json`,
	PreRunE: runtimeErrors,
	RunE:    runStatus,
}

func init() {
	cmdutil.AddJSONFlag(StatusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	ov, err := client.Queues(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch queue status; %w", err)
	}

	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), ov)
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatOverview(ov))
	return nil
}
