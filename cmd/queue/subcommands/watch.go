package subcommands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/tui/watch"
)

var watchInterval time.Duration

// WatchCmd opens the live queue dashboard.
var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open a live dashboard of every queue",
	Long: "Open a live dashboard of every queue.\n\n" +
		"Polls the daemon and redraws workers, backlog and job counts per queue. " +
		"Press r to refresh now and q to quit.",
	Example: `  # Watch queues, refreshing every second
  mailroom queue watch --interval 1s`,
	PreRunE: runtimeErrors,
	RunE:    runWatch,
}

func init() {
	WatchCmd.Flags().DurationVar(&watchInterval, "interval", watch.DefaultInterval, "Polling interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	return watch.Run(cmd.Context(), client, watchInterval)
}
