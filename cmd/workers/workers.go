// Package workers provides the workers parent command and subcommands.
package workers

import (
	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/cmd/workers/subcommands"
	"github.com/leefowlercu/mailroom/internal/cmdutil"
)

// WorkersCmd is the parent command for worker pool control.
var WorkersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Start or stop the daemon's worker pool",
	Long: "Start or stop the daemon's worker pool.\n\n" +
		"Stopping drains in-flight jobs and leaves the daemon running, so queues " +
		"still accept work and health endpoints report the pool as stopped.",
}

func init() {
	cmdutil.AddAddrFlag(WorkersCmd)

	WorkersCmd.AddCommand(subcommands.StartCmd)
	WorkersCmd.AddCommand(subcommands.StopCmd)
}
