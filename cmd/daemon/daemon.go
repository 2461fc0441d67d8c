// Package daemon provides the daemon parent command and subcommands.
package daemon

import (
	"github.com/leefowlercu/mailroom/cmd/daemon/subcommands"
	"github.com/spf13/cobra"
)

// DaemonCmd is the parent command for all daemon-related subcommands.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the mailroom daemon",
	Long: "Manage the mailroom daemon.\n\n" +
		"The daemon command allows you to start, stop, and check the status of the " +
		"background mailroom service. The daemon hosts the worker pool, the metrics " +
		"sampler and the alert engine, and exposes health check endpoints for monitoring.",
}

func init() {
	// Register subcommands
	DaemonCmd.AddCommand(subcommands.StartCmd)
	DaemonCmd.AddCommand(subcommands.StopCmd)
	DaemonCmd.AddCommand(subcommands.StatusCmd)
}
