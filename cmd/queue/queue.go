// Package queue provides the queue parent command and subcommands.
package queue

import (
	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/cmd/queue/subcommands"
	"github.com/leefowlercu/mailroom/internal/cmdutil"
)

// QueueCmd is the parent command for queue and job subcommands.
var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect queues and manage jobs",
	Long: "Inspect queues and manage jobs.\n\n" +
		"The queue command reads live queue state from a running daemon, enqueues " +
		"and cancels jobs, and opens a live dashboard of every queue.",
}

func init() {
	cmdutil.AddAddrFlag(QueueCmd)

	QueueCmd.AddCommand(subcommands.StatusCmd)
	QueueCmd.AddCommand(subcommands.StatsCmd)
	QueueCmd.AddCommand(subcommands.EnqueueCmd)
	QueueCmd.AddCommand(subcommands.ListCmd)
	QueueCmd.AddCommand(subcommands.JobCmd)
	QueueCmd.AddCommand(subcommands.CancelCmd)
	QueueCmd.AddCommand(subcommands.WatchCmd)
}
