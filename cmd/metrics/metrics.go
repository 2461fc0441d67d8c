// Package metrics provides the metrics parent command and subcommands.
package metrics

import (
	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/cmd/metrics/subcommands"
	"github.com/leefowlercu/mailroom/internal/cmdutil"
)

// MetricsCmd is the parent command for metric queries.
var MetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Query and record queue metrics",
	Long: "Query and record queue metrics.\n\n" +
		"Metrics are named series such as queue.email.backlog or " +
		"queue.imports.completed. Points are kept for the configured retention.",
}

func init() {
	cmdutil.AddAddrFlag(MetricsCmd)

	MetricsCmd.AddCommand(subcommands.GetCmd)
	MetricsCmd.AddCommand(subcommands.SeriesCmd)
	MetricsCmd.AddCommand(subcommands.WindowsCmd)
	MetricsCmd.AddCommand(subcommands.RecordCmd)
}
