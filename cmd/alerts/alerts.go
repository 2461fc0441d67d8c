// Package alerts provides the alerts parent command and subcommands.
package alerts

import (
	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/cmd/alerts/subcommands"
	"github.com/leefowlercu/mailroom/internal/cmdutil"
)

// AlertsCmd is the parent command for alert rules and incidents.
var AlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect alert rules and manage incidents",
	Long: "Inspect alert rules and manage incidents.\n\n" +
		"Rules are evaluated by the daemon against metrics, logs, heartbeats and " +
		"synthetic checks. A rule whose condition becomes true opens an incident, " +
		"which is acknowledged and resolved here or resolved automatically once " +
		"the condition clears.",
}

func init() {
	cmdutil.AddAddrFlag(AlertsCmd)

	AlertsCmd.AddCommand(subcommands.RulesCmd)
	AlertsCmd.AddCommand(subcommands.IncidentsCmd)
	AlertsCmd.AddCommand(subcommands.ShowCmd)
	AlertsCmd.AddCommand(subcommands.AckCmd)
	AlertsCmd.AddCommand(subcommands.ResolveCmd)
	AlertsCmd.AddCommand(subcommands.StatsCmd)
}
