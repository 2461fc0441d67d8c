// Package health provides the health command.
package health

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/daemon"
	"github.com/leefowlercu/mailroom/internal/health"
	"github.com/leefowlercu/mailroom/internal/tui/styles"
)

var healthFull bool

// HealthCmd runs the daemon's quick or full health check.
var HealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon health",
	Long: "Check daemon health.\n\n" +
		"The quick check covers store reachability and live workers on critical " +
		"queues. --full adds backlog thresholds, per-queue worker health, external " +
		"dependency probes and supervised components. The command exits non-zero " +
		"when the result is not ok or healthy.",
	Example: `  # Quick check
  mailroom health

  # Full report
  mailroom health --full`,
	PreRunE: validateHealth,
	RunE:    runHealth,
}

func init() {
	HealthCmd.Flags().BoolVar(&healthFull, "full", false, "Run the full health check")
	cmdutil.AddJSONFlag(HealthCmd)
	cmdutil.AddAddrFlag(HealthCmd)
}

func validateHealth(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !healthFull {
		res, err := client.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to check health; %w", err)
		}
		if cmdutil.WantJSON(cmd) {
			if err := cmdutil.PrintJSON(out, res); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(out, formatQuick(res))
		}
		if res.Status != health.QuickOK {
			return fmt.Errorf("daemon is %s", res.Status)
		}
		return nil
	}

	res, err := client.Ready(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to check health; %w", err)
	}
	if cmdutil.WantJSON(cmd) {
		if err := cmdutil.PrintJSON(out, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, formatFull(res))
	}
	if res.Status != health.StatusHealthy {
		return fmt.Errorf("daemon is %s", res.Status)
	}
	return nil
}

func formatQuick(res *health.QuickResult) string {
	s := "Health: " + styles.Status(string(res.Status)).Render(string(res.Status))
	for _, r := range res.Reasons {
		s += "\n  - " + r
	}
	return s
}

func formatFull(res *daemon.ReadyResponse) string {
	var sb strings.Builder
	sb.WriteString("Health: " + styles.Status(string(res.Status)).Render(string(res.Status)))
	sb.WriteString(fmt.Sprintf("  (daemon %s, checked in %s)\n", res.State, res.Duration))

	rows := make([][]string, 0, len(res.Components))
	for _, c := range res.Components {
		critical := ""
		if c.Critical {
			critical = "yes"
		}
		rows = append(rows, []string{c.Name, string(c.Color), critical, c.Message})
	}
	sb.WriteString(cmdutil.Table([]string{"Component", "Status", "Critical", "Detail"}, rows, nil))
	return sb.String()
}
