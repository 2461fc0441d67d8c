package subcommands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/cmdutil"
)

var statsTop int

// StatsCmd shows incident statistics.
var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show incident counts, MTTR, MTBF and the most frequent rules",
	Long: "Show incident counts by state, mean time to resolve, mean time between " +
		"incidents and the rules that fired most.",
	Example: `  mailroom alerts stats --top 10`,
	PreRunE: runtimeErrors,
	RunE:    runStats,
}

func init() {
	StatsCmd.Flags().IntVar(&statsTop, "top", 5, "Number of top rules to list")
	cmdutil.AddJSONFlag(StatsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	stats, err := client.AlertStats(cmd.Context(), statsTop)
	if err != nil {
		return fmt.Errorf("failed to fetch alert stats; %w", err)
	}

	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), stats)
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatStats(stats))
	return nil
}

func formatStats(s *alerts.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Incidents: %d total, %d open, %d acknowledged, %d resolved\n",
		s.Total, s.Open, s.Acknowledged, s.Resolved)
	fmt.Fprintf(&sb, "MTTR: %s\nMTBF: %s", formatDuration(s.MTTR), formatDuration(s.MTBF))

	if len(s.TopRules) > 0 {
		rows := make([][]string, 0, len(s.TopRules))
		for _, r := range s.TopRules {
			rows = append(rows, []string{r.RuleID, strconv.Itoa(r.Count)})
		}
		sb.WriteString("\n")
		sb.WriteString(cmdutil.Table([]string{"Rule", "Incidents"}, rows, nil))
	}
	return sb.String()
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Truncate(time.Second).String()
}
