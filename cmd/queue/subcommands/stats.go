package subcommands

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/worker"
)

// StatsCmd shows throughput and latency per queue.
var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show throughput, latency and success rate per queue",
	Long: "Show throughput, latency and success rate per queue.\n\n" +
		"Statistics are computed by the daemon over its configured stats window " +
		"from the recorded queue metrics.",
	Example: `  # Show queue statistics
  mailroom queue stats`,
	PreRunE: runtimeErrors,
	RunE:    runStats,
}

func init() {
	cmdutil.AddJSONFlag(StatsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	stats, err := client.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch queue stats; %w", err)
	}

	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), stats)
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatStats(stats))
	return nil
}

func formatStats(stats map[string]worker.QueueStats) string {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	slices.Sort(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		s := stats[name]
		rows = append(rows, []string{
			name,
			strconv.Itoa(s.WindowMinutes) + "m",
			strconv.FormatInt(s.Completed, 10),
			strconv.FormatInt(s.Failed, 10),
			strconv.FormatInt(s.Retried, 10),
			strconv.FormatInt(s.Reclaimed, 10),
			fmt.Sprintf("%.1f/min", s.Throughput),
			fmt.Sprintf("%.0fms", s.AvgLatencyMs),
			fmt.Sprintf("%.1f%%", s.SuccessRate*100),
			strconv.FormatInt(s.Backlog, 10),
		})
	}
	return cmdutil.Table([]string{"Queue", "Window", "Done", "Failed", "Retried", "Reclaimed", "Throughput", "Latency", "Success", "Backlog"}, rows, nil)
}
