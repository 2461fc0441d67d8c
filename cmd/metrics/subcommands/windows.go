package subcommands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/metrics"
)

var (
	windowMinutes int
	windowCount   int
)

// WindowsCmd prints fixed-window aggregates.
var WindowsCmd = &cobra.Command{
	Use:   "windows <name>",
	Short: "Show a metric aggregated into fixed windows",
	Long: "Show a metric aggregated into --count consecutive windows of --window minutes, " +
		"oldest first. Empty windows are listed with zero points.",
	Example: `  # Twelve five-minute windows
  mailroom metrics windows queue.email.backlog --window 5 --count 12`,
	Args:    cobra.ExactArgs(1),
	PreRunE: validateWindows,
	RunE:    runWindows,
}

func init() {
	WindowsCmd.Flags().IntVar(&windowMinutes, "window", 5, "Window length in minutes")
	WindowsCmd.Flags().IntVar(&windowCount, "count", 12, "Number of windows")
	cmdutil.AddJSONFlag(WindowsCmd)
}

func validateWindows(cmd *cobra.Command, args []string) error {
	if windowMinutes <= 0 || windowCount <= 0 {
		return fmt.Errorf("--window and --count must be positive")
	}

	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runWindows(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	res, err := client.Windows(cmd.Context(), args[0], windowMinutes, windowCount)
	if err != nil {
		return fmt.Errorf("failed to fetch metric windows; %w", err)
	}

	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatWindows(res.Windows))
	return nil
}

func formatWindows(windows []metrics.Window) string {
	rows := make([][]string, 0, len(windows))
	for _, w := range windows {
		rows = append(rows, []string{
			w.Start.Local().Format(time.TimeOnly),
			w.End.Local().Format(time.TimeOnly),
			strconv.Itoa(w.Count),
			strconv.FormatFloat(w.Value, 'f', 2, 64),
		})
	}
	return cmdutil.Table([]string{"From", "To", "Points", "Value"}, rows, nil)
}
