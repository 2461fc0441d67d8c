package subcommands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/jobs"
	"github.com/leefowlercu/mailroom/internal/tui/styles"
)

var listLimit int

// ListCmd lists recent jobs of a queue.
var ListCmd = &cobra.Command{
	Use:   "list <queue>",
	Short: "List recent jobs of a queue",
	Long: "List recent jobs of a queue, newest first.\n\n" +
		"Terminal jobs stay listed until the retention sweep prunes them.",
	Example: `  # Last 20 email jobs
  mailroom queue list email --limit 20`,
	Args:    cobra.ExactArgs(1),
	PreRunE: runtimeErrors,
	RunE:    runList,
}

func init() {
	ListCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of jobs (default from daemon)")
	cmdutil.AddJSONFlag(ListCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	list, err := client.ListJobs(cmd.Context(), args[0], listLimit)
	if err != nil {
		return fmt.Errorf("failed to list jobs; %w", err)
	}

	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), list)
	}
	if len(list) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No jobs on %s\n", args[0])
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatJobList(list))
	return nil
}

func formatJobList(list []*jobs.Job) string {
	rows := make([][]string, 0, len(list))
	for _, j := range list {
		rows = append(rows, []string{
			j.ID,
			string(j.Kind),
			string(j.Status),
			fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
			j.CreatedAt.Format(time.DateTime),
			strconv.FormatInt(j.Progress.Processed, 10),
		})
	}
	return cmdutil.Table([]string{"ID", "Kind", "Status", "Attempts", "Created", "Processed"}, rows,
		func(row, col int) lipgloss.Style {
			if col == 2 {
				return styles.Status(rows[row][2])
			}
			return lipgloss.NewStyle()
		})
}
