// Package subcommands provides the metrics subcommands.
package subcommands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/daemon"
	"github.com/leefowlercu/mailroom/internal/daemonclient"
	"github.com/leefowlercu/mailroom/internal/metrics"
)

var pointsHours int

// GetCmd prints raw points.
var GetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show the raw points of a metric",
	Long: "Show the raw points of a metric recorded in the last --hours hours, oldest first.",
	Example: `  mailroom metrics get queue.email.backlog --hours 2`,
	Args:    cobra.ExactArgs(1),
	PreRunE: validatePoints,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPoints(cmd, args[0], (*daemonclient.Client).Metric)
	},
}

// SeriesCmd prints hourly averages.
var SeriesCmd = &cobra.Command{
	Use:   "series <name>",
	Short: "Show a metric averaged per hour",
	Long: "Show a metric averaged into hourly buckets over the last --hours hours. " +
		"Hours without points are omitted.",
	Example: `  mailroom metrics series queue.email.completed --hours 24`,
	Args:    cobra.ExactArgs(1),
	PreRunE: validatePoints,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPoints(cmd, args[0], (*daemonclient.Client).Series)
	},
}

func init() {
	for _, c := range []*cobra.Command{GetCmd, SeriesCmd} {
		c.Flags().IntVar(&pointsHours, "hours", 24, "Look-back window in hours")
		cmdutil.AddJSONFlag(c)
	}
}

func validatePoints(cmd *cobra.Command, args []string) error {
	if pointsHours <= 0 {
		return fmt.Errorf("--hours must be positive")
	}

	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runPoints(cmd *cobra.Command, name string, fetch func(*daemonclient.Client, context.Context, string, int) (*daemon.MetricResponse, error)) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	res, err := fetch(client, cmd.Context(), name, pointsHours)
	if err != nil {
		return fmt.Errorf("failed to fetch metric; %w", err)
	}

	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), res)
	}
	if len(res.Points) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No points for %s in the last %dh\n", res.Name, res.Hours)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatPoints(res.Points))
	return nil
}

func formatPoints(points []metrics.Point) string {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{
			p.Timestamp.Local().Format(time.DateTime),
			strconv.FormatFloat(p.Value, 'f', -1, 64),
		})
	}
	return cmdutil.Table([]string{"Time", "Value"}, rows, nil)
}
