// Package subcommands provides the alerts subcommands.
package subcommands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/tui/styles"
)

// RulesCmd lists alert rules.
var RulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List alert rules with trigger counts",
	Long: "List alert rules with their condition, severity and how often they have fired.",
	Example: `  mailroom alerts rules`,
	PreRunE: runtimeErrors,
	RunE:    runRules,
}

func init() {
	cmdutil.AddJSONFlag(RulesCmd)
}

// runtimeErrors marks every error after argument validation as a runtime
// error, so usage is not printed.
func runtimeErrors(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	return nil
}

func runRules(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	rules, err := client.Rules(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch rules; %w", err)
	}

	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), rules)
	}
	if len(rules) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No alert rules configured")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatRules(rules))
	return nil
}

func formatRules(rules []alerts.Rule) string {
	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		enabled := "yes"
		if !r.Enabled {
			enabled = "no"
		}
		last := "-"
		if r.LastTriggeredAt != nil {
			last = r.LastTriggeredAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{
			r.ID,
			string(r.Type),
			fmt.Sprintf("%s %s %s", r.Target, r.Operator, strconv.FormatFloat(r.Threshold, 'f', -1, 64)),
			strconv.Itoa(r.Window()) + "m",
			string(r.Severity),
			enabled,
			strconv.FormatInt(r.TriggerCount, 10),
			last,
		})
	}
	return cmdutil.Table([]string{"ID", "Type", "Condition", "Window", "Severity", "Enabled", "Fired", "Last"}, rows,
		func(row, col int) lipgloss.Style {
			if col == 4 {
				return styles.Severity(rows[row][4])
			}
			return lipgloss.NewStyle()
		})
}
