package subcommands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/tui/styles"
)

var (
	incidentState    string
	incidentSeverity string
	incidentRule     string
	incidentLimit    int
)

// IncidentsCmd lists incidents.
var IncidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "List incidents, newest first",
	Long: "List incidents, newest first, optionally filtered by state, severity or rule.",
	Example: `  # Open incidents
  mailroom alerts incidents --state open

  # Last ten critical incidents
  mailroom alerts incidents --severity critical --limit 10`,
	PreRunE: validateIncidents,
	RunE:    runIncidents,
}

// ShowCmd shows one incident.
var ShowCmd = &cobra.Command{
	Use:     "show <id>",
	Short:   "Show one incident",
	Args:    cobra.ExactArgs(1),
	PreRunE: runtimeErrors,
	RunE:    runShow,
}

func init() {
	IncidentsCmd.Flags().StringVar(&incidentState, "state", "", "Filter by state (open, acknowledged, resolved)")
	IncidentsCmd.Flags().StringVar(&incidentSeverity, "severity", "", "Filter by severity (low, medium, high, critical)")
	IncidentsCmd.Flags().StringVar(&incidentRule, "rule", "", "Filter by rule ID")
	IncidentsCmd.Flags().IntVar(&incidentLimit, "limit", 0, "Maximum number of incidents")
	cmdutil.AddJSONFlag(IncidentsCmd)
	cmdutil.AddJSONFlag(ShowCmd)
}

func validateIncidents(cmd *cobra.Command, args []string) error {
	switch alerts.IncidentState(incidentState) {
	case "", alerts.IncidentOpen, alerts.IncidentAcknowledged, alerts.IncidentResolved:
	default:
		return fmt.Errorf("invalid --state %q", incidentState)
	}
	if incidentLimit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runIncidents(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	list, err := client.Incidents(cmd.Context(), alerts.IncidentFilter{
		State:    alerts.IncidentState(incidentState),
		Severity: alerts.Severity(incidentSeverity),
		RuleID:   incidentRule,
		Limit:    incidentLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch incidents; %w", err)
	}

	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), list)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No incidents")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatIncidents(list))
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	inc, err := client.Incident(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch incident; %w", err)
	}

	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), inc)
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatIncident(inc))
	return nil
}

func formatIncidents(list []*alerts.Incident) string {
	rows := make([][]string, 0, len(list))
	for _, inc := range list {
		rows = append(rows, []string{
			inc.ID,
			inc.RuleID,
			string(inc.Severity),
			string(inc.State),
			strconv.FormatFloat(inc.Value, 'f', -1, 64),
			inc.TriggeredAt.Local().Format(time.DateTime),
		})
	}
	return cmdutil.Table([]string{"ID", "Rule", "Severity", "State", "Value", "Triggered"}, rows,
		func(row, col int) lipgloss.Style {
			switch col {
			case 2:
				return styles.Severity(rows[row][2])
			case 3:
				return styles.Status(rows[row][3])
			}
			return lipgloss.NewStyle()
		})
}

func formatIncident(inc *alerts.Incident) string {
	lines := []string{
		fmt.Sprintf("ID:         %s", inc.ID),
		fmt.Sprintf("Rule:       %s (%s)", inc.RuleName, inc.RuleID),
		fmt.Sprintf("Severity:   %s", styles.Severity(string(inc.Severity)).Render(string(inc.Severity))),
		fmt.Sprintf("State:      %s", styles.Status(string(inc.State)).Render(string(inc.State))),
		fmt.Sprintf("Value:      %s", strconv.FormatFloat(inc.Value, 'f', -1, 64)),
		fmt.Sprintf("Triggered:  %s", inc.TriggeredAt.Local().Format(time.RFC3339)),
	}
	if inc.AcknowledgedAt != nil {
		lines = append(lines, fmt.Sprintf("Acked:      %s", inc.AcknowledgedAt.Local().Format(time.RFC3339)))
	}
	if inc.ResolvedAt != nil {
		lines = append(lines, fmt.Sprintf("Resolved:   %s (%s, after %s)",
			inc.ResolvedAt.Local().Format(time.RFC3339), inc.ResolvedBy,
			inc.ResolvedAt.Sub(inc.TriggeredAt).Truncate(time.Second)))
	}
	return strings.Join(lines, "\n")
}
