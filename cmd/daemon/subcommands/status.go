package subcommands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/daemon"
	"github.com/leefowlercu/mailroom/internal/health"
	"github.com/leefowlercu/mailroom/internal/tui/styles"
)

// DaemonStatus holds the status information about the daemon.
type DaemonStatus struct {
	Running      bool                  `json:"running"`
	PID          int                   `json:"pid,omitempty"`
	StalePIDFile bool                  `json:"stale_pid_file,omitempty"`
	Ready        *daemon.ReadyResponse `json:"ready,omitempty"`
	ReadyError   string                `json:"ready_error,omitempty"`
}

// StatusCmd shows the daemon status.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and component health",
	Long: "Show daemon status and component health.\n\n" +
		"Displays whether the daemon is running, its PID, its lifecycle state and " +
		"the health of every component when the daemon answers on its HTTP port.",
	Example: `  # Check daemon status
  mailroom daemon status

  # Machine-readable status
  mailroom daemon status --json`,
	PreRunE: validateStatus,
	RunE:    runStatus,
}

func init() {
	cmdutil.AddJSONFlag(StatusCmd)
	cmdutil.AddAddrFlag(StatusCmd)
}

func validateStatus(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}

	status, err := getDaemonStatus(pidFile(), func() (*daemon.ReadyResponse, error) {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		return client.Ready(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to get daemon status; %w", err)
	}

	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), status)
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatStatus(status))
	return nil
}

// getDaemonStatus reads the PID file and, when the process is alive, asks
// the daemon for its readiness report.
func getDaemonStatus(pf *daemon.PIDFile, ready func() (*daemon.ReadyResponse, error)) (*DaemonStatus, error) {
	status := &DaemonStatus{}

	pid, err := pf.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return status, nil
		}
		// Unreadable content counts as stale.
		status.StalePIDFile = true
		return status, nil
	}
	status.PID = pid

	if _, err := pf.Running(); err != nil {
		if errors.Is(err, daemon.ErrDaemonNotRunning) {
			status.StalePIDFile = true
			return status, nil
		}
		return nil, err
	}
	status.Running = true

	res, err := ready()
	if err != nil {
		status.ReadyError = err.Error()
		return status, nil
	}
	status.Ready = res
	return status, nil
}

// formatStatus formats the daemon status for display.
func formatStatus(status *DaemonStatus) string {
	var sb strings.Builder

	if !status.Running {
		sb.WriteString("Daemon: " + styles.MutedText.Render("not running"))
		if status.StalePIDFile {
			sb.WriteString(fmt.Sprintf(" (stale PID file with PID %d)", status.PID))
		}
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("Daemon: %s (PID %d)", styles.SuccessText.Render("running"), status.PID))

	if status.ReadyError != "" {
		sb.WriteString("\nHealth: " + styles.ErrorText.Render("unreachable") + " (" + status.ReadyError + ")")
		return sb.String()
	}

	r := status.Ready
	if r == nil {
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("\nState: %s", styles.Status(string(r.State)).Render(string(r.State))))
	sb.WriteString(fmt.Sprintf("\nHealth: %s", styles.Status(string(r.Status)).Render(string(r.Status))))
	sb.WriteString(fmt.Sprintf("\nUptime: %s", r.Uptime.Truncate(time.Second)))

	if len(r.Components) > 0 {
		comps := slices.Clone(r.Components)
		slices.SortFunc(comps, func(a, b health.Component) int { return strings.Compare(a.Name, b.Name) })
		sb.WriteString("\nComponents:")
		for _, c := range comps {
			sb.WriteString(fmt.Sprintf("\n  - %s: %s", c.Name, colorLabel(c.Color)))
			if c.Message != "" {
				sb.WriteString(fmt.Sprintf(" (%s)", c.Message))
			}
		}
	}

	if len(r.Jobs) > 0 {
		names := make([]string, 0, len(r.Jobs))
		for name := range r.Jobs {
			names = append(names, name)
		}
		slices.Sort(names)
		sb.WriteString("\nJobs:")
		for _, name := range names {
			job := r.Jobs[name]
			sb.WriteString(fmt.Sprintf("\n  - %s: %s", name, styles.Status(string(job.Status)).Render(string(job.Status))))
			if !job.FinishedAt.IsZero() {
				sb.WriteString(fmt.Sprintf(" at %s", job.FinishedAt.Format(time.RFC3339)))
			}
		}
	}

	return sb.String()
}

func colorLabel(c health.Color) string {
	switch c {
	case health.Green:
		return styles.SuccessText.Render(string(c))
	case health.Amber:
		return styles.WarningText.Render(string(c))
	default:
		return styles.ErrorText.Render(string(c))
	}
}
