// Package subcommands provides the queue subcommands.
package subcommands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/daemon"
	"github.com/leefowlercu/mailroom/internal/jobs"
	"github.com/leefowlercu/mailroom/internal/tui/styles"
)

// formatOverview renders pool state and per-queue counters.
func formatOverview(ov *daemon.Overview) string {
	header := fmt.Sprintf("Daemon: %s  Workers: %s  Uptime: %s",
		styles.Status(string(ov.State)).Render(string(ov.State)),
		styles.Status(string(ov.Pool.State)).Render(string(ov.Pool.State)),
		ov.Uptime.Truncate(time.Second))
	if ov.Pool.StoreDegraded {
		header += "  " + styles.ErrorText.Render("store unavailable")
	}

	rows := make([][]string, 0, len(ov.Pool.Queues))
	for _, q := range ov.Pool.Queues {
		c := ov.Counters[q.Name]
		name := q.Name
		if q.Critical {
			name += " *"
		}
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%d/%d", q.Live(), q.Concurrency),
			strconv.FormatInt(q.Backlog, 10),
			counter(c, jobs.StatusPending),
			counter(c, jobs.StatusProcessing),
			counter(c, jobs.StatusRetryPending),
			counter(c, jobs.StatusCompleted),
			counter(c, jobs.StatusFailed),
			counter(c, jobs.StatusCancelled),
		})
	}

	table := cmdutil.Table([]string{"Queue", "Workers", "Backlog", "Pending", "Running", "Retry", "Done", "Failed", "Cancelled"}, rows, nil)
	return header + "\n" + table + "\n" + styles.MutedText.Render("* critical queue")
}

func counter(c map[string]int64, status jobs.Status) string {
	return strconv.FormatInt(c[string(status)], 10)
}

// formatJob renders one job as labeled lines.
func formatJob(j *jobs.Job) string {
	lines := []string{
		fmt.Sprintf("ID:        %s", j.ID),
		fmt.Sprintf("Queue:     %s", j.Queue),
		fmt.Sprintf("Kind:      %s", j.Kind),
		fmt.Sprintf("Status:    %s", styles.Status(string(j.Status)).Render(string(j.Status))),
		fmt.Sprintf("Attempts:  %d/%d", j.Attempts, j.MaxAttempts),
		fmt.Sprintf("Progress:  %s", formatProgress(j.Progress)),
		fmt.Sprintf("Created:   %s", j.CreatedAt.Format(time.RFC3339)),
	}
	if j.WorkerID != "" {
		lines = append(lines, fmt.Sprintf("Worker:    %s", j.WorkerID))
	}
	if j.StartedAt != nil {
		lines = append(lines, fmt.Sprintf("Started:   %s", j.StartedAt.Format(time.RFC3339)))
	}
	if j.FinishedAt != nil {
		lines = append(lines, fmt.Sprintf("Finished:  %s", j.FinishedAt.Format(time.RFC3339)))
	}
	if j.Status.IsClaimable() {
		lines = append(lines, fmt.Sprintf("Next run:  %s", j.NextRunAt.Format(time.RFC3339)))
	}
	if j.CancelRequested {
		lines = append(lines, "Cancel:    "+styles.WarningText.Render("requested"))
	}
	if j.LastError != "" {
		lines = append(lines, "Error:     "+styles.ErrorText.Render(j.LastError))
	}

	return strings.Join(lines, "\n")
}

func formatProgress(p jobs.Progress) string {
	if p == (jobs.Progress{}) {
		return "-"
	}
	return fmt.Sprintf("%d processed, %d valid, %d invalid, %d duplicate, %d errors",
		p.Processed, p.Valid, p.Invalid, p.Duplicate, p.Errors)
}

// runtimeErrors marks every error after argument validation as a runtime
// error, so usage is not printed.
func runtimeErrors(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	return nil
}
