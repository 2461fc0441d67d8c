package subcommands

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/daemon"
)

// StopCmd stops a running daemon.
var StopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon gracefully",
	Long: "Stop the running daemon gracefully.\n\n" +
		"Sends SIGTERM to the running daemon process and waits for it to shut down. " +
		"Workers finish or release their jobs before the daemon exits. If the daemon " +
		"does not exit within the timeout period, a warning is printed.",
	Example: `  # Stop the daemon
  mailroom daemon stop

  # Wait up to two minutes for in-flight jobs
  mailroom daemon stop --timeout 2m`,
	PreRunE: validateStop,
	RunE:    runStop,
}

var (
	stopTimeout time.Duration
)

func init() {
	StopCmd.Flags().DurationVar(&stopTimeout, "timeout", 45*time.Second,
		"Maximum time to wait for daemon to stop")
}

func validateStop(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	stopped, err := stopDaemon(pidFile(), stopTimeout)
	if err != nil {
		if errors.Is(err, daemon.ErrDaemonNotRunning) {
			fmt.Fprintln(out, "No daemon is running")
			return nil
		}
		return fmt.Errorf("failed to stop daemon; %w", err)
	}

	if !stopped {
		fmt.Fprintf(out, "Daemon did not stop within %s\n", stopTimeout)
		return nil
	}
	fmt.Fprintln(out, "Daemon stopped")
	return nil
}

// stopDaemon sends SIGTERM to the process holding the PID file and waits
// for it to exit. A stale PID file is removed and reported as not running.
func stopDaemon(pf *daemon.PIDFile, timeout time.Duration) (bool, error) {
	pid, err := pf.Running()
	if err != nil {
		if errors.Is(err, daemon.ErrDaemonNotRunning) {
			if rmErr := pf.Remove(); rmErr != nil {
				slog.Debug("failed to remove stale PID file", "error", rmErr)
			}
		}
		return false, err
	}

	slog.Debug("sending SIGTERM to daemon", "pid", pid)
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return false, fmt.Errorf("failed to send SIGTERM; %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := pf.Running(); errors.Is(err, daemon.ErrDaemonNotRunning) {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	slog.Debug("daemon did not stop within timeout", "pid", pid, "timeout", timeout)
	return false, nil
}
