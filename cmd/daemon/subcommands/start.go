package subcommands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/config"
	"github.com/leefowlercu/mailroom/internal/daemon"
)

// StartCmd starts the daemon in foreground mode.
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in foreground mode",
	Long: "Start the daemon in foreground mode.\n\n" +
		"The daemon will run in the foreground, writing logs to the configured log file " +
		"and exposing health check endpoints. Use standard backgrounding methods like " +
		"'&', 'nohup', or a systemd unit with Type=notify to run the daemon in the " +
		"background. SIGHUP reloads the configuration; SIGINT and SIGTERM shut down gracefully.",
	Example: `  # Start daemon in foreground
  mailroom daemon start

  # Start daemon in background
  mailroom daemon start &

  # Start daemon with nohup
  nohup mailroom daemon start &`,
	PreRunE: validateStart,
	RunE:    runStart,
}

func validateStart(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	logs := cmdutil.LogManager()

	// Log rules read from the same records the daemon writes.
	tap := alerts.NewLogTap(slog.LevelInfo, cfg.Alerts.LogRetention, 0)
	if err := cmdutil.UpgradeLogging(cfg, tap); err != nil {
		logs.Logger().Warn("failed to attach log tap; log alert rules will not fire", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.SetupSignalHandler()
	defer config.StopSignalHandler()

	d := daemon.New(cfg,
		daemon.WithDaemonLogger(logs.Logger()),
		daemon.WithLogManager(logs),
		daemon.WithDaemonLogTap(tap),
	)

	slog.Info("starting daemon",
		"http_bind", cfg.Daemon.HTTPBind,
		"http_port", cfg.Daemon.HTTPPort,
		"pid_file", config.ExpandPath(cfg.Daemon.PIDFile),
		"store", cfg.Store.Driver,
	)

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("daemon error; %w", err)
	}

	return nil
}
