package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/cmd/alerts"
	"github.com/leefowlercu/mailroom/cmd/config"
	"github.com/leefowlercu/mailroom/cmd/daemon"
	"github.com/leefowlercu/mailroom/cmd/health"
	"github.com/leefowlercu/mailroom/cmd/metrics"
	"github.com/leefowlercu/mailroom/cmd/queue"
	"github.com/leefowlercu/mailroom/cmd/version"
	"github.com/leefowlercu/mailroom/cmd/workers"
	"github.com/leefowlercu/mailroom/internal/cmdutil"
	internalconfig "github.com/leefowlercu/mailroom/internal/config"
)

var configFile string

var mailroomCmd = &cobra.Command{
	Use:   "mailroom",
	Short: "Job queues and workers for email campaign delivery",
	Long: "Mailroom runs the background queues behind email campaigns: bulk sends, contact imports and automation runs.\n\n" +
		"A daemon hosts the worker pool, records queue metrics, evaluates alert rules and exposes health and " +
		"management endpoints over HTTP. The remaining commands talk to a running daemon.",
	PersistentPreRunE: runInitialize,
}

func init() {
	slog.SetDefault(cmdutil.LogManager().Logger())

	mailroomCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: search MAILROOM_CONFIG_DIR, ~/.config/mailroom, .)")

	mailroomCmd.AddCommand(daemon.DaemonCmd)
	mailroomCmd.AddCommand(queue.QueueCmd)
	mailroomCmd.AddCommand(workers.WorkersCmd)
	mailroomCmd.AddCommand(metrics.MetricsCmd)
	mailroomCmd.AddCommand(alerts.AlertsCmd)
	mailroomCmd.AddCommand(health.HealthCmd)
	mailroomCmd.AddCommand(config.ConfigCmd)
	mailroomCmd.AddCommand(version.VersionCmd)
}

func runInitialize(cmd *cobra.Command, args []string) error {
	logger := cmdutil.LogManager().Logger()

	var err error
	if configFile != "" {
		path, resolveErr := cmdutil.ResolvePath(configFile)
		if resolveErr != nil {
			return fmt.Errorf("failed to resolve config path; %w", resolveErr)
		}
		err = internalconfig.InitFromPath(path)
	} else {
		err = internalconfig.Init()
	}
	if err != nil {
		return err
	}

	if err := cmdutil.UpgradeLogging(internalconfig.Get()); err != nil {
		logger.Warn("failed to enable file logging, continuing with stderr only", "error", err)
	}

	return nil
}

func Execute() error {
	mailroomCmd.SilenceErrors = true
	mailroomCmd.SilenceUsage = true

	defer func() { _ = cmdutil.LogManager().Close() }()

	err := mailroomCmd.Execute()

	if err != nil {
		cmd, _, _ := mailroomCmd.Find(os.Args[1:])
		if cmd == nil {
			cmd = mailroomCmd
		}

		fmt.Printf("Error: %v\n", err)
		if !cmd.SilenceUsage {
			fmt.Printf("\n")
			cmd.SetOut(os.Stdout)
			_ = cmd.Usage()
		}

		return err
	}

	return nil
}
