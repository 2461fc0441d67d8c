// Package subcommands provides the workers subcommands (start, stop).
package subcommands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/daemon"
	"github.com/leefowlercu/mailroom/internal/daemonclient"
)

// StartCmd starts the worker pool.
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the worker pool",
	Long: "Start the worker pool.\n\n" +
		"Spawns the configured number of workers for every queue. Starting a " +
		"running pool does nothing.",
	Example: `  mailroom workers start`,
	PreRunE: validateWorkers,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkers(cmd, "start", (*daemonclient.Client).StartWorkers)
	},
}

// StopCmd drains and stops the worker pool.
var StopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Drain and stop the worker pool",
	Long: "Drain and stop the worker pool.\n\n" +
		"Workers finish their current job; jobs still running at the shutdown " +
		"timeout are released for retry.",
	Example: `  mailroom workers stop`,
	PreRunE: validateWorkers,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkers(cmd, "stop", (*daemonclient.Client).StopWorkers)
	},
}

func validateWorkers(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runWorkers(cmd *cobra.Command, action string, call func(*daemonclient.Client, context.Context) (*daemon.WorkersResponse, error)) error {
	client, err := cmdutil.NewClient(cmd, daemonclient.WorkersTimeout)
	if err != nil {
		return err
	}
	res, err := call(client, cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to %s workers; %w", action, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Worker pool %s\n", res.State)
	return nil
}
