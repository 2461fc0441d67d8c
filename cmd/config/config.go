// Package config provides the config parent command and subcommands.
package config

import (
	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/cmd/config/subcommands"
)

// ConfigCmd is the parent command for all config-related subcommands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage mailroom configuration",
	Long: "Manage mailroom configuration.\n\n" +
		"The config command allows you to view, edit, validate and reset the " +
		"mailroom configuration. Configuration is stored in a YAML file located at " +
		"~/.config/mailroom/config.yaml by default, or under MAILROOM_CONFIG_DIR.",
}

func init() {
	ConfigCmd.AddCommand(subcommands.ShowCmd)
	ConfigCmd.AddCommand(subcommands.EditCmd)
	ConfigCmd.AddCommand(subcommands.ResetCmd)
	ConfigCmd.AddCommand(subcommands.ValidateCmd)
}
