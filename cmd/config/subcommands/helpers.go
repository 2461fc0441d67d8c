// Package subcommands provides the config subcommands.
package subcommands

import (
	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/config"
)

// configPath returns the file the running command loaded, or the default
// location when it ran on defaults.
func configPath() string {
	if path := config.ConfigFilePath(); path != "" {
		return path
	}
	return config.DefaultConfigPath()
}

func runtimeErrors(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}
