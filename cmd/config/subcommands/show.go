package subcommands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/config"
)

var showRaw bool

// ShowCmd displays the current configuration.
var ShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the current configuration",
	Long: "Display the current configuration.\n\n" +
		"Shows the effective mailroom configuration with defaults and " +
		"MAILROOM_* environment overrides applied. Use --raw to show only the " +
		"contents of the config file.",
	Example: `  # Show effective configuration
  mailroom config show

  # Show only explicitly set values
  mailroom config show --raw`,
	PreRunE: runtimeErrors,
	RunE:    runShow,
}

func init() {
	ShowCmd.Flags().BoolVar(&showRaw, "raw", false, "Show only explicitly configured values (no defaults)")
}

func runShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := configPath()

	if showRaw {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			fmt.Fprintln(out, "# No configuration file found")
			fmt.Fprintf(out, "# Default location: %s\n", path)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read config file; %w", err)
		}
		fmt.Fprintf(out, "# Configuration file: %s\n", path)
		fmt.Fprintln(out, string(data))
		return nil
	}

	data, err := config.Marshal(config.Get())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "# Effective configuration (with defaults)")
	if file := config.ConfigFilePath(); file != "" {
		fmt.Fprintf(out, "# Config file: %s\n", file)
	} else {
		fmt.Fprintln(out, "# Config file: none")
	}
	fmt.Fprintln(out, string(data))
	return nil
}
