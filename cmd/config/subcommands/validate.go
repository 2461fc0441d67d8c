package subcommands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/config"
)

// ValidateCmd validates the configuration file.
var ValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate the configuration file",
	Long: "Validate the configuration file.\n\n" +
		"Checks the configuration file for syntax errors and validates that all " +
		"settings have valid values: queue definitions, worker timings, alert " +
		"rules and webhook URLs. Returns exit code 0 if valid, 1 if invalid.",
	Example: `  # Validate the active configuration
  mailroom config validate

  # Validate a candidate file before deploying it
  mailroom config validate ./config.yaml`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: runtimeErrors,
	RunE:    runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := configPath()
	if len(args) == 1 {
		path = config.ExpandPath(args[0])
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(out, "No configuration file found at %s\n", path)
		fmt.Fprintln(out, "Using default configuration values.")
		return nil
	}

	if _, err := config.LoadFromPath(path); err != nil {
		fmt.Fprintln(out, "Configuration validation failed:")
		fmt.Fprintf(out, "  %v\n", err)
		return fmt.Errorf("configuration is invalid")
	}

	fmt.Fprintf(out, "Configuration is valid: %s\n", path)
	return nil
}
