// Package version provides the version command.
package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/version"
)

// VersionCmd displays version and build information.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version and build information",
	Long: "Display version and build information.\n\n" +
		"Shows the semantic version, git commit hash, and build date " +
		"of the mailroom binary.",
	Example: `  # Display version information
  mailroom version

  # Machine-readable output
  mailroom version --json`,
	PreRunE: validateVersion,
	RunE:    runVersion,
}

func init() {
	cmdutil.AddJSONFlag(VersionCmd)
}

func validateVersion(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	return nil
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := version.Get()
	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), info)
	}
	fmt.Fprintln(cmd.OutOrStdout(), info.String())
	return nil
}
