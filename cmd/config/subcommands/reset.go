package subcommands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var resetConfirm bool

// ResetCmd resets the configuration to defaults.
var ResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration to default values",
	Long: "Reset configuration to default values.\n\n" +
		"This command removes the configuration file, reverting all settings " +
		"to their default values. A backup of the current configuration is " +
		"created before deletion. Use --confirm to skip the confirmation prompt.",
	Example: `  # Reset configuration (prompts for confirmation)
  mailroom config reset

  # Reset configuration without confirmation
  mailroom config reset --confirm`,
	PreRunE: runtimeErrors,
	RunE:    runReset,
}

func init() {
	ResetCmd.Flags().BoolVar(&resetConfirm, "confirm", false, "Skip confirmation prompt")
}

func runReset(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := configPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(out, "No configuration file found. Using defaults.")
		return nil
	}

	if !resetConfirm && !confirm(cmd.InOrStdin(), out, path) {
		fmt.Fprintln(out, "Reset cancelled.")
		return nil
	}

	backup, err := resetFile(path, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Backup created: %s\n", backup)
	fmt.Fprintln(out, "Configuration reset to defaults. Restart the daemon to apply changes.")
	return nil
}

func confirm(in io.Reader, out io.Writer, path string) bool {
	fmt.Fprintf(out, "This will reset configuration to defaults and remove: %s\n", path)
	fmt.Fprint(out, "Are you sure? [y/N]: ")

	line, _ := bufio.NewReader(in).ReadString('\n')
	answer := strings.TrimSpace(line)
	return answer == "y" || answer == "Y"
}

// resetFile copies path to a timestamped backup and removes it.
func resetFile(path string, now time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read config file; %w", err)
	}
	backup := fmt.Sprintf("%s.backup.%d", path, now.Unix())
	if err := os.WriteFile(backup, data, 0600); err != nil {
		return "", fmt.Errorf("failed to create backup; %w", err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("failed to remove config file; %w", err)
	}
	return backup, nil
}
