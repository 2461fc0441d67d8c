package subcommands

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/config"
)

// EditCmd opens the configuration file in an editor.
var EditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit the configuration file in your default editor",
	Long: "Edit the configuration file in your default editor.\n\n" +
		"Opens the mailroom configuration file in the editor specified by " +
		"the EDITOR or VISUAL environment variable, falling back to vim, vi, " +
		"nano or emacs. A missing file is first written with the defaults. " +
		"The result is validated when the editor exits; a running daemon picks " +
		"up log level and alert rule changes on SIGHUP.",
	Example: `  # Edit configuration with default editor
  mailroom config edit

  # Edit with a specific editor
  EDITOR=code mailroom config edit`,
	PreRunE: runtimeErrors,
	RunE:    runEdit,
}

func runEdit(cmd *cobra.Command, args []string) error {
	path := configPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		defaults := config.NewDefaultConfig()
		if err := config.Write(&defaults, path); err != nil {
			return err
		}
	}

	editor := findEditor()
	if editor == "" {
		return fmt.Errorf("no editor found; set EDITOR environment variable")
	}

	editorCmd := exec.Command(editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor exited with error; %w", err)
	}

	if _, err := config.LoadFromPath(path); err != nil {
		return fmt.Errorf("saved configuration is invalid; %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration saved. Send SIGHUP to the daemon or restart it to apply changes.")
	return nil
}

func findEditor() string {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor
	}
	if editor := os.Getenv("VISUAL"); editor != "" {
		return editor
	}

	for _, editor := range []string{"vim", "vi", "nano", "emacs"} {
		if _, err := exec.LookPath(editor); err == nil {
			return editor
		}
	}
	return ""
}
