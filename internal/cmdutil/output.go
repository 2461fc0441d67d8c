package cmdutil

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/tui/styles"
)

// AddJSONFlag registers --json on cmd.
func AddJSONFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "Print the result as JSON")
}

// WantJSON reports whether --json was given.
func WantJSON(cmd *cobra.Command) bool {
	v, err := cmd.Flags().GetBool("json")
	return err == nil && v
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output; %w", err)
	}
	return nil
}

// Table renders rows under headers with a rounded border. A nil style
// func leaves cells unstyled.
func Table(headers []string, rows [][]string, style func(row, col int) lipgloss.Style) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.MutedText).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return styles.Title.Padding(0, 1)
			case style != nil:
				return style(row, col).Padding(0, 1)
			default:
				return lipgloss.NewStyle().Padding(0, 1)
			}
		}).
		String()
}
