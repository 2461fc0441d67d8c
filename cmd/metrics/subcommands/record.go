package subcommands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
)

var recordTags []string

// RecordCmd records one point.
var RecordCmd = &cobra.Command{
	Use:   "record <name> <value>",
	Short: "Record one metric point",
	Long: "Record one metric point with the daemon's clock. Tags are key=value pairs.",
	Example: `  mailroom metrics record synthetic.send.latency_ms 182 --tag region=eu`,
	Args:    cobra.ExactArgs(2),
	PreRunE: validateRecord,
	RunE:    runRecord,
}

func init() {
	RecordCmd.Flags().StringArrayVar(&recordTags, "tag", nil, "Tag as key=value (repeatable)")
}

func validateRecord(cmd *cobra.Command, args []string) error {
	if _, err := strconv.ParseFloat(args[1], 64); err != nil {
		return fmt.Errorf("invalid value %q", args[1])
	}
	if _, err := parseTags(recordTags); err != nil {
		return err
	}

	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runRecord(cmd *cobra.Command, args []string) error {
	value, _ := strconv.ParseFloat(args[1], 64)
	tags, _ := parseTags(recordTags)

	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	if err := client.RecordMetric(cmd.Context(), args[0], value, tags); err != nil {
		return fmt.Errorf("failed to record metric; %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s = %s\n", args[0], args[1])
	return nil
}

func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag %q; want key=value", p)
		}
		tags[k] = v
	}
	return tags, nil
}
