package subcommands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
)

// JobCmd shows one job.
var JobCmd = &cobra.Command{
	Use:   "job <queue> <id>",
	Short: "Show one job",
	Long: "Show one job: status, attempts, progress counters and the last error.",
	Example: `  # Inspect a job
  mailroom queue job email 6f1c2b9e-3a0d-4c55-9b7e-1f2a3b4c5d6e`,
	Args:    cobra.ExactArgs(2),
	PreRunE: runtimeErrors,
	RunE:    runJob,
}

func init() {
	cmdutil.AddJSONFlag(JobCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	job, err := client.Job(cmd.Context(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to fetch job; %w", err)
	}

	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), job)
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatJob(job))
	return nil
}
