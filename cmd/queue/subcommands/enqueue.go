package subcommands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/jobs"
	"github.com/leefowlercu/mailroom/internal/queue"
)

var (
	enqueueKind        string
	enqueuePayload     string
	enqueuePayloadFile string
	enqueueMaxAttempts int
)

// EnqueueCmd submits a job.
var EnqueueCmd = &cobra.Command{
	Use:   "enqueue <queue>",
	Short: "Submit a job to a queue",
	Long: "Submit a job to a queue.\n\n" +
		"The payload is a JSON document whose shape depends on the job kind. It is " +
		"validated by the daemon before the job is stored. Use --payload-file - to " +
		"read the payload from standard input.",
	Example: `  # Send a campaign
  mailroom queue enqueue email --kind bulk-send \
    --payload '{"workspace_id":"ws1","campaign_id":"c42","template_id":"t7","recipients":["a@example.com"]}'

  # Start an import from a file
  mailroom queue enqueue imports --kind import --payload-file import.json`,
	Args:    cobra.ExactArgs(1),
	PreRunE: validateEnqueue,
	RunE:    runEnqueue,
}

func init() {
	EnqueueCmd.Flags().StringVar(&enqueueKind, "kind", string(jobs.KindBulkSend), "Job kind (bulk-send, import, automation-run, chunk-merge)")
	EnqueueCmd.Flags().StringVar(&enqueuePayload, "payload", "", "Job payload as inline JSON")
	EnqueueCmd.Flags().StringVar(&enqueuePayloadFile, "payload-file", "", "Read the job payload from a file, or - for stdin")
	EnqueueCmd.Flags().IntVar(&enqueueMaxAttempts, "max-attempts", 0, "Override the queue's max attempts")
	cmdutil.AddJSONFlag(EnqueueCmd)
}

func validateEnqueue(cmd *cobra.Command, args []string) error {
	if enqueuePayload == "" && enqueuePayloadFile == "" {
		return errors.New("one of --payload or --payload-file is required")
	}
	if enqueuePayload != "" && enqueuePayloadFile != "" {
		return errors.New("--payload and --payload-file are mutually exclusive")
	}
	if enqueueMaxAttempts < 0 {
		return errors.New("--max-attempts must not be negative")
	}

	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	payload, err := readPayload(cmd.InOrStdin(), enqueuePayload, enqueuePayloadFile)
	if err != nil {
		return err
	}

	client, err := cmdutil.NewClient(cmd, 0)
	if err != nil {
		return err
	}
	res, err := client.Enqueue(cmd.Context(), queue.EnqueueRequest{
		Queue:       args[0],
		Kind:        jobs.Kind(enqueueKind),
		Payload:     payload,
		MaxAttempts: enqueueMaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job; %w", err)
	}

	if cmdutil.WantJSON(cmd) {
		return cmdutil.PrintJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job %s on %s\n", res.ID, res.Queue)
	return nil
}

// readPayload returns inline JSON or the content of path, where "-" means
// stdin. The result must be valid JSON.
func readPayload(stdin io.Reader, inline, path string) (json.RawMessage, error) {
	var data []byte
	switch {
	case inline != "":
		data = []byte(inline)
	case path == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload from stdin; %w", err)
		}
		data = b
	default:
		resolved, err := cmdutil.ResolvePath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve payload path; %w", err)
		}
		b, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file; %w", err)
		}
		data = b
	}

	if !json.Valid(data) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}
