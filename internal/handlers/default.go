package handlers

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Deps carries the collaborators and tuning used by DefaultRegistry.
type Deps struct {
	Mailer   Mailer
	Contacts ContactSink
	Runner   AutomationRunner
	Enqueuer Enqueuer
	Mirror   ImportMirror

	// SendRate is the number of bulk-send batches per second; zero means unlimited.
	SendRate  float64
	SendBurst int
	// SendBatchSize is used when a payload does not set one.
	SendBatchSize int

	ImportBatchSize int
	ImportMirrorTTL time.Duration

	Logger *slog.Logger
}

// DefaultRegistry builds a registry with every built-in handler. Missing
// collaborators fall back to logging implementations.
func DefaultRegistry(d Deps) *Registry {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.Mailer == nil {
		d.Mailer = &LogMailer{Logger: logger}
	}
	if d.Contacts == nil {
		d.Contacts = &LogContactSink{Logger: logger}
	}
	if d.Runner == nil {
		d.Runner = &LogAutomationRunner{Logger: logger}
	}

	limit := rate.Inf
	if d.SendRate > 0 {
		limit = rate.Limit(d.SendRate)
	}
	burst := max(d.SendBurst, 1)

	return NewRegistry(
		NewBulkSendHandler(d.Mailer, rate.NewLimiter(limit, burst), d.SendBatchSize, logger),
		NewImportHandler(d.Contacts, d.Mirror, d.ImportBatchSize, d.ImportMirrorTTL, logger),
		NewChunkMergeHandler(d.Enqueuer, logger),
		NewAutomationRunHandler(d.Runner, logger),
	)
}

// LogMailer accepts every recipient and logs the batch. Used when no
// provider is configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m *LogMailer) SendBatch(ctx context.Context, msg BatchMessage) (SendResult, error) {
	m.Logger.Info("send batch",
		"workspace_id", msg.WorkspaceID,
		"campaign_id", msg.CampaignID,
		"recipients", len(msg.Recipients),
	)
	return SendResult{Accepted: len(msg.Recipients)}, nil
}

// LogContactSink logs imported contact batches.
type LogContactSink struct {
	Logger *slog.Logger
}

func (s *LogContactSink) UpsertContacts(ctx context.Context, workspaceID, listID string, contacts []Contact) error {
	s.Logger.Info("upsert contacts", "workspace_id", workspaceID, "list_id", listID, "count", len(contacts))
	return nil
}

// LogAutomationRunner logs each automation step.
type LogAutomationRunner struct {
	Logger *slog.Logger
}

func (r *LogAutomationRunner) RunStep(ctx context.Context, workspaceID, automationID, step, contactID string) error {
	r.Logger.Debug("automation step",
		"workspace_id", workspaceID,
		"automation_id", automationID,
		"step", step,
		"contact_id", contactID,
	)
	return nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
