// Package handlers executes job payloads for each job kind.
package handlers

import (
	"context"
	"time"

	"github.com/leefowlercu/mailroom/internal/jobs"
)

// Handler executes one kind of job.
type Handler interface {
	// Kind returns the job kind this handler executes.
	Kind() jobs.Kind

	// Handle runs the job. Implementations call r.Checkpoint between units of
	// work and return jobs.ErrCancelled from it unchanged. The returned
	// progress is stored with the outcome even when err is non-nil.
	Handle(ctx context.Context, job *jobs.Job, payload jobs.Payload, r jobs.Reporter) (jobs.Progress, error)
}

// BatchMessage is one batch of a campaign send.
type BatchMessage struct {
	WorkspaceID string
	CampaignID  string
	TemplateID  string
	Recipients  []string
}

// SendResult is the provider's answer for one batch.
type SendResult struct {
	Accepted int
	// Rejected lists recipients the provider refused.
	Rejected []string
}

// Mailer delivers campaign batches through an email provider.
type Mailer interface {
	SendBatch(ctx context.Context, msg BatchMessage) (SendResult, error)
}

// Contact is one imported row.
type Contact struct {
	Email  string
	Fields map[string]string
}

// ContactSink persists imported contacts.
type ContactSink interface {
	UpsertContacts(ctx context.Context, workspaceID, listID string, contacts []Contact) error
}

// AutomationRunner executes one automation step for one contact.
type AutomationRunner interface {
	RunStep(ctx context.Context, workspaceID, automationID, step, contactID string) error
}

// Enqueuer schedules follow-up jobs.
type Enqueuer interface {
	EnqueuePayload(ctx context.Context, payload jobs.Payload) (string, error)
}

// ImportMirror records import progress where the upload UI can poll it.
type ImportMirror interface {
	MirrorImportProgress(ctx context.Context, id string, status jobs.Status, p jobs.Progress, ttl time.Duration) error
}
