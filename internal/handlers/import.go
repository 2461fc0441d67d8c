package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/leefowlercu/mailroom/internal/jobs"
)

const (
	defaultImportBatchSize = 1000
	defaultMirrorTTL       = 24 * time.Hour
	emailColumn            = "email"
)

// ImportHandler streams a contacts CSV into a list.
type ImportHandler struct {
	sink      ContactSink
	mirror    ImportMirror
	batchSize int
	mirrorTTL time.Duration
	logger    *slog.Logger
}

// NewImportHandler creates an import handler. mirror may be nil.
func NewImportHandler(sink ContactSink, mirror ImportMirror, batchSize int, mirrorTTL time.Duration, logger *slog.Logger) *ImportHandler {
	if batchSize <= 0 {
		batchSize = defaultImportBatchSize
	}
	if mirrorTTL <= 0 {
		mirrorTTL = defaultMirrorTTL
	}
	return &ImportHandler{
		sink:      sink,
		mirror:    mirror,
		batchSize: batchSize,
		mirrorTTL: mirrorTTL,
		logger:    loggerOrDefault(logger).With("handler", string(jobs.KindImport)),
	}
}

func (h *ImportHandler) Kind() jobs.Kind { return jobs.KindImport }

func (h *ImportHandler) Handle(ctx context.Context, job *jobs.Job, payload jobs.Payload, r jobs.Reporter) (prog jobs.Progress, err error) {
	p, ok := payload.(*jobs.ImportPayload)
	if !ok {
		return prog, jobs.Permanentf("unexpected payload %T for %s", payload, h.Kind())
	}

	defer func() {
		h.mirrorFinal(ctx, job, prog, err)
	}()

	f, err := os.Open(p.SourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return prog, jobs.Permanentf("import source %s missing", p.SourcePath)
		}
		return prog, jobs.Transient(fmt.Errorf("failed to open import source; %w", err))
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return prog, nil
		}
		return prog, jobs.Permanentf("failed to read import header; %v", err)
	}
	header = normalizeHeader(header)

	emailIdx := slices.Index(header, emailColumn)
	if emailIdx < 0 {
		return prog, jobs.Permanentf("import header has no %q column", emailColumn)
	}
	dedupeField := strings.ToLower(strings.TrimSpace(p.DedupeField))
	if dedupeField == "" {
		dedupeField = emailColumn
	}
	dedupeIdx := slices.Index(header, dedupeField)
	if dedupeIdx < 0 {
		return prog, jobs.Permanentf("import header has no dedupe column %q", dedupeField)
	}

	seen := make(map[string]struct{})
	batch := make([]Contact, 0, h.batchSize)

	flush := func() error {
		if len(batch) > 0 {
			if err := h.sink.UpsertContacts(ctx, p.WorkspaceID, p.ListID, batch); err != nil {
				if jobs.IsPermanent(err) {
					return err
				}
				return jobs.Transient(fmt.Errorf("failed to write contacts; %w", err))
			}
			batch = batch[:0]
		}
		h.mirrorProgress(ctx, job, prog)
		if err := r.Report(ctx, prog); err != nil {
			return err
		}
		return r.Checkpoint(ctx)
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				prog.Processed++
				prog.Errors++
				continue
			}
			return prog, jobs.Transient(fmt.Errorf("failed to read import source; %w", err))
		}
		prog.Processed++

		if emailIdx >= len(record) || dedupeIdx >= len(record) {
			prog.Invalid++
			continue
		}
		addr, ok := jobs.NormalizeAddress(record[emailIdx])
		if !ok {
			prog.Invalid++
			continue
		}

		key := addr
		if dedupeIdx != emailIdx {
			key = strings.ToLower(strings.TrimSpace(record[dedupeIdx]))
		}
		if _, dup := seen[key]; dup {
			prog.Duplicate++
			continue
		}
		seen[key] = struct{}{}
		prog.Valid++

		fields := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) && i != emailIdx {
				fields[col] = record[i]
			}
		}
		batch = append(batch, Contact{Email: addr, Fields: fields})

		if len(batch) >= h.batchSize {
			if err := flush(); err != nil {
				return prog, err
			}
		}
	}

	if err := flush(); err != nil {
		return prog, err
	}

	h.logger.Info("import finished",
		"job_id", job.ID,
		"list_id", p.ListID,
		"processed", prog.Processed,
		"valid", prog.Valid,
		"invalid", prog.Invalid,
		"duplicate", prog.Duplicate,
		"errors", prog.Errors,
	)
	return prog, nil
}

func (h *ImportHandler) mirrorProgress(ctx context.Context, job *jobs.Job, prog jobs.Progress) {
	h.mirrorStatus(ctx, job, jobs.StatusProcessing, prog)
}

func (h *ImportHandler) mirrorFinal(ctx context.Context, job *jobs.Job, prog jobs.Progress, err error) {
	status := jobs.StatusCompleted
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrCancelled):
		status = jobs.StatusCancelled
	case jobs.IsPermanent(err) || !job.AttemptsRemaining():
		status = jobs.StatusFailed
	default:
		status = jobs.StatusRetryPending
	}
	h.mirrorStatus(context.WithoutCancel(ctx), job, status, prog)
}

func (h *ImportHandler) mirrorStatus(ctx context.Context, job *jobs.Job, status jobs.Status, prog jobs.Progress) {
	if h.mirror == nil {
		return
	}
	if err := h.mirror.MirrorImportProgress(ctx, job.ID, status, prog, h.mirrorTTL); err != nil {
		h.logger.Warn("failed to mirror import progress", "job_id", job.ID, "error", err)
	}
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, col := range header {
		out[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
	}
	return out
}
