package handlers

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/leefowlercu/mailroom/internal/jobs"
)

const defaultSendBatchSize = 500

// BulkSendHandler sends a campaign to its recipients in throttled batches.
type BulkSendHandler struct {
	mailer       Mailer
	limiter      *rate.Limiter
	defaultBatch int
	logger       *slog.Logger
}

// NewBulkSendHandler creates a bulk-send handler. The limiter is waited on
// once per batch.
func NewBulkSendHandler(mailer Mailer, limiter *rate.Limiter, batchSize int, logger *slog.Logger) *BulkSendHandler {
	if batchSize <= 0 {
		batchSize = defaultSendBatchSize
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &BulkSendHandler{
		mailer:       mailer,
		limiter:      limiter,
		defaultBatch: batchSize,
		logger:       loggerOrDefault(logger).With("handler", string(jobs.KindBulkSend)),
	}
}

func (h *BulkSendHandler) Kind() jobs.Kind { return jobs.KindBulkSend }

func (h *BulkSendHandler) Handle(ctx context.Context, job *jobs.Job, payload jobs.Payload, r jobs.Reporter) (jobs.Progress, error) {
	p, ok := payload.(*jobs.BulkSendPayload)
	if !ok {
		return jobs.Progress{}, jobs.Permanentf("unexpected payload %T for %s", payload, h.Kind())
	}

	var prog jobs.Progress
	seen := make(map[string]bool, len(p.Recipients))
	recipients := make([]string, 0, len(p.Recipients))
	for _, raw := range p.Recipients {
		addr, ok := jobs.NormalizeAddress(raw)
		switch {
		case !ok:
			prog.Processed++
			prog.Invalid++
		case seen[addr]:
			prog.Processed++
			prog.Duplicate++
		default:
			seen[addr] = true
			recipients = append(recipients, addr)
		}
	}

	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = h.defaultBatch
	}

	for start := 0; start < len(recipients); start += batchSize {
		if err := r.Checkpoint(ctx); err != nil {
			return prog, err
		}
		if err := h.limiter.Wait(ctx); err != nil {
			return prog, err
		}

		batch := recipients[start:min(start+batchSize, len(recipients))]
		res, err := h.mailer.SendBatch(ctx, BatchMessage{
			WorkspaceID: p.WorkspaceID,
			CampaignID:  p.CampaignID,
			TemplateID:  p.TemplateID,
			Recipients:  batch,
		})
		if err != nil {
			if jobs.IsPermanent(err) || errors.Is(err, context.Canceled) {
				return prog, err
			}
			return prog, jobs.Transient(err)
		}

		prog.Processed += int64(len(batch))
		prog.Valid += int64(res.Accepted)
		prog.Invalid += int64(len(res.Rejected))
		if err := r.Report(ctx, prog); err != nil {
			return prog, err
		}
	}

	h.logger.Info("campaign sent",
		"job_id", job.ID,
		"campaign_id", p.CampaignID,
		"valid", prog.Valid,
		"invalid", prog.Invalid,
		"duplicate", prog.Duplicate,
	)
	return prog, nil
}
