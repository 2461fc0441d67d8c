package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/leefowlercu/mailroom/internal/jobs"
)

// AutomationRunHandler runs every step of an automation for each contact.
// A permanent failure for one contact is counted and the run moves on;
// any other failure aborts the attempt so it can be retried.
type AutomationRunHandler struct {
	runner AutomationRunner
	logger *slog.Logger
}

// NewAutomationRunHandler creates an automation-run handler.
func NewAutomationRunHandler(runner AutomationRunner, logger *slog.Logger) *AutomationRunHandler {
	return &AutomationRunHandler{
		runner: runner,
		logger: loggerOrDefault(logger).With("handler", string(jobs.KindAutomationRun)),
	}
}

func (h *AutomationRunHandler) Kind() jobs.Kind { return jobs.KindAutomationRun }

func (h *AutomationRunHandler) Handle(ctx context.Context, job *jobs.Job, payload jobs.Payload, r jobs.Reporter) (jobs.Progress, error) {
	p, ok := payload.(*jobs.AutomationRunPayload)
	if !ok {
		return jobs.Progress{}, jobs.Permanentf("unexpected payload %T for %s", payload, h.Kind())
	}

	var prog jobs.Progress
	for _, contactID := range p.ContactIDs {
		if err := r.Checkpoint(ctx); err != nil {
			return prog, err
		}

		failed := false
		for _, step := range p.Steps {
			err := h.runner.RunStep(ctx, p.WorkspaceID, p.AutomationID, step, contactID)
			if err == nil {
				continue
			}
			if !jobs.IsPermanent(err) {
				if errors.Is(err, context.Canceled) {
					return prog, err
				}
				return prog, jobs.Transient(err)
			}
			h.logger.Warn("automation step failed",
				"job_id", job.ID,
				"contact_id", contactID,
				"step", step,
				"error", err,
			)
			failed = true
			break
		}

		prog.Processed++
		if failed {
			prog.Errors++
		} else {
			prog.Valid++
		}
		if err := r.Report(ctx, prog); err != nil {
			return prog, err
		}
	}

	return prog, nil
}
