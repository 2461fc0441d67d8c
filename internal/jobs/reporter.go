package jobs

import "context"

// Reporter is handed to handlers while they run. Report publishes progress
// counters; Checkpoint returns ErrCancelled once cancellation was requested
// and must be called between units of work.
type Reporter interface {
	Report(ctx context.Context, p Progress) error
	Checkpoint(ctx context.Context) error
}

// NopReporter discards progress and never cancels.
type NopReporter struct{}

func (NopReporter) Report(context.Context, Progress) error { return nil }

func (NopReporter) Checkpoint(ctx context.Context) error { return ctx.Err() }
