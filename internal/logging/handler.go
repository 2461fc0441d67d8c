package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// SwappableHandler wraps a slog.Handler that can be atomically replaced at
// runtime. Loggers derived with With or WithGroup keep following the swaps
// of the root they were derived from.
type SwappableHandler struct {
	root *atomic.Pointer[slog.Handler]
	// ops are re-applied to the root's current handler on every record.
	ops []func(slog.Handler) slog.Handler
}

// NewSwappableHandler creates a handler with an initial handler.
func NewSwappableHandler(initial slog.Handler) *SwappableHandler {
	root := &atomic.Pointer[slog.Handler]{}
	root.Store(&initial)
	return &SwappableHandler{root: root}
}

// Swap atomically replaces the underlying handler for this handler and
// every handler derived from it.
func (sh *SwappableHandler) Swap(newHandler slog.Handler) {
	sh.root.Store(&newHandler)
}

func (sh *SwappableHandler) current() slog.Handler {
	h := *sh.root.Load()
	for _, op := range sh.ops {
		h = op(h)
	}
	return h
}

func (sh *SwappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*sh.root.Load()).Enabled(ctx, level)
}

func (sh *SwappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return sh.current().Handle(ctx, r)
}

func (sh *SwappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return sh
	}
	return sh.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (sh *SwappableHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return sh
	}
	return sh.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (sh *SwappableHandler) derive(op func(slog.Handler) slog.Handler) *SwappableHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(sh.ops), len(sh.ops)+1)
	copy(ops, sh.ops)
	return &SwappableHandler{root: sh.root, ops: append(ops, op)}
}
