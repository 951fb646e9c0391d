package main

import (
	"context"
	"io"
	"log/slog"
)

// newLogger sends info and debug records to out, warnings and errors to errOut.
func newLogger(out, errOut io.Writer, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	return slog.New(&splitHandler{
		info: slog.NewTextHandler(out, opts),
		warn: slog.NewTextHandler(errOut, opts),
	})
}

type splitHandler struct {
	info slog.Handler
	warn slog.Handler
}

var _ slog.Handler = (*splitHandler)(nil)

func (h *splitHandler) pick(level slog.Level) slog.Handler {
	if level >= slog.LevelWarn {
		return h.warn
	}
	return h.info
}

func (h *splitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.pick(level).Enabled(ctx, level)
}

func (h *splitHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.pick(r.Level).Handle(ctx, r)
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{info: h.info.WithAttrs(attrs), warn: h.warn.WithAttrs(attrs)}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{info: h.info.WithGroup(name), warn: h.warn.WithGroup(name)}
}
