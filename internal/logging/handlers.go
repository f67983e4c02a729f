package logging

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rflink/bridge/pkg/core"
)

// Fanout delivers each record to every member handler enabled for its
// level. A failing member does not stop delivery to the others.
type Fanout []slog.Handler

// NewFanout drops nil handlers.
func NewFanout(handlers ...slog.Handler) Fanout {
	f := make(Fanout, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			f = append(f, h)
		}
	}
	return f
}

func (f Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle returns the joined errors of the members that failed.
func (f Fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f Fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f Fanout) each(fn func(slog.Handler) slog.Handler) Fanout {
	out := make(Fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}

// ContextProvider returns attributes sampled at log time.
type ContextProvider func() []slog.Attr

type enriched struct {
	next    slog.Handler
	provide ContextProvider
}

// Enrich appends provide's attributes to every record handled by next.
// The provider survives With and WithGroup.
func Enrich(next slog.Handler, provide ContextProvider) slog.Handler {
	if provide == nil {
		return next
	}
	return &enriched{next: next, provide: provide}
}

func (h *enriched) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *enriched) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.provide()...)
	return h.next.Handle(ctx, r)
}

func (h *enriched) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &enriched{next: h.next.WithAttrs(attrs), provide: h.provide}
}

func (h *enriched) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &enriched{next: h.next.WithGroup(name), provide: h.provide}
}

// StatisticsContext reports bridge counters on every record.
func StatisticsContext(snapshot func() core.Statistics) ContextProvider {
	return func() []slog.Attr {
		s := snapshot()
		return []slog.Attr{
			slog.Uint64("requests", s.RequestCount),
			slog.Uint64("errors", s.ErrorCount),
			slog.Float64("frequency", s.Frequency),
		}
	}
}
