package logging

import (
	"context"
	"log/slog"
)

// Correlation identifies where in a run a log record was produced.
type Correlation struct {
	RunID     string
	NodeID    string
	Operation string
}

func (c Correlation) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 3)
	for _, kv := range [...]struct{ key, val string }{
		{"run_id", c.RunID},
		{"node_id", c.NodeID},
		{"operation", c.Operation},
	} {
		if kv.val != "" {
			attrs = append(attrs, slog.String(kv.key, kv.val))
		}
	}
	return attrs
}

type correlationKey struct{}

// FromContext returns the correlation carried by ctx, zero if none.
func FromContext(ctx context.Context) Correlation {
	c, _ := ctx.Value(correlationKey{}).(Correlation)
	return c
}

func withCorrelation(ctx context.Context, edit func(*Correlation)) context.Context {
	c := FromContext(ctx)
	edit(&c)
	return context.WithValue(ctx, correlationKey{}, c)
}

// WithRunID tags ctx with the run being executed.
func WithRunID(ctx context.Context, id string) context.Context {
	return withCorrelation(ctx, func(c *Correlation) { c.RunID = id })
}

// WithNodeID tags ctx with the node being executed.
func WithNodeID(ctx context.Context, id string) context.Context {
	return withCorrelation(ctx, func(c *Correlation) { c.NodeID = id })
}

// WithOperation tags ctx with the operation a node invokes.
func WithOperation(ctx context.Context, name string) context.Context {
	return withCorrelation(ctx, func(c *Correlation) { c.Operation = name })
}

// CorrelationHandler adds the Correlation of the record's context to
// every record, so engine code can log with InfoContext and get the run
// and node ids for free.
type CorrelationHandler struct {
	next slog.Handler
}

func NewCorrelationHandler(next slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{next: next}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(FromContext(ctx).attrs()...)
	return h.next.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewCorrelationHandler(h.next.WithAttrs(attrs))
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return NewCorrelationHandler(h.next.WithGroup(name))
}
