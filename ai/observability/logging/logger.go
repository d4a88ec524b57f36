// Package logging installs the process-wide slog handler and carries
// per-run log fields on the context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
)

// Fields are structured attributes automatically added to every log record
// emitted with a context that carries them.
type Fields struct {
	RunID      string
	IssueIndex *int
	Component  string // e.g. "meetflow.gateway"
}

type fieldsKey struct{}

// WithFields enriches ctx with log fields. Non-empty values in f replace
// the ones already present.
func WithFields(ctx context.Context, f Fields) context.Context {
	merged := FieldsFrom(ctx)
	if f.RunID != "" {
		merged.RunID = f.RunID
	}
	if f.IssueIndex != nil {
		idx := *f.IssueIndex
		merged.IssueIndex = &idx
	}
	if f.Component != "" {
		merged.Component = f.Component
	}
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// WithIssue is a shortcut for tagging a context with the issue being processed.
func WithIssue(ctx context.Context, index int) context.Context {
	return WithFields(ctx, Fields{IssueIndex: &index})
}

// FieldsFrom returns the log fields carried by ctx.
func FieldsFrom(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	if f, ok := ctx.Value(fieldsKey{}).(Fields); ok {
		return f
	}
	return Fields{}
}

// Setup installs the default logger. Dev mode logs text at debug level;
// prod logs JSON at info level.
func Setup(dev bool) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, dev)))
}

// NewHandler builds the context-aware handler used by Setup.
func NewHandler(w io.Writer, dev bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if dev {
		opts.Level = slog.LevelDebug
		return &ContextHandler{Handler: slog.NewTextHandler(w, opts)}
	}
	return &ContextHandler{Handler: slog.NewJSONHandler(w, opts)}
}

// ContextHandler adds trace/span IDs and Fields from the context to each record.
type ContextHandler struct {
	slog.Handler
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	f := FieldsFrom(ctx)
	if f.RunID != "" {
		r.AddAttrs(slog.String("run_id", f.RunID))
	}
	if f.IssueIndex != nil {
		r.AddAttrs(slog.Int("issue_index", *f.IssueIndex))
	}
	if f.Component != "" {
		r.AddAttrs(slog.String("component", f.Component))
	}

	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Truncate shortens s to at most maxLen bytes, appending "..." when cut.
// The cut never splits a UTF-8 sequence.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
