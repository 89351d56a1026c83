package app

import (
	"context"
	"log/slog"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/seqci-proxy/internal/config"
	"github.com/stacklok/seqci-proxy/internal/logging"
)

// traceHandler wraps an slog.Handler to automatically inject OpenTelemetry
// trace_id and span_id into every log record, enabling log-trace correlation.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// SetupLogging installs the process-wide slog handler, configured from
// SEQCI_LOG_LEVEL and SEQCI_LOG_FORMAT. debug forces the debug level.
func SetupLogging(debug bool) {
	opts := logging.FromEnv(config.EnvPrefix)
	if debug {
		opts = append(opts, logging.WithLevel(slog.LevelDebug))
	}

	handler := &traceHandler{Handler: logging.NewHandler(opts...)}
	slog.SetDefault(slog.New(handler))

	// Route the OpenTelemetry SDK's internal logging through the same handler
	otel.SetLogger(logr.FromSlogHandler(handler))
}
