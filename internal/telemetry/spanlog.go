package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanLogger is a span processor that writes every finished span to a
// logger at debug level. It turns `bootz --verbose` into a timing trace of
// builds, module loads and hot-update cycles without an exporter.
type SpanLogger struct {
	logger *slog.Logger
}

// NewSpanLogger creates a SpanLogger.
func NewSpanLogger(logger *slog.Logger) *SpanLogger {
	return &SpanLogger{logger: logger}
}

func (l *SpanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (l *SpanLogger) OnEnd(s sdktrace.ReadOnlySpan) {
	if !s.SpanContext().IsValid() {
		return
	}
	attrs := make([]any, 0, 8+2*len(s.Attributes()))
	attrs = append(attrs,
		"span", s.Name(),
		"trace_id", s.SpanContext().TraceID().String(),
		"duration", s.EndTime().Sub(s.StartTime()),
	)
	if st := s.Status(); st.Code == codes.Error {
		attrs = append(attrs, "error", st.Description)
	}
	for _, kv := range s.Attributes() {
		attrs = append(attrs, string(kv.Key), kv.Value.Emit())
	}
	l.logger.Debug("span finished", attrs...)
}

func (l *SpanLogger) ForceFlush(context.Context) error { return nil }

func (l *SpanLogger) Shutdown(context.Context) error { return nil }

// InstallSpanLogger registers a global tracer provider that logs spans to
// logger. The returned function shuts the provider down.
func InstallSpanLogger(logger *slog.Logger) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewSpanLogger(logger)))
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
