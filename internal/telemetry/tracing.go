package telemetry

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TracingEnabled читает TRACING_ENABLED (true/false, по умолчанию false).
func TracingEnabled() bool {
	enabled, _ := strconv.ParseBool(os.Getenv("TRACING_ENABLED"))
	return enabled
}

// NewTracerProvider создаёт TracerProvider, который пишет завершённые
// спаны в лог пачками. Провайдер нужно закрыть через Shutdown.
func NewTracerProvider(logger *slog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(NewLogExporter(logger)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
}

// LogExporter — sdktrace.SpanExporter, пишущий спаны в slog на уровне DEBUG.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter создаёт экспортёр.
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger.With("component", "tracing")}
}

// ExportSpans реализует sdktrace.SpanExporter.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		attrs := []any{
			"span", span.Name(),
			"trace_id", span.SpanContext().TraceID().String(),
			"span_id", span.SpanContext().SpanID().String(),
			"duration", span.EndTime().Sub(span.StartTime()),
			"status", span.Status().Code.String(),
		}
		if parent := span.Parent(); parent.IsValid() {
			attrs = append(attrs, "parent_id", parent.SpanID().String())
		}
		for _, kv := range span.Attributes() {
			attrs = append(attrs, string(kv.Key), kv.Value.Emit())
		}
		e.logger.DebugContext(ctx, "span finished", attrs...)
	}
	return nil
}

// Shutdown реализует sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}
