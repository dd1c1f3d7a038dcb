package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the ringsock tracer.
const tracerName = "github.com/MrWong99/ringsock"

// Tracer returns the package-level [trace.Tracer]. It uses the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartClientSpan starts a server-kind span covering one live-stream client
// session. The span carries the transport, session ID, payload encoding and
// remote address.
func StartClientSpan(ctx context.Context, transport, sessionID, encoding, remote string) (context.Context, trace.Span) {
	return StartSpan(ctx, "stream "+transport,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("ringsock.transport", transport),
			attribute.String("ringsock.session_id", sessionID),
			attribute.String("ringsock.encoding", encoding),
			attribute.String("client.address", remote),
		),
	)
}

// EndClientSpan records the session totals on span and ends it. A non-nil
// err marks the session failed.
func EndClientSpan(span trace.Span, bytesSent int64, chunksDropped uint64, err error) {
	span.SetAttributes(
		attribute.Int64("ringsock.bytes_sent", bytesSent),
		attribute.Int64("ringsock.chunks_dropped", int64(chunksDropped)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
