package observe

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/meetscribe"

// Span attribute keys shared by session-scoped spans and log records.
const (
	AttrSessionID = "session_id"
	AttrOrgID     = "org_id"
)

// Tracer returns the package-level [trace.Tracer] from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSessionSpan starts a span tagged with the session and organization
// ids. The returned logger carries the same ids plus the trace and span ids.
// The caller must end the span, usually through [EndSpan].
func StartSessionSpan(ctx context.Context, name string, sessionID, orgID uuid.UUID) (context.Context, trace.Span, *slog.Logger) {
	ctx, span := Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String(AttrSessionID, sessionID.String()),
		attribute.String(AttrOrgID, orgID.String()),
	))
	return ctx, span, SessionLogger(ctx, sessionID, orgID)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID is the trace id of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id from ctx
// attached when a span is active.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// SessionLogger is [Logger] with the session and organization ids attached.
func SessionLogger(ctx context.Context, sessionID, orgID uuid.UUID) *slog.Logger {
	return Logger(ctx).With(
		slog.String(AttrSessionID, sessionID.String()),
		slog.String(AttrOrgID, orgID.String()),
	)
}
