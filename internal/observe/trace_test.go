package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs routes the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestStartSessionSpan(t *testing.T) {
	exp := useTestTracer(t)
	buf := captureLogs(t)

	sid, org := uuid.New(), uuid.New()
	ctx, span, log := StartSessionSpan(context.Background(), "pipeline.process", sid, org)
	if CorrelationID(ctx) == "" {
		t.Error("StartSessionSpan did not create a span with a trace ID")
	}
	log.Info("assembled")
	EndSpan(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	got := map[string]string{}
	for _, kv := range spans[0].Attributes {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	if got[AttrSessionID] != sid.String() || got[AttrOrgID] != org.String() {
		t.Errorf("span attributes = %v, want session and org ids", got)
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("span status = error, want unset")
	}

	logged := buf.String()
	for _, want := range []string{"session_id=" + sid.String(), "org_id=" + org.String(), "trace_id=", "span_id="} {
		if !strings.Contains(logged, want) {
			t.Errorf("log output missing %q, got: %s", want, logged)
		}
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	exp := useTestTracer(t)

	_, span, _ := StartSessionSpan(context.Background(), "transcription.finalize", uuid.New(), uuid.New())
	EndSpan(span, errors.New("write transcript: disk full"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want error", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "write transcript: disk full" {
		t.Errorf("status description = %q", spans[0].Status.Description)
	}
	if len(spans[0].Events) == 0 {
		t.Error("error event not recorded")
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	useTestTracer(t)
	ids := make(map[string]struct{}, 50)
	for range 50 {
		ctx, span := Tracer().Start(context.Background(), "unique")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 {
			t.Fatalf("correlation ID length = %d, want 32", len(cid))
		}
		if _, dup := ids[cid]; dup {
			t.Fatalf("duplicate correlation ID: %s", cid)
		}
		ids[cid] = struct{}{}
	}
}

func TestLogger_NoSpan(t *testing.T) {
	buf := captureLogs(t)

	SessionLogger(context.Background(), uuid.New(), uuid.New()).Info("queued")

	logged := buf.String()
	if strings.Contains(logged, "trace_id") {
		t.Errorf("log output should not contain trace_id, got: %s", logged)
	}
	if !strings.Contains(logged, "session_id=") {
		t.Errorf("log output missing session_id, got: %s", logged)
	}
}
