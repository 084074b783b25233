package observe

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newSpanRecorder swaps in a TracerProvider backed by an in-memory exporter
// for the duration of the test.
func newSpanRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })
	return exp
}

func TestCorrelationIDWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID with no active span = %q, want empty", got)
	}
}

func TestStartSpanRecordsTurnSpan(t *testing.T) {
	exp := newSpanRecorder(t)

	ctx, span := StartSpan(context.Background(), "session.turn")
	cid := CorrelationID(ctx)
	span.End()

	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want a 32-char hex trace ID", cid)
	}
	for _, c := range cid {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Fatalf("correlation ID %q contains non-hex character %q", cid, c)
		}
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "session.turn" {
		t.Fatalf("recorded spans = %+v, want one span named session.turn", spans)
	}
}

func TestCorrelationIDsDiffersPerTurn(t *testing.T) {
	newSpanRecorder(t)

	seen := make(map[string]struct{}, 50)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "session.turn")
		cid := CorrelationID(ctx)
		span.End()
		if _, dup := seen[cid]; dup {
			t.Fatalf("trace ID %s repeated across turns", cid)
		}
		seen[cid] = struct{}{}
	}
}

func TestLoggerCarriesTraceIDs(t *testing.T) {
	newSpanRecorder(t)

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(slog.Default()) })

	ctx, span := StartSpan(context.Background(), "session.turn")
	defer span.End()

	Logger(ctx).Info("turn completed")

	logged := buf.String()
	if !bytes.Contains([]byte(logged), []byte("trace_id=")) {
		t.Errorf("log line missing trace_id: %s", logged)
	}
	if !bytes.Contains([]byte(logged), []byte("span_id=")) {
		t.Errorf("log line missing span_id: %s", logged)
	}
}

func TestLoggerWithoutSpanStaysPlain(t *testing.T) {
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(slog.Default()) })

	Logger(context.Background()).Info("startup")

	if bytes.Contains(buf.Bytes(), []byte("trace_id")) {
		t.Errorf("log line carries a trace_id with no active span: %s", buf.String())
	}
}
