package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestMiddleware wires a Middleware to a manual metric reader and an
// in-memory span exporter, so tests can inspect everything a request
// recorded.
func newTestMiddleware(t *testing.T) (func(http.Handler) http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return Middleware(m), reader, exp
}

func TestMiddlewareCorrelationID(t *testing.T) {
	mw, _, _ := newTestMiddleware(t)

	var gotCID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/session", nil))

	if len(gotCID) != 32 {
		t.Fatalf("correlation ID = %q, want a 32-char trace ID", gotCID)
	}
	if hdr := rec.Header().Get("X-Correlation-ID"); hdr != gotCID {
		t.Errorf("X-Correlation-ID = %q, want the request's trace ID %q", hdr, gotCID)
	}
}

func TestMiddlewareSpanAndStatus(t *testing.T) {
	mw, _, exp := newTestMiddleware(t)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /readyz" {
		t.Errorf("span name = %q", spans[0].Name)
	}

	var gotStatus int64
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			gotStatus = a.Value.AsInt64()
		}
	}
	if gotStatus != http.StatusServiceUnavailable {
		t.Errorf("span status attribute = %d, want %d", gotStatus, http.StatusServiceUnavailable)
	}
}

func TestMiddlewareRecordsDuration(t *testing.T) {
	mw, reader, _ := newTestMiddleware(t)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/session", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	met := findMetric(rm, "visionaid.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatalf("request duration is %T with no data points", met.Data)
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	attrs := map[string]string{}
	for _, kv := range dp.Attributes.ToSlice() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["method"] != "GET" || attrs["path"] != "/session" {
		t.Errorf("duration attributes = %v, want method=GET path=/session", attrs)
	}
}

func TestMiddlewareHonorsTraceparent(t *testing.T) {
	mw, _, _ := newTestMiddleware(t)

	const upstreamTrace = "4bf92f3577b34da6a3ce929d0e0e4736"

	var gotCID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/session", nil)
	req.Header.Set("traceparent", "00-"+upstreamTrace+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotCID != upstreamTrace {
		t.Errorf("correlation ID = %q, want the upstream trace %q", gotCID, upstreamTrace)
	}
	if hdr := rec.Header().Get("X-Correlation-ID"); hdr != upstreamTrace {
		t.Errorf("X-Correlation-ID = %q, want %q", hdr, upstreamTrace)
	}
}

// The session endpoint upgrades to a WebSocket, which needs the underlying
// connection through http.ResponseController. The instrumented writer must
// not hide it.
func TestMiddlewareKeepsResponseControllerFeatures(t *testing.T) {
	mw, _, _ := newTestMiddleware(t)

	var flushErr error
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flushErr = http.NewResponseController(w).Flush()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/session", nil))

	if flushErr != nil {
		t.Fatalf("Flush through the instrumented writer: %v", flushErr)
	}
	if !rec.Flushed {
		t.Fatal("flush did not reach the underlying writer")
	}
}
