package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
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

	return m, reader, exp
}

// ringsockMux mirrors the routes the server registers.
func ringsockMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"host":"synth"}`))
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# EOF\n"))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, _ *http.Request) {
		conn, rw, err := http.NewResponseController(w).Hijack()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()
		_, _ = rw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
		_ = rw.Flush()
	})
	return mux
}

func serve(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func durationPoints(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(collect(t, reader), "ringsock.http.request.duration")
	if met == nil {
		return nil
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("ringsock.http.request.duration is not a histogram")
	}
	return hist.DataPoints
}

func attrValue(set attribute.Set, key string) (attribute.Value, bool) {
	return set.Value(attribute.Key(key))
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	m, _, exp := testSetup(t)
	h := Middleware(m)(ringsockMux())

	rec := serve(h, "GET", "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "GET /stats" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "GET /stats")
	}
	got := map[string]attribute.Value{}
	for _, a := range spans[0].Attributes {
		got[string(a.Key)] = a.Value
	}
	if got["http.route"].AsString() != "GET /stats" {
		t.Errorf("http.route = %q", got["http.route"].AsString())
	}
	if got["http.response.status_code"].AsInt64() != 200 {
		t.Errorf("http.response.status_code = %d", got["http.response.status_code"].AsInt64())
	}
	if got["url.path"].AsString() != "/stats" {
		t.Errorf("url.path = %q", got["url.path"].AsString())
	}
}

func TestMiddleware_UnmatchedPathSharesOneSeries(t *testing.T) {
	m, reader, exp := testSetup(t)
	h := Middleware(m)(ringsockMux())

	for _, p := range []string{"/wp-login.php", "/.env", "/admin"} {
		if rec := serve(h, "GET", p, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", p, rec.Code)
		}
	}

	for _, s := range exp.GetSpans() {
		if s.Name != unmatchedRoute {
			t.Errorf("span name = %q, want %q", s.Name, unmatchedRoute)
		}
	}
	dps := durationPoints(t, reader)
	if len(dps) != 1 {
		t.Fatalf("data points = %d, want 1 shared series", len(dps))
	}
	if dps[0].Count != 3 {
		t.Errorf("count = %d, want 3", dps[0].Count)
	}
	if v, _ := attrValue(dps[0].Attributes, "http.route"); v.AsString() != unmatchedRoute {
		t.Errorf("http.route = %q, want %q", v.AsString(), unmatchedRoute)
	}
}

func TestMiddleware_DurationAttributes(t *testing.T) {
	m, reader, _ := testSetup(t)
	h := Middleware(m)(ringsockMux())

	serve(h, "GET", "/stats?pretty=1", nil)

	dps := durationPoints(t, reader)
	if len(dps) != 1 {
		t.Fatalf("data points = %d, want 1", len(dps))
	}
	want := map[string]string{
		"http.request.method": "GET",
		"http.route":          "GET /stats",
	}
	for k, v := range want {
		got, ok := attrValue(dps[0].Attributes, k)
		if !ok || got.AsString() != v {
			t.Errorf("%s = %q, want %q", k, got.AsString(), v)
		}
	}
	if code, _ := attrValue(dps[0].Attributes, "http.response.status_code"); code.AsInt64() != 200 {
		t.Errorf("http.response.status_code = %d, want 200", code.AsInt64())
	}
	if _, ok := attrValue(dps[0].Attributes, "url.path"); ok {
		t.Error("raw path leaked into the histogram")
	}
}

func TestMiddleware_WebSocketSessionNotTimed(t *testing.T) {
	m, reader, exp := testSetup(t)
	h := Middleware(m)(ringsockMux())

	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
		close(done)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	resp.Body.Close()
	<-done

	if dps := durationPoints(t, reader); len(dps) != 0 {
		t.Errorf("websocket request recorded %d duration points, want 0", len(dps))
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" && a.Value.AsInt64() != http.StatusSwitchingProtocols {
			t.Errorf("status = %d, want 101", a.Value.AsInt64())
		}
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)
	h := Middleware(m)(ringsockMux())

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec := serve(h, "GET", "/healthz", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}

	rec = serve(h, "GET", "/healthz", nil)
	if got := rec.Header().Get("X-Correlation-ID"); len(got) != 32 || got == traceID {
		t.Errorf("fresh X-Correlation-ID = %q, want a new 32-char trace ID", got)
	}
}

func TestMiddleware_ScrapesLogAtDebug(t *testing.T) {
	m, _, _ := testSetup(t)
	h := Middleware(m)(ringsockMux())

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	serve(h, "GET", "/metrics", nil)
	serve(h, "GET", "/healthz", nil)
	if buf.Len() != 0 {
		t.Errorf("scrapes logged at info: %s", buf.String())
	}

	serve(h, "GET", "/stats", nil)
	if !strings.Contains(buf.String(), `route="GET /stats"`) {
		t.Errorf("stats request not logged, got: %s", buf.String())
	}
}

func TestMiddleware_HijackUnsupported(t *testing.T) {
	m, _, _ := testSetup(t)
	h := Middleware(m)(ringsockMux())

	// httptest.ResponseRecorder cannot be hijacked; the /ws handler must
	// get an error instead of a panic.
	rec := serve(h, "GET", "/ws", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
