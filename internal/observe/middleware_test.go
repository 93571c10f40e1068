package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// serveMux runs one request through Middleware in front of a mux holding the
// service's routes. Handlers answer with the status in the "code" query.
func serveMux(t *testing.T, m *Metrics, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("code") {
		case "500":
			w.WriteHeader(http.StatusInternalServerError)
		case "404":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}
	mux.HandleFunc("GET /healthz", reply)
	mux.HandleFunc("GET /v1/events", reply)
	mux.HandleFunc("POST /v1/sessions/{id}/finalize", reply)

	rec := httptest.NewRecorder()
	Middleware(m)(mux).ServeHTTP(rec, req)
	return rec
}

func lastSpan(t *testing.T, exp *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("middleware did not create a span")
	}
	return spans[len(spans)-1]
}

func TestMiddleware_Spans(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		wantName   string
		wantStatus int64
		wantError  bool
	}{
		{"probe", "GET", "/healthz", "HTTP GET /healthz", 200, false},
		{"route pattern", "POST", "/v1/sessions/5f0c8e4e-2b0a-4c57-9d55-0f7a8e1b2c3d/finalize", "HTTP POST /v1/sessions/{id}/finalize", 200, false},
		{"client error", "GET", "/v1/events?code=404", "HTTP GET /v1/events", 404, false},
		{"server error", "GET", "/v1/events?code=500", "HTTP GET /v1/events", 500, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMetrics(t)
			exp := useTestTracer(t)

			rec := serveMux(t, m, httptest.NewRequest(tt.method, tt.target, nil))
			if int64(rec.Code) != tt.wantStatus {
				t.Errorf("response status = %d, want %d", rec.Code, tt.wantStatus)
			}

			span := lastSpan(t, exp)
			if span.Name != tt.wantName {
				t.Errorf("span name = %q, want %q", span.Name, tt.wantName)
			}
			var status int64
			for _, a := range span.Attributes {
				if string(a.Key) == "http.response.status_code" {
					status = a.Value.AsInt64()
				}
			}
			if status != tt.wantStatus {
				t.Errorf("http.response.status_code = %d, want %d", status, tt.wantStatus)
			}
			if got := span.Status.Code == codes.Error; got != tt.wantError {
				t.Errorf("span error = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{"generated", "", ""},
		{"propagated", "00-" + traceID + "-00f067aa0ba902b7-01", traceID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMetrics(t)
			useTestTracer(t)

			var captured string
			handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = CorrelationID(r.Context())
			}))
			req := httptest.NewRequest("GET", "/v1/events", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if len(captured) != 32 {
				t.Fatalf("correlation ID = %q, want 32 hex chars", captured)
			}
			if tt.want != "" && captured != tt.want {
				t.Errorf("correlation ID = %q, want %q", captured, tt.want)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != captured {
				t.Errorf("response X-Correlation-ID = %q, want %q", got, captured)
			}
		})
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	m, reader := newTestMetrics(t)
	useTestTracer(t)

	for _, id := range []string{"a", "b", "c"} {
		serveMux(t, m, httptest.NewRequest("POST", "/v1/sessions/"+id+"/finalize", nil))
	}
	serveMux(t, m, httptest.NewRequest("GET", "/unrouted", nil))

	met := findMetric(collect(t, reader), "meetscribe.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		counts[path.AsString()] = dp.Count
	}
	if got := counts["POST /v1/sessions/{id}/finalize"]; got != 3 {
		t.Errorf("finalize samples = %d, want 3 under one route label", got)
	}
	if got := counts["/unrouted"]; got != 1 {
		t.Errorf("unrouted samples = %d, want 1 labelled by raw path", got)
	}
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	inner := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: inner, statusCode: http.StatusOK}
	if rec.Unwrap() != inner {
		t.Error("Unwrap did not return the wrapped writer")
	}
}
