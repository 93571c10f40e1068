// Package observe ties together the service's metrics, traces and logs.
//
// Instruments are created through the OpenTelemetry metrics API and exported
// to Prometheus by [InitProvider]. Components fall back to [DefaultMetrics],
// which binds to the global meter provider; tests build their own [Metrics]
// with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/meetscribe"

// Stage names recorded in the "stage" attribute of StageDuration.
const (
	StageAssemble  = "assemble"
	StageRecognize = "recognize"
	StageFinalize  = "finalize"
	StageIndex     = "index"
	StageSummarize = "summarize"
	StageSecondary = "secondary"
)

// stageBuckets run from a single embedding call up to recognition of a
// multi-hour recording.
var stageBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// Metrics holds the instruments recorded by the pipeline and HTTP surface.
// Prefer the Record helpers, which attach the expected attribute set.
type Metrics struct {
	StageDuration       metric.Float64Histogram   // stage, status
	ProviderRequests    metric.Int64Counter       // provider, kind, status
	ProviderErrors      metric.Int64Counter       // provider, kind
	Claims              metric.Int64Counter       // kind (claim|reclaim), result (won|lost)
	SessionsFinished    metric.Int64Counter       // status
	ChunksIndexed       metric.Int64Counter       // no attributes
	InFlightSessions    metric.Int64UpDownCounter // no attributes
	HTTPRequestDuration metric.Float64Histogram   // method, path (route pattern)
	BreakerTransitions  metric.Int64Counter       // breaker, state
}

// NewMetrics creates every instrument on mp. All creation errors are
// returned together.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		check(err)
		return c
	}
	seconds := func(name, desc string, buckets ...float64) metric.Float64Histogram {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
		if len(buckets) > 0 {
			opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
		}
		h, err := meter.Float64Histogram(name, opts...)
		check(err)
		return h
	}

	m := &Metrics{
		StageDuration:       seconds("meetscribe.stage.duration", "Latency of a session processing stage.", stageBuckets...),
		ProviderRequests:    counter("meetscribe.provider.requests", "Provider API requests by provider, kind and status."),
		ProviderErrors:      counter("meetscribe.provider.errors", "Provider errors by provider and kind."),
		Claims:              counter("meetscribe.claims", "Session claim attempts by kind and result."),
		SessionsFinished:    counter("meetscribe.sessions.finished", "Sessions reaching a terminal status."),
		ChunksIndexed:       counter("meetscribe.chunks.indexed", "Transcript chunks written to the vector index."),
		HTTPRequestDuration: seconds("meetscribe.http.request.duration", "HTTP request latency by method and route."),
		BreakerTransitions:  counter("meetscribe.breaker.transitions", "Circuit breaker state changes by breaker and new state."),
	}
	inFlight, err := meter.Int64UpDownCounter("meetscribe.sessions.in_flight",
		metric.WithDescription("Sessions currently processed by this instance."))
	check(err)
	m.InFlightSessions = inFlight

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m, nil
}

// DefaultMetrics returns a process-wide [Metrics] bound to the global meter
// provider. It panics if the instruments cannot be created.
var DefaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic("observe: default metrics: " + err.Error())
	}
	return m
})

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStage records the time since start for stage, with status "error"
// when err is non-nil.
func (m *Metrics) RecordStage(ctx context.Context, stage string, start time.Time, err error) {
	m.StageDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", outcome(err)),
	))
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordClaim counts a claim or reclaim attempt.
func (m *Metrics) RecordClaim(ctx context.Context, kind string, won bool) {
	result := "lost"
	if won {
		result = "won"
	}
	m.Claims.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

// RecordSessionFinished counts a session reaching a terminal status.
func (m *Metrics) RecordSessionFinished(ctx context.Context, status string) {
	m.SessionsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordChunksIndexed counts n chunks written to the vector index.
func (m *Metrics) RecordChunksIndexed(ctx context.Context, n int) {
	m.ChunksIndexed.Add(ctx, int64(n))
}

// TrackSession marks one session as in flight. The returned func undoes it
// and must be called exactly once.
func (m *Metrics) TrackSession(ctx context.Context) (done func()) {
	m.InFlightSessions.Add(ctx, 1)
	return func() { m.InFlightSessions.Add(context.WithoutCancel(ctx), -1) }
}

// RecordHTTP records one served request under its route pattern.
func (m *Metrics) RecordHTTP(ctx context.Context, method, route string, d time.Duration) {
	m.HTTPRequestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", route),
	))
}

// RecordBreakerTransition counts a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("state", state),
	))
}
