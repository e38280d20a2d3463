// Package observe provides the observability primitives of the practice
// API: OpenTelemetry metrics and tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// for Prometheus by [InitProvider]; [MetricsHandler] serves them at /metrics.
// Tests should build their own [Metrics] with [NewMetrics] and an SDK meter
// provider backed by a manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every parlons metric.
const meterName = "github.com/MrWong99/parlons"

// Metrics holds the instruments of the practice API. The OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscribeDuration is the latency of the transcription upstream.
	TranscribeDuration metric.Float64Histogram

	// TTSDuration is the latency of the synthesis upstream.
	TTSDuration metric.Float64Histogram

	// AssessmentScore is the distribution of pronunciation scores (0-100).
	AssessmentScore metric.Float64Histogram

	// UpstreamRequests counts upstream calls by upstream and status.
	UpstreamRequests metric.Int64Counter

	// UpstreamErrors counts failed upstream calls by upstream and kind
	// ("timeout", "status", "circuit_open", "transport").
	UpstreamErrors metric.Int64Counter

	// CircuitTransitions counts breaker state changes by breaker and target
	// state.
	CircuitTransitions metric.Int64Counter

	// TTSShared counts synthesis requests answered by a concurrent
	// identical request.
	TTSShared metric.Int64Counter

	// HTTPRequestDuration is the request latency by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets in seconds, sized for remote speech services.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

var scoreBuckets = []float64{
	0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscribeDuration, err = m.Float64Histogram("parlons.transcribe.duration",
		metric.WithDescription("Latency of the transcription upstream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("parlons.tts.duration",
		metric.WithDescription("Latency of the speech synthesis upstream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssessmentScore, err = m.Float64Histogram("parlons.assessment.score",
		metric.WithDescription("Pronunciation score of assessed recordings."),
		metric.WithUnit("%"),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	if met.UpstreamRequests, err = m.Int64Counter("parlons.upstream.requests",
		metric.WithDescription("Upstream requests by upstream and status."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamErrors, err = m.Int64Counter("parlons.upstream.errors",
		metric.WithDescription("Upstream errors by upstream and kind."),
	); err != nil {
		return nil, err
	}
	if met.CircuitTransitions, err = m.Int64Counter("parlons.circuit.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and state."),
	); err != nil {
		return nil, err
	}
	if met.TTSShared, err = m.Int64Counter("parlons.tts.shared",
		metric.WithDescription("Synthesis requests served by an identical in-flight request."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("parlons.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on the global meter
// provider, created on first use. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUpstreamRequest counts one upstream call.
func (m *Metrics) RecordUpstreamRequest(ctx context.Context, upstream, status string) {
	m.UpstreamRequests.Add(ctx, 1,
		metric.WithAttributes(Attr("upstream", upstream), Attr("status", status)),
	)
}

// RecordUpstreamError counts one failed upstream call.
func (m *Metrics) RecordUpstreamError(ctx context.Context, upstream, kind string) {
	m.UpstreamErrors.Add(ctx, 1,
		metric.WithAttributes(Attr("upstream", upstream), Attr("kind", kind)),
	)
}

// RecordCircuitTransition counts a breaker moving to state.
func (m *Metrics) RecordCircuitTransition(name, state string) {
	m.CircuitTransitions.Add(context.Background(), 1,
		metric.WithAttributes(Attr("breaker", name), Attr("state", state)),
	)
}
