// Package observe provides the observability primitives for Vartalaap:
// OpenTelemetry metrics, tracing, request-scoped logging, and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]; [Handler] serves them on /metrics. Components
// take a [*Metrics] explicitly; [DefaultMetrics] exists for callers that do
// not wire one. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vartalaap metrics.
const meterName = "github.com/vartalaap/vartalaap"

// Tier outcomes recorded by [Metrics.RecordTier].
const (
	OutcomePositive = "positive"
	OutcomeNegative = "negative"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeEmpty    = "empty"
)

// Metrics holds every OpenTelemetry instrument the application records.
// All fields are safe for concurrent use.
type Metrics struct {
	// DetectionDuration is the end-to-end latency of one Detect call.
	// Attribute: method.
	DetectionDuration metric.Float64Histogram

	// Detections counts verdicts. Attributes: method, has_error.
	Detections metric.Int64Counter

	// TierDuration is the latency of one model tier call. Attributes: tier, outcome.
	TierDuration metric.Float64Histogram

	// TierErrors counts failed tier calls. Attributes: tier, outcome.
	TierErrors metric.Int64Counter

	// CircuitTransitions counts breaker state changes. Attributes: name, from, to.
	CircuitTransitions metric.Int64Counter

	// TTSDuration is the latency of synthesizing one spoken correction.
	TTSDuration metric.Float64Histogram

	// LLMDuration is the latency of one conversation-partner reply.
	LLMDuration metric.Float64Histogram

	// ProviderRequests counts external provider calls.
	// Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// ActiveSessions tracks live practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks open tutor websockets.
	ActiveConnections metric.Int64UpDownCounter

	// HTTPRequestDuration is HTTP request latency. Attributes: method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. The low end resolves the
// pattern fast path; the high end covers a full tier timeout chain.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.DetectionDuration, err = histogram("vartalaap.detection.duration",
		"Latency of grammar error detection per fragment."); err != nil {
		return nil, err
	}
	if met.TierDuration, err = histogram("vartalaap.tier.duration",
		"Latency of a single model tier call."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("vartalaap.tts.duration",
		"Latency of spoken correction synthesis."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("vartalaap.llm.duration",
		"Latency of conversation partner replies."); err != nil {
		return nil, err
	}

	if met.Detections, err = m.Int64Counter("vartalaap.detections",
		metric.WithDescription("Detection verdicts by method and outcome."),
	); err != nil {
		return nil, err
	}
	if met.TierErrors, err = m.Int64Counter("vartalaap.tier.errors",
		metric.WithDescription("Failed model tier calls by tier and outcome."),
	); err != nil {
		return nil, err
	}
	if met.CircuitTransitions, err = m.Int64Counter("vartalaap.circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("vartalaap.provider.requests",
		metric.WithDescription("Provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("vartalaap.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("vartalaap.active_sessions",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("vartalaap.active_connections",
		metric.WithDescription("Number of open tutor websocket connections."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("vartalaap.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path, and status."),
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

// DefaultMetrics returns the package-level [Metrics], created on first call
// from [otel.GetMeterProvider]. It panics if instrument creation fails.
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

// RecordDetection records one detector verdict.
func (m *Metrics) RecordDetection(ctx context.Context, method string, hasError bool, d time.Duration) {
	m.DetectionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("method", method)))
	m.Detections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("has_error", strconv.FormatBool(hasError)),
		),
	)
}

// RecordTier records one tier call. Outcomes other than positive and
// negative also increment [Metrics.TierErrors].
func (m *Metrics) RecordTier(ctx context.Context, tier, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("outcome", outcome),
	)
	m.TierDuration.Record(ctx, d.Seconds(), attrs)
	if outcome != OutcomePositive && outcome != OutcomeNegative {
		m.TierErrors.Add(ctx, 1, attrs)
	}
}

// RecordCircuitTransition records a breaker state change.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, name, from, to string) {
	m.CircuitTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
