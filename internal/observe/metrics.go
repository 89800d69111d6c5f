// Package observe provides observability primitives for mangavoice:
// OpenTelemetry metrics, tracing helpers, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider], so they can be scraped from /metrics. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/mangavoice"

// Status attribute values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// SynthesisDuration tracks per-line provider synthesis latency.
	// Attributes: provider, status.
	SynthesisDuration metric.Float64Histogram

	// GenerationDuration tracks end-to-end script generation latency,
	// fallback attempts included. Attributes: provider, status.
	GenerationDuration metric.Float64Histogram

	// AudioDuration tracks the length of generated audio files.
	// Attributes: provider.
	AudioDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls.
	// Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// Fallbacks counts scripts serviced by a provider other than the one
	// tried first. Attributes: from, to.
	Fallbacks metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	// Attributes: provider, to.
	BreakerTransitions metric.Int64Counter

	// ScriptLines counts synthesised script lines. Attributes: provider, role.
	ScriptLines metric.Int64Counter

	// FilesCleaned counts generated files removed by cleanup.
	FilesCleaned metric.Int64Counter

	// ActiveGenerations tracks in-flight script generations.
	ActiveGenerations metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time.
	// Attributes: method, path, status_code.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries (seconds) for cloud TTS calls,
// which range from sub-second single lines to long multi-line scripts.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// audioBuckets are histogram boundaries (seconds) for generated audio length.
var audioBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SynthesisDuration, err = m.Float64Histogram("mangavoice.tts.synthesis.duration",
		metric.WithDescription("Latency of a single provider synthesis call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("mangavoice.generation.duration",
		metric.WithDescription("Latency of whole-script audio generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioDuration, err = m.Float64Histogram("mangavoice.audio.duration",
		metric.WithDescription("Length of generated audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(audioBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("mangavoice.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("mangavoice.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("mangavoice.provider.fallbacks",
		metric.WithDescription("Scripts serviced by a fallback provider."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("mangavoice.circuit_breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and target state."),
	); err != nil {
		return nil, err
	}
	if met.ScriptLines, err = m.Int64Counter("mangavoice.script.lines",
		metric.WithDescription("Synthesised script lines by provider and role."),
	); err != nil {
		return nil, err
	}
	if met.FilesCleaned, err = m.Int64Counter("mangavoice.files.cleaned",
		metric.WithDescription("Generated files removed by cleanup."),
	); err != nil {
		return nil, err
	}

	if met.ActiveGenerations, err = m.Int64UpDownCounter("mangavoice.active_generations",
		metric.WithDescription("Number of in-flight script generations."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("mangavoice.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordSynthesis records one provider synthesis call: its latency, a
// request count, and an error count on failure.
func (m *Metrics) RecordSynthesis(ctx context.Context, provider string, d time.Duration, err error) {
	status := statusOf(err)
	m.SynthesisDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
	m.RecordProviderRequest(ctx, provider, "synthesize", status)
	if err != nil {
		m.RecordProviderError(ctx, provider, "synthesize")
	}
}

// RecordGeneration records a finished script generation.
func (m *Metrics) RecordGeneration(ctx context.Context, provider string, d, audio time.Duration, err error) {
	m.GenerationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", statusOf(err)),
	))
	if err == nil {
		m.AudioDuration.Record(ctx, audio.Seconds(), metric.WithAttributes(
			attribute.String("provider", provider),
		))
	}
}

// RecordProviderRequest records a provider request counter increment.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFallback records a script serviced by to after from failed.
func (m *Metrics) RecordFallback(ctx context.Context, from, to string) {
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("to", to),
	))
}

// RecordScriptLine records one synthesised line.
func (m *Metrics) RecordScriptLine(ctx context.Context, provider, role string) {
	m.ScriptLines.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("role", role),
	))
}
