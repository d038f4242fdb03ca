// Package observe provides application-wide observability primitives for
// Cadenza: OpenTelemetry metrics, a Prometheus exporter bridge, and HTTP
// middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Cadenza metrics.
const meterName = "github.com/MrWong99/cadenza"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ResolveDuration tracks track resolution latency (metadata lookup or
	// search).
	ResolveDuration metric.Float64Histogram

	// ConnectDuration tracks voice channel connect latency.
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// TracksEnqueued counts tracks appended to guild queues. Use with
	// attribute: attribute.String("kind", "url"|"search")
	TracksEnqueued metric.Int64Counter

	// ResolveRequests counts resolution attempts. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	ResolveRequests metric.Int64Counter

	// --- Error counters ---

	// PlaybackErrors counts tracks that failed mid-playback.
	PlaybackErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions across guilds.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// network lookups and voice connects.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ResolveDuration, err = m.Float64Histogram("cadenza.resolve.duration",
		metric.WithDescription("Latency of track resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("cadenza.voice.connect.duration",
		metric.WithDescription("Latency of voice channel connects."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TracksEnqueued, err = m.Int64Counter("cadenza.tracks.enqueued",
		metric.WithDescription("Total tracks appended to guild queues by query kind."),
	); err != nil {
		return nil, err
	}
	if met.ResolveRequests, err = m.Int64Counter("cadenza.resolve.requests",
		metric.WithDescription("Total track resolution attempts by kind and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.PlaybackErrors, err = m.Int64Counter("cadenza.playback.errors",
		metric.WithDescription("Total tracks that failed during playback."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("cadenza.active_sessions",
		metric.WithDescription("Number of live voice sessions across guilds."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cadenza.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordResolve records a resolution attempt with its latency and outcome.
func (m *Metrics) RecordResolve(ctx context.Context, kind, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.ResolveRequests.Add(ctx, 1, attrs)
	m.ResolveDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordEnqueue records a track appended to a guild queue.
func (m *Metrics) RecordEnqueue(ctx context.Context, kind string) {
	m.TracksEnqueued.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordPlaybackError records a track that failed during playback.
func (m *Metrics) RecordPlaybackError(ctx context.Context, guildID string) {
	m.PlaybackErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("guild_id", guildID)),
	)
}
