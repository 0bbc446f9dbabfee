// Package observe provides application-wide observability primitives for
// Voxgate: OpenTelemetry metrics, tracing helpers, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all Voxgate metrics.
const meterName = "github.com/voxline/voxgate"

// Metrics holds all OpenTelemetry metric instruments for the gateway.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks end-to-end orchestrated turn latency, from final
	// transcript to response completion.
	TurnDuration metric.Float64Histogram

	// PlaybackDuration tracks direct (non-orchestrated) playback latency.
	PlaybackDuration metric.Float64Histogram

	// BargeInLatency tracks time from a qualifying partial to the StopAudio
	// frame going out.
	BargeInLatency metric.Float64Histogram

	// AudioIngestDuration tracks per-chunk sink write latency.
	AudioIngestDuration metric.Float64Histogram

	// --- Counters ---

	// BargeIns counts barge-in events handled.
	BargeIns metric.Int64Counter

	// StopAudioFrames counts StopAudio control frames sent.
	StopAudioFrames metric.Int64Counter

	// SpeechEventsDropped counts queue-overflow drops. Use with attribute:
	//   attribute.String("reason", "emergency_clear"|"still_full")
	SpeechEventsDropped metric.Int64Counter

	// AudioChunksDropped counts caller audio chunks dropped on sink-write
	// timeout.
	AudioChunksDropped metric.Int64Counter

	// SessionAllocations counts session allocations. Use with attribute:
	//   attribute.String("kind", "new"|"cached")
	SessionAllocations metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live call sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for real-time voice latencies.
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
	if met.TurnDuration, err = m.Float64Histogram("voxgate.turn.duration",
		metric.WithDescription("Latency of one orchestrated conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("voxgate.playback.duration",
		metric.WithDescription("Latency of direct text playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BargeInLatency, err = m.Float64Histogram("voxgate.bargein.latency",
		metric.WithDescription("Time from qualifying partial to StopAudio sent."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioIngestDuration, err = m.Float64Histogram("voxgate.ingest.duration",
		metric.WithDescription("Per-chunk recognizer sink write latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BargeIns, err = m.Int64Counter("voxgate.bargein.count",
		metric.WithDescription("Barge-in events handled."),
	); err != nil {
		return nil, err
	}
	if met.StopAudioFrames, err = m.Int64Counter("voxgate.stopaudio.count",
		metric.WithDescription("StopAudio control frames sent."),
	); err != nil {
		return nil, err
	}
	if met.SpeechEventsDropped, err = m.Int64Counter("voxgate.speech_events.dropped",
		metric.WithDescription("Speech events dropped by the overflow policy."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksDropped, err = m.Int64Counter("voxgate.audio_chunks.dropped",
		metric.WithDescription("Caller audio chunks dropped on sink-write timeout."),
	); err != nil {
		return nil, err
	}
	if met.SessionAllocations, err = m.Int64Counter("voxgate.session.allocations",
		metric.WithDescription("Session allocations by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxgate.sessions.active",
		metric.WithDescription("Live call sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxgate.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// KindAttr builds the session-allocation kind attribute.
func KindAttr(kind string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// DefaultMetrics returns the process-wide [Metrics] instance built from the
// globally registered meter provider. Instrument creation only fails on an
// invalid name; in that case no-op instruments are substituted so callers
// never need a nil check.
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			m, _ = NewMetrics(noop.NewMeterProvider())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
