// Package observe provides application-level observability for rtbridge:
// OpenTelemetry metric instruments, tracing helpers, trace-aware logging and
// the HTTP middleware used by the health server.
//
// Library packages (pkg/realtime, pkg/audio) own their protocol and buffer
// instruments. This package covers what only the application knows about:
// reconnects, persisted transcripts, relay publishes, perceived latency, tool
// calls and rate limits. [InitProvider] installs a Prometheus exporter so all
// of them can be scraped from /metrics. Tests should use [NewMetrics] with a
// custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for application metrics.
const meterName = "github.com/MrWong99/rtbridge"

// Status attribute values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the application's metric instruments. All fields are safe
// for concurrent use.
type Metrics struct {
	// ResponseLatency is the time from the end of user speech to the first
	// assistant audio.
	ResponseLatency metric.Float64Histogram

	// ToolDuration tracks tool execution latency. Attributes: tool, status.
	ToolDuration metric.Float64Histogram

	// Reconnects counts reconnection attempts. Attribute: status.
	Reconnects metric.Int64Counter

	// TranscriptsStored counts persisted transcript entries. Attributes:
	// kind, status.
	TranscriptsStored metric.Int64Counter

	// RelayPublishes counts relay messages. Attributes: topic, status.
	RelayPublishes metric.Int64Counter

	// BargeIns counts interrupted assistant responses.
	BargeIns metric.Int64Counter

	// RateLimitRemaining is the last reported remaining quota. Attribute:
	// name ("requests", "tokens").
	RateLimitRemaining metric.Int64Gauge

	// OpenSessions is 1 while the realtime session is open.
	OpenSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds for conversational
// latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ResponseLatency, err = m.Float64Histogram("rtbridge.response.latency",
		metric.WithDescription("Time from end of user speech to first assistant audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("rtbridge.tool.duration",
		metric.WithDescription("Latency of tool execution by tool and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("rtbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Reconnects, err = m.Int64Counter("rtbridge.session.reconnects",
		metric.WithDescription("Reconnection attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptsStored, err = m.Int64Counter("rtbridge.transcripts.stored",
		metric.WithDescription("Persisted transcript entries by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.RelayPublishes, err = m.Int64Counter("rtbridge.relay.publishes",
		metric.WithDescription("Relay messages by topic and status."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("rtbridge.bargeins",
		metric.WithDescription("Assistant responses interrupted by user speech."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.RateLimitRemaining, err = m.Int64Gauge("rtbridge.ratelimit.remaining",
		metric.WithDescription("Remaining quota reported by the server, by limit name."),
	); err != nil {
		return nil, err
	}
	if met.OpenSessions, err = m.Int64UpDownCounter("rtbridge.session.open",
		metric.WithDescription("Number of open realtime sessions."),
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
// fails.
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

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordLatency records one perceived response latency.
func (m *Metrics) RecordLatency(ctx context.Context, d time.Duration) {
	m.ResponseLatency.Record(ctx, d.Seconds())
}

// RecordToolCall records a tool execution.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, d time.Duration, err error) {
	m.ToolDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status(err)),
		),
	)
}

// RecordReconnect records one reconnection attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, err error) {
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status(err))))
}

// RecordTranscript records one transcript write.
func (m *Metrics) RecordTranscript(ctx context.Context, kind string, err error) {
	m.TranscriptsStored.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status(err)),
		),
	)
}

// RecordPublish records one relay publish.
func (m *Metrics) RecordPublish(ctx context.Context, topic string, err error) {
	m.RelayPublishes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("topic", topic),
			attribute.String("status", status(err)),
		),
	)
}

// RecordRateLimit records the remaining quota of one limit.
func (m *Metrics) RecordRateLimit(ctx context.Context, name string, remaining int) {
	m.RateLimitRemaining.Record(ctx, int64(remaining),
		metric.WithAttributes(attribute.String("name", name)),
	)
}
