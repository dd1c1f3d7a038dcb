// Package observe provides application-wide observability primitives for
// ringsock: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

	"github.com/MrWong99/ringsock/pkg/audio/ring"
)

// meterName is the instrumentation scope name used for all ringsock metrics.
const meterName = "github.com/MrWong99/ringsock"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Consumer side ---

	// DrainDuration tracks how long one pump drain pass takes.
	DrainDuration metric.Float64Histogram

	// FramesDrained counts frames popped by the pump.
	FramesDrained metric.Int64Counter

	// --- Clients ---

	// BytesSent counts payload bytes written to clients. Use with attribute:
	//   attribute.String("transport", ...)
	BytesSent metric.Int64Counter

	// ClientSessions counts accepted live-stream sessions. Use with attributes:
	//   attribute.String("transport", ...), attribute.String("status", ...)
	ClientSessions metric.Int64Counter

	// ClientChunkDrops counts chunks dropped because a client queue was full.
	ClientChunkDrops metric.Int64Counter

	// CommandRequests counts command socket requests. Use with attribute:
	//   attribute.String("command", ...)
	CommandRequests metric.Int64Counter

	// --- Error counters ---

	// EncodeErrors counts codec failures. Use with attribute:
	//   attribute.String("encoding", ...)
	EncodeErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveClients tracks the number of connected live-stream clients.
	ActiveClients metric.Int64UpDownCounter

	// --- Recorder ---

	// RecorderFiles counts WAV files opened by the recorder.
	RecorderFiles metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by method,
	// route pattern and status code. Websocket sessions are not recorded.
	HTTPRequestDuration metric.Float64Histogram

	meter metric.Meter
}

// drainBuckets defines histogram bucket boundaries (in seconds) for a drain
// pass, which normally completes well under a millisecond.
var drainBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.DrainDuration, err = m.Float64Histogram("ringsock.drain.duration",
		metric.WithDescription("Duration of one consumer drain pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(drainBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesDrained, err = m.Int64Counter("ringsock.frames.drained",
		metric.WithDescription("Total frames popped from the ring by the consumer."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("ringsock.bytes.sent",
		metric.WithDescription("Total payload bytes written to clients by transport."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ClientSessions, err = m.Int64Counter("ringsock.client.sessions",
		metric.WithDescription("Total live-stream sessions by transport and status."),
	); err != nil {
		return nil, err
	}
	if met.ClientChunkDrops, err = m.Int64Counter("ringsock.client.chunk_drops",
		metric.WithDescription("Total chunks dropped because a client could not keep up."),
	); err != nil {
		return nil, err
	}
	if met.CommandRequests, err = m.Int64Counter("ringsock.command.requests",
		metric.WithDescription("Total command socket requests by command."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EncodeErrors, err = m.Int64Counter("ringsock.encode.errors",
		metric.WithDescription("Total codec failures by encoding."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveClients, err = m.Int64UpDownCounter("ringsock.active_clients",
		metric.WithDescription("Number of connected live-stream clients."),
	); err != nil {
		return nil, err
	}

	if met.RecorderFiles, err = m.Int64Counter("ringsock.recorder.files",
		metric.WithDescription("Total WAV files opened by the recorder."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ringsock.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RegisterRing registers observable instruments that read the ring's counters
// at collection time. stats is called from the collector goroutine and must be
// safe for concurrent use; [ring.Buffer.Stats] is.
//
// Call Unregister on the returned registration when the ring is discarded.
func (m *Metrics) RegisterRing(stats func() ring.Stats) (metric.Registration, error) {
	pushed, err := m.meter.Int64ObservableCounter("ringsock.ring.frames.pushed",
		metric.WithDescription("Total frames written into the ring by the producer."))
	if err != nil {
		return nil, err
	}
	popped, err := m.meter.Int64ObservableCounter("ringsock.ring.frames.popped",
		metric.WithDescription("Total frames read from the ring by the consumer."))
	if err != nil {
		return nil, err
	}
	dropped, err := m.meter.Int64ObservableCounter("ringsock.ring.frames.dropped",
		metric.WithDescription("Total frames discarded because the ring was full."))
	if err != nil {
		return nil, err
	}
	underflows, err := m.meter.Int64ObservableCounter("ringsock.ring.underflows",
		metric.WithDescription("Total reads that found the ring empty."))
	if err != nil {
		return nil, err
	}
	occupancy, err := m.meter.Int64ObservableGauge("ringsock.ring.occupancy",
		metric.WithDescription("Frames currently buffered in the ring."))
	if err != nil {
		return nil, err
	}

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(pushed, int64(s.Pushed))
		o.ObserveInt64(popped, int64(s.Popped))
		o.ObserveInt64(dropped, int64(s.Dropped))
		o.ObserveInt64(underflows, int64(s.Underflows))
		o.ObserveInt64(occupancy, int64(s.Occupied),
			metric.WithAttributes(attribute.Int("capacity", s.Capacity)))
		return nil
	}, pushed, popped, dropped, underflows, occupancy)
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

// RecordBytesSent records payload bytes written on transport.
func (m *Metrics) RecordBytesSent(ctx context.Context, transport string, n int) {
	m.BytesSent.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("transport", transport)),
	)
}

// RecordClientSession records a live-stream session outcome ("accepted",
// "busy").
func (m *Metrics) RecordClientSession(ctx context.Context, transport, status string) {
	m.ClientSessions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("status", status),
		),
	)
}

// RecordCommand records a command socket request.
func (m *Metrics) RecordCommand(ctx context.Context, command string) {
	m.CommandRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("command", command)),
	)
}

// RecordEncodeError records a codec failure.
func (m *Metrics) RecordEncodeError(ctx context.Context, encoding string) {
	m.EncodeErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("encoding", encoding)),
	)
}
