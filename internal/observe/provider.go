package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TraceExport selects where client-session spans go.
type TraceExport string

const (
	// TraceNone records spans for log correlation but exports nothing.
	TraceNone TraceExport = "none"
	// TraceStdout writes finished spans as JSON lines.
	TraceStdout TraceExport = "stdout"
)

// IsValid reports whether t is a known export mode. The empty value means
// [TraceNone].
func (t TraceExport) IsValid() bool {
	switch t {
	case "", TraceNone, TraceStdout:
		return true
	}
	return false
}

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName defaults to "ringsock".
	ServiceName    string
	ServiceVersion string

	// AudioHost and SampleRate are attached to the resource so every series
	// and span says which capture backend produced it.
	AudioHost  string
	SampleRate int

	// Traces selects the span exporter. Default: [TraceNone].
	Traces TraceExport

	// TraceWriter receives spans in [TraceStdout] mode. Default: os.Stdout.
	TraceWriter io.Writer

	// SampleRatio is the fraction of root spans sampled, in (0, 1].
	// Default: 1.
	SampleRatio float64

	// Registerer receives the Prometheus collector. Default:
	// prometheus.DefaultRegisterer, which the /metrics handler gathers from.
	Registerer prometheus.Registerer
}

// Provider holds the SDK providers installed by [InitProvider].
type Provider struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
}

// Shutdown flushes pending spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.TracerProvider.Shutdown(ctx), p.MeterProvider.Shutdown(ctx))
}

// httpDurationKeys are the only attributes kept on the HTTP request
// histogram.
var httpDurationKeys = []attribute.Key{
	semconv.HTTPRequestMethodKey,
	semconv.HTTPRouteKey,
	semconv.HTTPResponseStatusCodeKey,
}

// InitProvider installs a meter provider exporting to Prometheus and a tracer
// provider exporting per cfg.Traces, registers both globally, and returns
// them.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ringsock"
	}
	if !cfg.Traces.IsValid() {
		return nil, fmt.Errorf("observe: unknown trace export %q", cfg.Traces)
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("observe: sample ratio %v out of range (0, 1]", cfg.SampleRatio)
	}
	if cfg.SampleRatio == 0 {
		cfg.SampleRatio = 1
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.AudioHost != "" {
		attrs = append(attrs, attribute.String("ringsock.audio.host", cfg.AudioHost))
	}
	if cfg.SampleRate > 0 {
		attrs = append(attrs, attribute.Int("ringsock.audio.sample_rate", cfg.SampleRate))
	}
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithFromEnv(),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	promOpts := []promexporter.Option{}
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	promExp, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
		sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: "ringsock.http.request.duration"},
			sdkmetric.Stream{AttributeFilter: attribute.NewAllowKeysFilter(httpDurationKeys...)},
		)),
	)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	if cfg.Traces == TraceStdout {
		w := cfg.TraceWriter
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			_ = mp.Shutdown(ctx)
			return nil, fmt.Errorf("observe: stdout trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	return &Provider{MeterProvider: mp, TracerProvider: tp}, nil
}
