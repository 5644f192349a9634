// Package telemetry provides the observability surface for the runtime:
// OpenTelemetry counter/histogram emission behind a flat function API, span
// helpers for trace correlation, and tracer-provider initialization.
//
// Every function is safe to call before Init and when telemetry is
// disabled; emission degrades to a no-op through the OpenTelemetry global
// providers.
//
// Usage:
//
//	provider, err := telemetry.Init(cfg.Telemetry)
//	if err != nil {
//	    return err
//	}
//	defer provider.Shutdown(context.Background())
//
//	telemetry.Counter("cognigate.ratelimit.denied_total",
//	    "tenant", tenantID,
//	    "horizon", "burst",
//	)
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/cognigate/cognigate/core"
)

const instrumentationName = "github.com/cognigate/cognigate"

// Provider owns the installed tracer provider. Shutdown flushes pending
// spans; it is safe on a nil Provider so disabled telemetry needs no
// special-casing at call sites.
type Provider struct {
	traceProvider *sdktrace.TracerProvider
}

// Init configures the global OpenTelemetry providers from config.
// With Development set, traces go to stdout; otherwise they are exported
// over OTLP gRPC to the configured endpoint. Returns a nil-safe Provider
// when telemetry is disabled.
func Init(cfg core.TelemetryConfig) (*Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "cognigate"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if cfg.Development {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	} else {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	resetInstruments()

	return &Provider{traceProvider: tp}, nil
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.traceProvider == nil {
		return nil
	}
	return p.traceProvider.Shutdown(ctx)
}

// Tracer returns the runtime's tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span on the runtime tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// Instrument caches. Instruments are created lazily per metric name and
// rebuilt after Init installs a new provider.
var (
	instrumentMu sync.Mutex
	counters     map[string]metric.Int64Counter
	histograms   map[string]metric.Float64Histogram
	gauges       map[string]metric.Float64Gauge
)

func resetInstruments() {
	instrumentMu.Lock()
	defer instrumentMu.Unlock()
	counters = nil
	histograms = nil
	gauges = nil
}

func getCounter(name string) (metric.Int64Counter, error) {
	instrumentMu.Lock()
	defer instrumentMu.Unlock()
	if c, ok := counters[name]; ok {
		return c, nil
	}
	c, err := otel.Meter(instrumentationName).Int64Counter(name)
	if err != nil {
		return nil, err
	}
	if counters == nil {
		counters = make(map[string]metric.Int64Counter)
	}
	counters[name] = c
	return c, nil
}

func getHistogram(name string) (metric.Float64Histogram, error) {
	instrumentMu.Lock()
	defer instrumentMu.Unlock()
	if h, ok := histograms[name]; ok {
		return h, nil
	}
	h, err := otel.Meter(instrumentationName).Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	if histograms == nil {
		histograms = make(map[string]metric.Float64Histogram)
	}
	histograms[name] = h
	return h, nil
}

func getGauge(name string) (metric.Float64Gauge, error) {
	instrumentMu.Lock()
	defer instrumentMu.Unlock()
	if g, ok := gauges[name]; ok {
		return g, nil
	}
	g, err := otel.Meter(instrumentationName).Float64Gauge(name)
	if err != nil {
		return nil, err
	}
	if gauges == nil {
		gauges = make(map[string]metric.Float64Gauge)
	}
	gauges[name] = g
	return g, nil
}

// Counter increments a counter metric by 1.
// Labels are alternating key-value pairs: Counter("name", "tenant", id).
func Counter(name string, labels ...string) {
	c, err := getCounter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(parseLabels(labels...)...))
}

// CounterAdd increments a counter metric by delta.
func CounterAdd(name string, delta int64, labels ...string) {
	c, err := getCounter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), delta, metric.WithAttributes(parseLabels(labels...)...))
}

// Histogram records a value in a histogram metric.
func Histogram(name string, value float64, labels ...string) {
	h, err := getHistogram(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(parseLabels(labels...)...))
}

// Gauge records the current value of a gauge metric.
func Gauge(name string, value float64, labels ...string) {
	g, err := getGauge(name)
	if err != nil {
		return
	}
	g.Record(context.Background(), value, metric.WithAttributes(parseLabels(labels...)...))
}

// Duration records elapsed milliseconds since startTime in a histogram.
//
//	defer telemetry.Duration("cognigate.runtime.admit_duration_ms", time.Now())
func Duration(name string, startTime time.Time, labels ...string) {
	Histogram(name, float64(time.Since(startTime).Milliseconds()), labels...)
}

// parseLabels converts alternating key-value strings to attributes.
// A trailing key without a value is dropped.
func parseLabels(labels ...string) []attribute.KeyValue {
	if len(labels) < 2 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		if labels[i] == "" {
			continue
		}
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}
