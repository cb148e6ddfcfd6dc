// Package telemetry installs the OpenTelemetry trace and metric providers
// used by the runtime spans and the instrumented HTTP router.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	DefaultEndpoint       = "localhost:4318"
	DefaultMetricInterval = 15 * time.Second
)

// ErrServiceName is returned when Setup is called without a service name.
var ErrServiceName = errors.New("telemetry: service name required")

// Options selects exporters. With Enabled false only the propagators are
// installed and spans go to the no-op provider.
type Options struct {
	Enabled        bool
	ServiceName    string
	Environment    string
	Endpoint       string
	Insecure       bool
	Headers        map[string]string
	SampleRatio    float64
	Metrics        bool
	MetricInterval time.Duration
}

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(context.Context) error

// Setup configures the global OpenTelemetry providers.
func Setup(ctx context.Context, opts Options) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !opts.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if strings.TrimSpace(opts.ServiceName) == "" {
		return nil, ErrServiceName
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	res, err := newResource(opts)
	if err != nil {
		return nil, err
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	if len(opts.Headers) > 0 {
		traceOpts = append(traceOpts, otlptracehttp.WithHeaders(opts.Headers))
	}
	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(opts.SampleRatio)),
		sdktrace.WithBatcher(traceExporter,
			sdktrace.WithBatchTimeout(2*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		),
	)
	otel.SetTracerProvider(tp)
	shutdowns := []ShutdownFunc{tp.Shutdown}

	if opts.Metrics {
		metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(opts.Endpoint)}
		if opts.Insecure {
			metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		}
		if len(opts.Headers) > 0 {
			metricOpts = append(metricOpts, otlpmetrichttp.WithHeaders(opts.Headers))
		}
		metricExporter, err := otlpmetrichttp.New(ctx, metricOpts...)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
		}
		interval := opts.MetricInterval
		if interval <= 0 {
			interval = DefaultMetricInterval
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	return func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return errors.Join(errs...)
	}, nil
}

func newResource(opts Options) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(opts.ServiceName)}
	if opts.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(opts.Environment))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}
	return res, nil
}

// Sampler returns a parent-based sampler for ratio. Ratios outside (0, 1)
// sample everything.
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// ParseHeaders converts a comma-separated header string (key=value,foo=bar)
// into a map for the exporters.
func ParseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
