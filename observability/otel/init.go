// Package otel bootstraps the OpenTelemetry trace and metric exporters the
// lending executor and daemon report to.
package otel

import (
	"context"
	"fmt"
	"strconv"
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

// Config selects which signals lendingd exports over OTLP/HTTP.
type Config struct {
	ServiceName string
	Environment string
	Endpoint    string
	Insecure    bool
	Headers     map[string]string
	Metrics     bool
	Traces      bool
	// MetricInterval defaults to 15s.
	MetricInterval time.Duration
}

const defaultEndpoint = "localhost:4318"

// FromEnv reads the standard OTEL_EXPORTER_OTLP_* variables through lookup.
// Exporting is enabled only when an endpoint is configured.
func FromEnv(service, environment string, lookup func(string) string) Config {
	endpoint := strings.TrimSpace(lookup("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg := Config{
		ServiceName: service,
		Environment: environment,
		Endpoint:    endpoint,
		Insecure:    true,
		Headers:     ParseHeaders(lookup("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     endpoint != "",
		Traces:      endpoint != "",
	}
	if parsed, err := strconv.ParseBool(strings.TrimSpace(lookup("OTEL_EXPORTER_OTLP_INSECURE"))); err == nil {
		cfg.Insecure = parsed
	}
	if ms, err := strconv.Atoi(strings.TrimSpace(lookup("OTEL_METRIC_EXPORT_INTERVAL"))); err == nil && ms > 0 {
		cfg.MetricInterval = time.Duration(ms) * time.Millisecond
	}
	return cfg
}

// shutdowns stops providers in reverse start order and keeps the first error.
type shutdowns []func(context.Context) error

func (s shutdowns) run(ctx context.Context) error {
	var first error
	for i := len(s) - 1; i >= 0; i-- {
		if err := s[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Init installs the global tracer and meter providers and the W3C
// propagator. With both signals off the no-op providers stay in place.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("service name required for telemetry")
	}
	var stop shutdowns
	if !cfg.Traces && !cfg.Metrics {
		return stop.run, nil
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}
	if cfg.Traces {
		tp, err := cfg.tracerProvider(ctx, res)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		stop = append(stop, tp.Shutdown)
	}
	if cfg.Metrics {
		mp, err := cfg.meterProvider(ctx, res)
		if err != nil {
			_ = stop.run(ctx)
			return nil, err
		}
		otel.SetMeterProvider(mp)
		stop = append(stop, mp.Shutdown)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return stop.run, nil
}

func (cfg Config) resource() (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(cfg.ServiceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	return res, nil
}

func (cfg Config) tracerProvider(ctx context.Context, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithHeaders(cfg.Headers)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(2*time.Second)),
	), nil
}

func (cfg Config) meterProvider(ctx context.Context, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithHeaders(cfg.Headers)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	), nil
}

// ParseHeaders converts the OTEL header list "key=value,foo=bar" into a
// map. Malformed pairs and empty keys are skipped.
func ParseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(pair, "=")
		if key = strings.TrimSpace(key); found && key != "" {
			headers[key] = strings.TrimSpace(value)
		}
	}
	return headers
}
