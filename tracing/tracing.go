// Package tracing installs the OpenTelemetry tracer provider. Components
// create spans through otel.Tracer and stay no-ops until Setup registers an
// exporter.
package tracing

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ErrBadSampleRatio is returned for ratios outside [0, 1].
var ErrBadSampleRatio = errors.New("tracing: sample ratio must be within [0, 1]")

// Config selects where spans are exported.
type Config struct {
	// Endpoint is the OTLP/HTTP collector URL. Tracing is disabled when
	// empty.
	Endpoint string `mapstructure:"endpoint"`
	// ServiceName is reported as service.name.
	ServiceName string `mapstructure:"service_name"`
	// SampleRatio is the fraction of root spans kept.
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// DefaultConfig returns tracing disabled with full sampling once enabled.
func DefaultConfig() Config {
	return Config{ServiceName: "aggsettle", SampleRatio: 1}
}

// Validate checks the sampling ratio.
func (c Config) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return ErrBadSampleRatio
	}
	return nil
}

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

// Setup registers a global tracer provider exporting to config.Endpoint.
// Without an endpoint it registers nothing and returns a no-op shutdown.
func Setup(ctx context.Context, config Config) (Shutdown, error) {
	noop := func(context.Context) error { return nil }
	if err := config.Validate(); err != nil {
		return noop, err
	}
	if config.Endpoint == "" {
		return noop, nil
	}
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(config.Endpoint))
	if err != nil {
		return noop, err
	}
	tp, err := NewProvider(ctx, config, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
	if err != nil {
		return noop, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

// NewProvider builds a provider for config with the given span processors
// or exporters attached.
func NewProvider(ctx context.Context, config Config, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	name := config.ServiceName
	if name == "" {
		name = DefaultConfig().ServiceName
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, err
	}
	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRatio))),
	}, opts...)
	return sdktrace.NewTracerProvider(opts...), nil
}

// Start opens a span named op on the tracer of component.
func Start(ctx context.Context, component, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("aggsettle/"+component).Start(ctx, op, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
