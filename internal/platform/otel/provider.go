// Package otel installs the process-wide OpenTelemetry trace provider.
package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls trace export. Export is off unless Endpoint is set.
type Config struct {
	Enabled     bool    `env:"TASKESCROW_OTEL_ENABLED" envDefault:"true"`
	Endpoint    string  `env:"TASKESCROW_OTEL_ENDPOINT"`
	SampleRatio float64 `env:"TASKESCROW_OTEL_SAMPLE_RATIO" envDefault:"1"`
	// Instance tags spans from one ledger node, e.g. a hostname.
	Instance string `env:"TASKESCROW_OTEL_INSTANCE"`
}

// Active reports whether spans will be exported.
func (c Config) Active() bool {
	return c.Enabled && c.Endpoint != ""
}

// ConfigFromEnv reads Config from TASKESCROW_OTEL_* variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse otel env: %w", err)
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return Config{}, errors.New("TASKESCROW_OTEL_SAMPLE_RATIO must be within [0, 1]")
	}
	return cfg, nil
}

// Setup configures tracing for serviceName from the environment and returns
// a shutdown function that flushes pending spans. When export is inactive
// the shutdown is a no-op and no global provider is registered.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return noop, err
	}
	return SetupWithConfig(ctx, serviceName, cfg)
}

// SetupWithConfig is Setup with an explicit Config.
func SetupWithConfig(ctx context.Context, serviceName string, cfg Config) (func(context.Context) error, error) {
	if !cfg.Active() {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return noop, fmt.Errorf("otlp exporter: %w", err)
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(serviceName))}
	if cfg.Instance != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceInstanceID(cfg.Instance)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return noop, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func noop(context.Context) error { return nil }
