// Package observability installs the OpenTelemetry tracer provider.
// Tracing is off unless the experimental.openTelemetry config flag turns
// it on; while off, otel.Tracer hands out the global noop tracer and the
// instrumented paths cost nothing.
package observability

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"codecoder/internal/config"
	"codecoder/internal/logging"
)

// Exporter names accepted by Config.Exporter.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// Config controls the tracer provider.
type Config struct {
	Enabled  bool
	Exporter string
	// Endpoint is the OTLP collector address (host:port). Empty selects
	// the stdout exporter instead.
	Endpoint       string
	SampleRate     float64
	ServiceName    string
	ServiceVersion string
}

// FromConfig derives tracing settings from the loaded configuration:
// enabled iff experimental.openTelemetry is set, the endpoint from the
// standard OTEL_EXPORTER_OTLP_ENDPOINT variable.
func FromConfig(conf *config.Config) Config {
	cfg := Config{
		Enabled:        conf != nil && conf.Experimental.OpenTelemetry,
		Exporter:       ExporterOTLP,
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SampleRate:     1.0,
		ServiceName:    "codecoder",
		ServiceVersion: "dev",
	}
	if cfg.Endpoint == "" {
		cfg.Exporter = ExporterStdout
	}
	return cfg
}

// Provider owns an installed tracer provider.
type Provider struct {
	sdk *sdktrace.TracerProvider
}

// Setup builds the exporter and installs the global tracer provider.
// With tracing disabled it leaves the noop default in place and returns
// a Provider whose Shutdown does nothing.
func Setup(ctx context.Context, cfg Config, logger logging.Logger) (*Provider, error) {
	logger = logging.OrNop(logger)
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observability: build %s exporter: %w", cfg.Exporter, err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1.0
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	logger.Info("tracing enabled: exporter=%s sample=%.2f", cfg.Exporter, rate)
	return &Provider{sdk: tp}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterStdout, "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}

// Shutdown flushes buffered spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
