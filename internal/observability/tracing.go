// Package observability installs the OpenTelemetry tracer provider that the
// task runner's spans are exported through.
package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"krishi/internal/logging"
)

// Exporters.
const (
	ExporterNone   = ""
	ExporterOTLP   = "otlp"
	ExporterZipkin = "zipkin"
)

const (
	defaultOTLPEndpoint   = "http://localhost:4318/v1/traces"
	defaultZipkinEndpoint = "http://localhost:9411/api/v2/spans"
)

// TracingConfig selects the span exporter. An empty Exporter disables tracing.
type TracingConfig struct {
	Exporter       string
	Endpoint       string
	SampleRate     float64
	ServiceName    string
	ServiceVersion string
}

// Tracing owns the installed provider. The zero value is a disabled tracer.
type Tracing struct {
	provider *sdktrace.TracerProvider
}

// SetupTracing builds the exporter and installs the provider globally.
func SetupTracing(ctx context.Context, config TracingConfig, logger logging.Logger) (*Tracing, error) {
	logger = logging.OrNop(logger)
	exporterName := strings.ToLower(strings.TrimSpace(config.Exporter))
	if exporterName == ExporterNone {
		return &Tracing{}, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	endpoint := strings.TrimSpace(config.Endpoint)
	switch exporterName {
	case ExporterOTLP:
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	case ExporterZipkin:
		if endpoint == "" {
			endpoint = defaultZipkinEndpoint
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", config.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", exporterName, err)
	}

	serviceName := config.ServiceName
	if serviceName == "" {
		serviceName = "krishi"
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", serviceName)}
	if config.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", config.ServiceVersion))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	rate := config.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	otel.SetTracerProvider(provider)
	logger.Info("exporting traces via %s to %s (sample rate %.2f)", exporterName, endpoint, rate)
	return &Tracing{provider: provider}, nil
}

// Enabled reports whether spans are exported.
func (t *Tracing) Enabled() bool {
	return t != nil && t.provider != nil
}

// Shutdown flushes buffered spans.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
