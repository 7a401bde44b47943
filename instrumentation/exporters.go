package instrumentation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by Config.MetricsExporter and Config.TracingExporter
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// newMetricReader builds the reader for the configured metrics exporter.
// The Prometheus exporter also sets the scrape handler.
func (i *Instrumentation) newMetricReader(ctx context.Context) (sdkmetric.Reader, error) {
	switch i.config.MetricsExporter {
	case ExporterPrometheus:
		registerer := i.config.Registerer
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}

		exporter, err := otelprom.New(otelprom.WithRegisterer(registerer))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}

		if gatherer, ok := registerer.(prometheus.Gatherer); ok {
			i.metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		} else {
			i.metricsHandler = promhttp.Handler()
		}
		return exporter, nil

	case ExporterOTLP:
		if i.config.OTLPEndpoint == "" {
			return nil, fmt.Errorf("OTLP endpoint is required for the OTLP metrics exporter")
		}
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(i.config.OTLPEndpoint)}
		if i.config.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exporter), nil

	case ExporterStdout:
		slog.Warn("stdout metrics exporter enabled, use for development only",
			"component", "instrumentation")
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exporter), nil

	default:
		return nil, fmt.Errorf("unsupported metrics exporter: %q", i.config.MetricsExporter)
	}
}

// newSpanExporter builds the configured span exporter. It returns nil for
// "none": spans are still created so sampling and context propagation work.
func (i *Instrumentation) newSpanExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	switch i.config.TracingExporter {
	case ExporterNone:
		return nil, nil

	case ExporterOTLP:
		if i.config.OTLPEndpoint == "" {
			return nil, fmt.Errorf("OTLP endpoint is required for the OTLP tracing exporter")
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(i.config.OTLPEndpoint)}
		if i.config.OTLPInsecure {
			slog.Warn("OTLP insecure transport enabled, traces may carry client identifiers",
				"component", "instrumentation",
				"endpoint", i.config.OTLPEndpoint)
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		return exporter, nil

	case ExporterStdout:
		slog.Warn("stdout trace exporter enabled, use for development only",
			"component", "instrumentation")
		exporter, err := stdouttrace.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		return exporter, nil

	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %q", i.config.TracingExporter)
	}
}
