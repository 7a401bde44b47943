package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "oauth-gateway"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	instrumentationPrefix = "github.com/giantswarm/oauth-gateway/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service (default "oauth-gateway")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used.
	Enabled bool

	// MetricsExporter selects the metrics exporter: "prometheus" (default),
	// "otlp" or "stdout". Ignored when MetricReader is set.
	MetricsExporter string

	// TracingExporter selects the span exporter: "none" (default), "otlp" or
	// "stdout". Ignored when SpanProcessor is set.
	TracingExporter string

	// OTLPEndpoint is the host:port of the OTLP HTTP collector
	OTLPEndpoint string

	// OTLPInsecure disables TLS towards the OTLP collector
	OTLPInsecure bool

	// TraceSamplingRate is the parent-based ratio of traces sampled (default 1.0)
	TraceSamplingRate float64

	// MetricReader overrides the metric reader built from MetricsExporter.
	MetricReader sdkmetric.Reader

	// Registerer receives the Prometheus collector (default prometheus.DefaultRegisterer).
	// If it also implements prometheus.Gatherer, MetricsHandler serves from it.
	Registerer prometheus.Registerer

	// SpanProcessor overrides the span processor built from TracingExporter.
	SpanProcessor sdktrace.SpanProcessor

	// Resource allows custom resource attributes.
	// If nil, a resource with service name and version is created.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics        *Metrics
	metricsHandler http.Handler

	// Shutdown functions (registered during New() only)
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}
	if config.MetricsExporter == "" {
		config.MetricsExporter = ExporterPrometheus
	}
	if config.TracingExporter == "" {
		config.TracingExporter = ExporterNone
	}
	if config.TraceSamplingRate <= 0 {
		config.TraceSamplingRate = 1.0
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders builds SDK meter and tracer providers.
func (i *Instrumentation) initializeProviders() error {
	ctx := context.Background()

	reader := i.config.MetricReader
	if reader == nil {
		var err error
		reader, err = i.newMetricReader(ctx)
		if err != nil {
			return err
		}
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(i.resource),
		sdkmetric.WithReader(reader),
	)
	i.meterProvider = mp
	i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(i.resource),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(i.config.TraceSamplingRate))),
	}
	processor := i.config.SpanProcessor
	if processor == nil {
		exporter, err := i.newSpanExporter(ctx)
		if err != nil {
			_ = mp.Shutdown(ctx)
			return err
		}
		if exporter != nil {
			processor = sdktrace.NewBatchSpanProcessor(exporter)
		}
	}
	if processor != nil {
		traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(processor))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	i.tracerProvider = tp
	i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)

	return nil
}

// Shutdown flushes and stops all providers. Safe to call more than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		var errs []error
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope.
// Scopes are layer names like "http", "gateway", "storage", "engine", "security".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(instrumentationPrefix + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(instrumentationPrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// MetricsHandler returns the Prometheus scrape handler, or nil when metrics
// are disabled or exported through a custom reader.
func (i *Instrumentation) MetricsHandler() http.Handler {
	return i.metricsHandler
}

// Enabled reports whether SDK providers are active.
func (i *Instrumentation) Enabled() bool {
	return i.config.Enabled
}
