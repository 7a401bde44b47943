package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the gateway
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Gateway Metrics
	ClientResolved metric.Int64Counter
	QuotaConsumed  metric.Int64Counter
	TokenIssued    metric.Int64Counter
	ProtocolErrors metric.Int64Counter

	// Security Metrics
	RateLimitExceeded metric.Int64Counter
	ScopeDenied       metric.Int64Counter
	AuditEventsTotal  metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram

	// Upstream Engine Metrics
	UpstreamCallsTotal metric.Int64Counter
	UpstreamDuration   metric.Float64Histogram
}

type counterSpec struct {
	dst   *metric.Int64Counter
	meter metric.Meter
	name  string
	desc  string
	unit  string
}

type histogramSpec struct {
	dst   *metric.Float64Histogram
	meter metric.Meter
	name  string
	desc  string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	gatewayMeter := inst.Meter("gateway")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")
	engineMeter := inst.Meter("engine")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "gateway.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.ClientResolved, gatewayMeter, "gateway.client.resolved", "Client identification attempts by result", "{request}"},
		{&m.QuotaConsumed, gatewayMeter, "gateway.quota.consumed", "Requests admitted against a client quota", "{request}"},
		{&m.TokenIssued, gatewayMeter, "gateway.token.issued", "Access tokens issued by grant type", "{token}"},
		{&m.ProtocolErrors, gatewayMeter, "gateway.protocol.errors", "Error responses by error code", "{error}"},
		{&m.RateLimitExceeded, securityMeter, "gateway.rate_limit.exceeded", "Number of rate limit violations", "{violation}"},
		{&m.ScopeDenied, securityMeter, "gateway.scope.denied", "Resource requests denied by the scope guard", "{request}"},
		{&m.AuditEventsTotal, securityMeter, "gateway.audit.events.total", "Security audit events by type", "{event}"},
		{&m.StorageOperationTotal, storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}"},
		{&m.UpstreamCallsTotal, engineMeter, "gateway.upstream.calls.total", "Calls to the upstream token endpoint", "{call}"},
	}
	for _, c := range counters {
		counter, err := c.meter.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	histograms := []histogramSpec{
		{&m.HTTPRequestDuration, httpMeter, "gateway.http.request.duration", "HTTP request duration in milliseconds"},
		{&m.StorageOperationDuration, storageMeter, "storage.operation.duration", "Storage operation duration in milliseconds"},
		{&m.UpstreamDuration, engineMeter, "gateway.upstream.duration", "Upstream token endpoint latency in milliseconds"},
	}
	for _, h := range histograms {
		histogram, err := h.meter.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("ms"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
		*h.dst = histogram
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordClientResolution records the outcome of client identification
// ("token", "credentials", "claim" or "absent").
func (m *Metrics) RecordClientResolution(ctx context.Context, result string) {
	m.ClientResolved.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordQuotaConsumed records a request admitted against a client quota
func (m *Metrics) RecordQuotaConsumed(ctx context.Context) {
	m.QuotaConsumed.Add(ctx, 1)
}

// RecordTokenIssued records an issued access token
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string) {
	m.TokenIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
	))
}

// RecordProtocolError records an error response
func (m *Metrics) RecordProtocolError(ctx context.Context, code string, status int) {
	m.ProtocolErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", code),
		attribute.Int("status", status),
	))
}

// RecordRateLimitExceeded records a rate limit violation ("client_quota" or "ip")
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordScopeDenied records a resource request rejected by the scope guard.
// scope is empty when the token itself was invalid.
func (m *Metrics) RecordScopeDenied(ctx context.Context, scope string) {
	reason := "missing_scope"
	if scope == "" {
		reason = "invalid_token"
	}
	m.ScopeDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, storageType, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("storage", storageType),
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("storage", storageType),
		attribute.String("operation", operation),
	))
}

// RecordUpstreamCall records a call to the upstream token endpoint
func (m *Metrics) RecordUpstreamCall(ctx context.Context, grantType, result string, durationMs float64) {
	m.UpstreamCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("result", result),
	))
	m.UpstreamDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("grant_type", grantType),
	))
}
