package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never record access tokens, client secrets or other
// credentials as attribute values. Only metadata such as client IDs, scopes
// and results belong in traces.
const (
	// Gateway attributes
	AttrClientID         = "gateway.client_id"
	AttrClientResolution = "gateway.client.resolution"
	AttrScope            = "gateway.scope"
	AttrGrantType        = "gateway.grant_type"
	AttrError            = "gateway.error"
	AttrErrorDescription = "gateway.error_description"

	// Quota attributes
	AttrQuotaLimit     = "gateway.quota.limit"
	AttrQuotaCount     = "gateway.quota.count"
	AttrQuotaLimited   = "gateway.quota.limited"
	AttrQuotaResetSecs = "gateway.quota.reset_seconds"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrRateLimiterType = "security.rate_limiter.type"
	AttrClientIP        = "security.client_ip"

	// HTTP attributes
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddClientAttributes adds the resolved client and how it was resolved (nil-safe)
func AddClientAttributes(span trace.Span, clientID, resolution string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if resolution != "" {
		SetSpanAttributes(span, attribute.String(AttrClientResolution, resolution))
	}
}

// AddQuotaAttributes adds quota window attributes to a span (nil-safe)
func AddQuotaAttributes(span trace.Span, limit, count, resetSeconds int64, limited bool) {
	SetSpanAttributes(span,
		attribute.Int64(AttrQuotaLimit, limit),
		attribute.Int64(AttrQuotaCount, count),
		attribute.Int64(AttrQuotaResetSecs, resetSeconds),
		attribute.Bool(AttrQuotaLimited, limited),
	)
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddErrorAttributes adds an error code and description to a span (nil-safe)
func AddErrorAttributes(span trace.Span, code, description string) {
	SetSpanAttributes(span,
		attribute.String(AttrError, code),
		attribute.String(AttrErrorDescription, description),
	)
}
