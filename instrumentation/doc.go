// Package instrumentation provides OpenTelemetry instrumentation for the gateway.
//
// It exposes:
//   - Metrics: counters and histograms for HTTP traffic, client identification,
//     quota consumption, token issuance, storage and upstream calls
//   - Traces: spans around identification, quota consumption, scope checks,
//     storage operations and upstream calls
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "oauth-gateway",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	gw.SetInstrumentation(inst)
//	http.Handle("/metrics", inst.MetricsHandler())
//
// When Enabled is true and no MetricReader is given, metrics are exported
// through a Prometheus collector registered with Config.Registerer.
// When Enabled is false, no-op providers are used and every Record* call is free.
//
// # Available Metrics
//
// HTTP Layer:
//   - gateway.http.requests.total{method, endpoint, status}
//   - gateway.http.request.duration{method, endpoint, status}
//
// Gateway:
//   - gateway.client.resolved{result}: token, credentials or absent
//   - gateway.quota.consumed
//   - gateway.token.issued{grant_type}
//   - gateway.protocol.errors{code, status}
//
// Security:
//   - gateway.rate_limit.exceeded{limiter_type}: client_quota or ip
//   - gateway.scope.denied{reason}
//   - gateway.audit.events.total{event_type}
//
// Storage:
//   - storage.operation.total{storage, operation, result}
//   - storage.operation.duration{storage, operation}
//
// Upstream:
//   - gateway.upstream.calls.total{grant_type, result}
//   - gateway.upstream.duration{grant_type}
//
// # Security
//
// Span attributes never carry credential values. Client IDs and scopes are
// recorded, access tokens and secrets are not.
package instrumentation
