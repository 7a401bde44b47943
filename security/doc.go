// Package security provides the protective building blocks of the gateway.
//
// # Client Quotas
//
// ConsumeQuota implements the hourly request window each registered client
// is subject to. Storage backends call it inside their own atomic section so
// that concurrent requests for one client are serialized.
//
// # Anonymous Rate Limiting
//
// IPRateLimiter throttles requests that cannot be attributed to a client. It
// keeps a token bucket per IP with LRU eviction and idle cleanup so that
// memory stays bounded under distributed floods:
//
//	limiter := security.NewIPRateLimiter(security.IPRateLimiterConfig{Rate: 5, Burst: 10})
//	defer limiter.Stop()
//
//	if ok, retryAfter := limiter.Allow(ip); !ok {
//	    // respond 429 with Retry-After
//	}
//
// ClientIPResolver decides which IP a request is attributed to and only
// trusts forwarding headers behind a known number of proxies.
//
// # Audit Logging
//
// Auditor emits security_audit log records for issued tokens, rejected
// credentials, exhausted quotas and denied scopes. User identifiers are
// hashed before they reach the log.
//
// # Headers and Request IDs
//
// SetSecurityHeaders and SetNoStore harden gateway responses.
// RequestIDMiddleware propagates X-Request-ID for log correlation.
package security
