package security

// Audit event types
const (
	// EventTokenIssued is logged when the issuance engine returns a token
	EventTokenIssued = "token_issued"

	// EventClientRejected is logged when presented client credentials do not
	// match a registered client
	EventClientRejected = "client_credentials_rejected"

	// EventQuotaExceeded is logged when a client exhausts its hourly quota
	EventQuotaExceeded = "quota_exceeded"

	// EventIPRateLimited is logged when an anonymous caller is throttled
	EventIPRateLimited = "ip_rate_limited"

	// EventScopeDenied is logged when a valid token lacks a required scope
	EventScopeDenied = "scope_denied"

	// EventInvalidToken is logged when a resource request carries no usable token
	EventInvalidToken = "invalid_token"

	// EventUpstreamError is logged when the issuance engine fails unexpectedly
	EventUpstreamError = "upstream_error"
)
