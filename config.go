package gateway

import (
	"strconv"
)

const (
	// DefaultTokenParam is the request field consulted for token-based client identification
	DefaultTokenParam = "access_token"

	// SettingHTTPHeadersOnly restricts resource token validation to the Authorization header
	SettingHTTPHeadersOnly = "http_headers_only"
)

// Config holds gateway configuration
type Config struct {
	// Issuer is the public base URL of the gateway. HSTS is only sent when it
	// uses https.
	Issuer string

	// TokenParam is the form/query field carrying an access token
	// (default "access_token")
	TokenParam string

	// HTTPHeadersOnly restricts resource requests to Authorization header
	// tokens. When nil, Settings[SettingHTTPHeadersOnly] is consulted.
	HTTPHeadersOnly *bool

	// Settings holds engine pass-through options looked up by key
	Settings map[string]string

	// RateLimit configures throttling of unidentified callers
	RateLimit RateLimitConfig

	// EnableAuditLogging enables security audit events (default: false)
	EnableAuditLogging bool
}

// RateLimitConfig configures the per-IP limiter applied to requests that do
// not resolve to a registered client. Identified clients are governed by their
// hourly quota only.
type RateLimitConfig struct {
	// AnonymousRate is requests per second per IP. Zero disables the limiter.
	AnonymousRate float64

	// AnonymousBurst is the bucket size per IP (default 20)
	AnonymousBurst int

	// MaxEntries bounds the number of tracked IPs (default 10000)
	MaxEntries int

	// TrustProxy honors X-Forwarded-For and X-Real-IP
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the gateway (default 1)
	TrustedProxyCount int
}

func (c *Config) applyDefaults() {
	if c.TokenParam == "" {
		c.TokenParam = DefaultTokenParam
	}
	if c.RateLimit.TrustProxy && c.RateLimit.TrustedProxyCount <= 0 {
		c.RateLimit.TrustedProxyCount = 1
	}
}

// Setting looks up a pass-through setting. ok is false when the key is unset.
func (c *Config) Setting(key string) (value string, ok bool) {
	value, ok = c.Settings[key]
	return value, ok
}

// HeadersOnly reports whether resource tokens must come from the
// Authorization header. set is false when neither the typed field nor a
// parseable setting configures it.
func (c *Config) HeadersOnly() (value, set bool) {
	if c.HTTPHeadersOnly != nil {
		return *c.HTTPHeadersOnly, true
	}
	raw, ok := c.Setting(SettingHTTPHeadersOnly)
	if !ok {
		return false, false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return value, true
}
