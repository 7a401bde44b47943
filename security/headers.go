package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets the headers every gateway response carries.
// HSTS is only sent when the issuer is served over HTTPS.
func SetSecurityHeaders(h http.Header, issuer string) {
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// SetNoStore marks a response as uncacheable. Responses carrying tokens or
// token metadata must not be cached (RFC 6749 section 5.1).
func SetNoStore(h http.Header) {
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}
