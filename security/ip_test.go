package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPResolver_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		resolver   ClientIPResolver
		remoteAddr string
		xff        string
		xRealIP    string
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "192.168.1.100:12345",
			want:       "192.168.1.100",
		},
		{
			name:       "forwarded header ignored without trust",
			remoteAddr: "10.0.0.1:12345",
			xff:        "203.0.113.1",
			xRealIP:    "203.0.113.2",
			want:       "10.0.0.1",
		},
		{
			name:       "one trusted proxy",
			resolver:   ClientIPResolver{TrustProxy: true},
			remoteAddr: "10.0.0.1:12345",
			xff:        "203.0.113.1",
			want:       "203.0.113.1",
		},
		{
			name:       "client supplied entry is ignored behind one proxy",
			resolver:   ClientIPResolver{TrustProxy: true},
			remoteAddr: "10.0.0.1:12345",
			xff:        "6.6.6.6, 203.0.113.1",
			want:       "203.0.113.1",
		},
		{
			name:       "two trusted proxies",
			resolver:   ClientIPResolver{TrustProxy: true, TrustedProxyCount: 2},
			remoteAddr: "10.0.0.1:12345",
			xff:        "203.0.113.1, 10.0.0.2",
			want:       "203.0.113.1",
		},
		{
			name:       "client supplied entries are ignored behind two proxies",
			resolver:   ClientIPResolver{TrustProxy: true, TrustedProxyCount: 2},
			remoteAddr: "10.0.0.1:12345",
			xff:        "6.6.6.6, 7.7.7.7, 203.0.113.1, 10.0.0.2",
			want:       "203.0.113.1",
		},
		{
			name:       "fewer hops than proxies uses the leftmost entry",
			resolver:   ClientIPResolver{TrustProxy: true, TrustedProxyCount: 3},
			remoteAddr: "10.0.0.1:12345",
			xff:        "203.0.113.1, 10.0.0.2",
			want:       "203.0.113.1",
		},
		{
			name:       "invalid forwarded entry falls back to X-Real-IP",
			resolver:   ClientIPResolver{TrustProxy: true},
			remoteAddr: "10.0.0.1:12345",
			xff:        "not-an-ip",
			xRealIP:    "203.0.113.9",
			want:       "203.0.113.9",
		},
		{
			name:       "invalid headers fall back to remote address",
			resolver:   ClientIPResolver{TrustProxy: true},
			remoteAddr: "10.0.0.1:12345",
			xff:        "not-an-ip",
			xRealIP:    "also-not",
			want:       "10.0.0.1",
		},
		{
			name:       "ipv6 remote address",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "ipv4-mapped address is unmapped",
			remoteAddr: "[::ffff:192.0.2.1]:80",
			want:       "192.0.2.1",
		},
		{
			name:       "remote address without port",
			remoteAddr: "192.0.2.7",
			want:       "192.0.2.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := tt.resolver.Resolve(r); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}
