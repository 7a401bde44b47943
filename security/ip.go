package security

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPResolver determines the originating IP of a request.
//
// Forwarding headers are only honored when TrustProxy is set. Each trusted
// proxy appends the address of its peer to X-Forwarded-For, so the client is
// the entry TrustedProxyCount positions from the right. Anything to the left
// of it can be forged by the client and is ignored.
type ClientIPResolver struct {
	TrustProxy        bool
	TrustedProxyCount int // default 1 when TrustProxy is set
}

// Resolve returns the client IP for r, falling back to RemoteAddr.
func (c ClientIPResolver) Resolve(r *http.Request) string {
	if c.TrustProxy {
		if ip, ok := c.fromForwardedFor(r.Header.Get("X-Forwarded-For")); ok {
			return ip
		}
		if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	return remoteIP(r.RemoteAddr)
}

func (c ClientIPResolver) fromForwardedFor(xff string) (string, bool) {
	if xff == "" {
		return "", false
	}

	hops := strings.Split(xff, ",")
	proxies := c.TrustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}

	idx := len(hops) - proxies
	if idx < 0 {
		idx = 0
	}
	return parseIP(hops[idx])
}

// parseIP normalizes an address string, rejecting anything that is not an IP
func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	if ip, ok := parseIP(host); ok {
		return ip
	}
	return host
}
