package security

import "time"

// DefaultClockSkew is the grace period applied to token expiry checks so that
// small clock differences between the gateway and the issuer do not reject
// tokens early.
const DefaultClockSkew = 5 * time.Second

// Expired reports whether a token expiring at expiresAt is expired at now,
// allowing skew. A zero expiresAt never expires.
func Expired(expiresAt, now time.Time, skew time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(skew))
}
