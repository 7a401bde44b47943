package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/giantswarm/oauth-gateway/storage"
)

// Rate limit response headers
const (
	HeaderRateLimitLimit     = "X-Rate-Limit-Limit"
	HeaderRateLimitRemaining = "X-Rate-Limit-Remaining"
	HeaderRateLimitReset     = "X-Rate-Limit-Reset"
)

// RateLimiter enforces the hourly request quota of identified clients.
type RateLimiter struct {
	store storage.QuotaStore
	now   func() time.Time
}

// NewRateLimiter creates a limiter that consumes quota through store.
func NewRateLimiter(store storage.QuotaStore) *RateLimiter {
	return &RateLimiter{store: store, now: time.Now}
}

// CheckAndConsume counts one request against the client's window and reports
// whether the limit is reached. A nil client is never limited. The client's
// quota fields are updated with the resulting window either way, so that
// HeadersFor reflects this request.
func (l *RateLimiter) CheckAndConsume(ctx context.Context, client *Client) (bool, error) {
	if client == nil {
		return false, nil
	}

	// windows are stored with second precision
	now := l.now().Truncate(time.Second)

	state, limited, err := l.store.ConsumeQuota(ctx, client.ID, now)
	if err != nil {
		return false, fmt.Errorf("failed to consume quota for client %s: %w", client.ID, err)
	}

	client.applyQuota(state)
	return limited, nil
}

// HeadersFor returns the rate limit headers for client at time now, or nil
// for an unidentified request. Remaining is not clamped and Reset may be
// negative for a window that has not been refreshed yet.
func HeadersFor(client *Client, now time.Time) map[string]string {
	if client == nil {
		return nil
	}
	return map[string]string{
		HeaderRateLimitLimit:     strconv.FormatInt(client.RequestLimit, 10),
		HeaderRateLimitRemaining: strconv.FormatInt(client.RequestLimit-client.CurrentTotalRequest, 10),
		HeaderRateLimitReset:     strconv.FormatInt(resetSeconds(client, now), 10),
	}
}

// SetRateLimitHeaders sets the headers of HeadersFor on h.
func SetRateLimitHeaders(h http.Header, client *Client, now time.Time) {
	for name, value := range HeadersFor(client, now) {
		h.Set(name, value)
	}
}

func resetSeconds(client *Client, now time.Time) int64 {
	return client.RequestLimitUntil.Unix() - now.Unix()
}
