package gateway

import (
	"context"
	"sync"
)

type contextKey int

const (
	requestScopeKey contextKey = iota
	accessTokenKey
	clientKey
)

// RequestScope holds state computed at most once per request. It replaces a
// resolver-level cache so that nothing outlives the request.
type RequestScope struct {
	once   sync.Once
	client *Client
}

// NewRequestScope returns an empty scope for one request.
func NewRequestScope() *RequestScope {
	return &RequestScope{}
}

// Client returns the memoized client, calling resolve on first use only.
// A nil result is memoized too.
func (s *RequestScope) Client(resolve func() *Client) *Client {
	s.once.Do(func() {
		s.client = resolve()
	})
	return s.client
}

// WithRequestScope attaches a request scope to the context
func WithRequestScope(ctx context.Context, scope *RequestScope) context.Context {
	return context.WithValue(ctx, requestScopeKey, scope)
}

// RequestScopeFrom returns the request scope stored in the context
func RequestScopeFrom(ctx context.Context) (*RequestScope, bool) {
	scope, ok := ctx.Value(requestScopeKey).(*RequestScope)
	return scope, ok
}

// ContextWithAccessToken adds a validated access token to the context
func ContextWithAccessToken(ctx context.Context, token *AccessToken) context.Context {
	return context.WithValue(ctx, accessTokenKey, token)
}

// AccessTokenFromContext retrieves the validated access token from the context
func AccessTokenFromContext(ctx context.Context) (*AccessToken, bool) {
	token, ok := ctx.Value(accessTokenKey).(*AccessToken)
	return token, ok
}

// ContextWithClient adds the identified client to the context
func ContextWithClient(ctx context.Context, client *Client) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

// ClientFromContext retrieves the identified client from the context
func ClientFromContext(ctx context.Context) (*Client, bool) {
	client, ok := ctx.Value(clientKey).(*Client)
	return client, ok && client != nil
}
