package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/giantswarm/oauth-gateway/internal/util"
)

// ResourceValidator validates access tokens presented to protected resources.
type ResourceValidator interface {
	// ValidateAccessToken extracts and validates the request's access token.
	// With headerOnly set, only the Authorization header is consulted. The
	// error text is returned to the caller.
	ValidateAccessToken(ctx context.Context, r *http.Request, headerOnly bool) (*AccessToken, error)

	// HasScope reports whether token carries scope.
	HasScope(token *AccessToken, scope string) bool
}

// ExtractAccessToken returns the bearer token of a request. The Authorization
// header is consulted first, then the param form or query field unless
// headerOnly is set.
func ExtractAccessToken(r *http.Request, param string, headerOnly bool) (string, bool) {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "bearer") {
		token = strings.TrimSpace(token)
		return token, token != ""
	}
	if headerOnly || param == "" {
		return "", false
	}
	token := r.FormValue(param)
	return token, token != ""
}

// ScopeGuard checks that a request carries a valid token with the required scopes.
type ScopeGuard struct {
	validator  ResourceValidator
	headerOnly bool
}

// NewScopeGuard creates a guard backed by validator.
func NewScopeGuard(validator ResourceValidator, headerOnly bool) *ScopeGuard {
	return &ScopeGuard{validator: validator, headerOnly: headerOnly}
}

// Validate returns the request's token when it is valid and carries every
// scope in requiredScopes (comma or space separated, may be empty). Any
// failure is a 403 forbidden error.
func (g *ScopeGuard) Validate(ctx context.Context, r *http.Request, requiredScopes string) (*AccessToken, *Error) {
	token, _, gwErr := g.check(ctx, r, requiredScopes)
	return token, gwErr
}

// check is Validate that also returns the first missing scope, if any.
func (g *ScopeGuard) check(ctx context.Context, r *http.Request, requiredScopes string) (*AccessToken, string, *Error) {
	token, err := g.validator.ValidateAccessToken(ctx, r, g.headerOnly)
	if err != nil {
		return nil, "", Forbidden(err.Error())
	}

	for _, scope := range util.SplitList(requiredScopes) {
		if !g.validator.HasScope(token, scope) {
			return nil, scope, Forbidden(fmt.Sprintf("Only access token with scope `%s` can use this endpoint", scope))
		}
	}
	return token, "", nil
}
