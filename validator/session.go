package validator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gateway "github.com/giantswarm/oauth-gateway"
	"github.com/giantswarm/oauth-gateway/internal/util"
	"github.com/giantswarm/oauth-gateway/security"
	"github.com/giantswarm/oauth-gateway/storage"
)

// Messages returned to callers for rejected tokens
const (
	msgMissingToken = "The request is missing an access token"
	msgInvalidToken = "The access token provided is invalid"
	msgExpiredToken = "The access token provided has expired"
)

// tokenIDLogLength is the number of characters to include when logging tokens
const tokenIDLogLength = 8

// SessionValidator validates opaque access tokens against stored sessions.
type SessionValidator struct {
	sessions   storage.SessionStore
	tokenParam string
	clockSkew  time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Compile-time interface check
var _ gateway.ResourceValidator = (*SessionValidator)(nil)

// NewSessionValidator creates a validator reading tokens from the
// Authorization header or the tokenParam field (default "access_token").
func NewSessionValidator(sessions storage.SessionStore, tokenParam string, logger *slog.Logger) *SessionValidator {
	if tokenParam == "" {
		tokenParam = gateway.DefaultTokenParam
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionValidator{
		sessions:   sessions,
		tokenParam: tokenParam,
		clockSkew:  security.DefaultClockSkew,
		logger:     logger,
		now:        time.Now,
	}
}

// ValidateAccessToken implements gateway.ResourceValidator.
func (v *SessionValidator) ValidateAccessToken(ctx context.Context, r *http.Request, headerOnly bool) (*gateway.AccessToken, error) {
	raw, ok := gateway.ExtractAccessToken(r, v.tokenParam, headerOnly)
	if !ok {
		return nil, errors.New(msgMissingToken)
	}

	session, err := v.sessions.FindSessionByToken(ctx, raw)
	switch {
	case errors.Is(err, storage.ErrSessionExpired):
		return nil, errors.New(msgExpiredToken)
	case errors.Is(err, storage.ErrSessionNotFound):
		return nil, errors.New(msgInvalidToken)
	case err != nil:
		v.logger.Error("Session lookup failed",
			"token_prefix", util.SafeTruncate(raw, tokenIDLogLength),
			"error", err)
		return nil, errors.New(msgInvalidToken)
	}

	// stores expire sessions on their own clock
	if security.Expired(session.ExpiresAt, v.now(), v.clockSkew) {
		return nil, errors.New(msgExpiredToken)
	}

	return &gateway.AccessToken{
		Token:     raw,
		ClientID:  session.ClientID,
		UserID:    session.UserID,
		Scopes:    session.Scopes,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// HasScope implements gateway.ResourceValidator.
func (v *SessionValidator) HasScope(token *gateway.AccessToken, scope string) bool {
	return token != nil && token.HasScope(scope)
}
