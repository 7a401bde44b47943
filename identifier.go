package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-gateway/instrumentation"
	"github.com/giantswarm/oauth-gateway/internal/util"
	"github.com/giantswarm/oauth-gateway/security"
	"github.com/giantswarm/oauth-gateway/storage"
)

// Client resolution results, used as metric labels
const (
	resolvedByToken       = "token"
	resolvedByCredentials = "credentials"
	resolvedByClaim       = "claim"
	resolvedAbsent        = "absent"
)

// tokenIDLogLength is the number of characters to include when logging tokens
const tokenIDLogLength = 8

// Credentials is the client-identifying input of a request.
type Credentials struct {
	// Token is an access token presented with the request. When it resolves
	// to a session, the session's client wins over ClientID.
	Token string

	ClientID     string
	ClientSecret string
	RedirectURI  string

	// RemoteIP is only used for audit and rate limiting of unidentified callers
	RemoteIP string
}

// CredentialsFromRequest collects client credentials from a parsed request.
// HTTP Basic credentials take precedence over client_id/client_secret fields.
// The form must already be parsed.
func CredentialsFromRequest(r *http.Request, tokenParam string) Credentials {
	creds := Credentials{
		ClientID:     r.Form.Get("client_id"),
		ClientSecret: r.Form.Get("client_secret"),
		RedirectURI:  r.Form.Get("redirect_uri"),
	}
	if token, ok := ExtractAccessToken(r, tokenParam, false); ok {
		creds.Token = token
	}
	if id, secret, ok := r.BasicAuth(); ok && id != "" {
		creds.ClientID = id
		creds.ClientSecret = secret
	}
	return creds
}

// ClientIdentifier resolves the registered client behind a request.
type ClientIdentifier struct {
	clients  storage.ClientStore
	sessions storage.SessionStore
	auditor  *security.Auditor
	logger   *slog.Logger
	inst     *instrumentation.Instrumentation
	tracer   trace.Tracer
}

// NewClientIdentifier creates an identifier over the given stores.
func NewClientIdentifier(clients storage.ClientStore, sessions storage.SessionStore, logger *slog.Logger) *ClientIdentifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientIdentifier{
		clients:  clients,
		sessions: sessions,
		logger:   logger,
		tracer:   noopTracer,
	}
}

// Identify returns the client for creds, or nil when the request cannot be
// attributed to a registered client. With a non-nil scope the result is
// computed at most once for the request; later calls return the memoized
// value whatever creds they pass.
func (ci *ClientIdentifier) Identify(ctx context.Context, scope *RequestScope, creds Credentials) *Client {
	if scope == nil {
		return ci.resolve(ctx, creds)
	}
	return scope.Client(func() *Client {
		return ci.resolve(ctx, creds)
	})
}

func (ci *ClientIdentifier) resolve(ctx context.Context, creds Credentials) *Client {
	ctx, span := ci.tracer.Start(ctx, "gateway.identify")
	defer span.End()

	clientID, source := ci.clientIDFor(ctx, creds)
	if clientID == "" {
		ci.recordResolution(ctx, span, "", resolvedAbsent)
		return nil
	}

	rec, err := ci.clients.FindClient(ctx, clientID, creds.ClientSecret, creds.RedirectURI)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) || errors.Is(err, storage.ErrInvalidClientCredentials) {
			ci.logger.Debug("Client not identified", "client_id", clientID, "source", source)
			if ci.auditor != nil {
				ci.auditor.LogClientRejected(ctx, clientID, creds.RemoteIP)
			}
		} else {
			ci.logger.Error("Client lookup failed", "client_id", clientID, "error", err)
			instrumentation.RecordError(span, err)
		}
		ci.recordResolution(ctx, span, clientID, resolvedAbsent)
		return nil
	}

	ci.recordResolution(ctx, span, rec.ClientID, source)
	return newClient(rec)
}

// ClientForToken returns the registered client named by a validated token's
// client_id, or nil when the token names none. Tokens that reach the gateway
// without a session, such as self-contained JWTs, are attributed this way.
func (ci *ClientIdentifier) ClientForToken(ctx context.Context, token *AccessToken) *Client {
	if token == nil || token.ClientID == "" {
		return nil
	}

	ctx, span := ci.tracer.Start(ctx, "gateway.identify")
	defer span.End()

	rec, err := ci.clients.GetClient(ctx, token.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			ci.logger.Debug("Token names an unregistered client", "client_id", token.ClientID)
		} else {
			ci.logger.Error("Client lookup failed", "client_id", token.ClientID, "error", err)
			instrumentation.RecordError(span, err)
		}
		ci.recordResolution(ctx, span, token.ClientID, resolvedAbsent)
		return nil
	}

	ci.recordResolution(ctx, span, rec.ClientID, resolvedByClaim)
	return newClient(rec)
}

// clientIDFor picks the client identifier: the owner of a presented token
// first, the directly supplied client_id otherwise.
func (ci *ClientIdentifier) clientIDFor(ctx context.Context, creds Credentials) (string, string) {
	if creds.Token != "" {
		session, err := ci.sessions.FindSessionByToken(ctx, creds.Token)
		switch {
		case err == nil && session.ClientID != "":
			return session.ClientID, resolvedByToken
		case err != nil && !errors.Is(err, storage.ErrSessionNotFound) && !errors.Is(err, storage.ErrSessionExpired):
			ci.logger.Warn("Session lookup failed",
				"token_prefix", util.SafeTruncate(creds.Token, tokenIDLogLength),
				"error", err)
		}
	}
	return creds.ClientID, resolvedByCredentials
}

func (ci *ClientIdentifier) recordResolution(ctx context.Context, span trace.Span, clientID, result string) {
	instrumentation.AddClientAttributes(span, clientID, result)
	if ci.inst != nil {
		ci.inst.Metrics().RecordClientResolution(ctx, result)
	}
}
