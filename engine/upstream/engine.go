package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	gateway "github.com/giantswarm/oauth-gateway"
	"github.com/giantswarm/oauth-gateway/instrumentation"
	"github.com/giantswarm/oauth-gateway/internal/util"
	"github.com/giantswarm/oauth-gateway/storage"
)

// Supported grant types
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
	GrantPassword          = "password"
)

// DefaultHTTPTimeout bounds each call to the upstream token endpoint
const DefaultHTTPTimeout = 30 * time.Second

// Config holds upstream engine configuration
type Config struct {
	// TokenURL is the upstream token endpoint (required)
	TokenURL string

	// ClientID and ClientSecret authenticate the gateway at the upstream.
	// When ClientID is empty the caller's client_id and client_secret are
	// forwarded instead.
	ClientID     string
	ClientSecret string

	// AuthStyle selects how client credentials are sent (default: auto-detect)
	AuthStyle oauth2.AuthStyle

	// HTTPClient is used for upstream calls (default: 30s timeout)
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Engine issues tokens by forwarding grants to an upstream OAuth2 token
// endpoint. Issued access tokens are recorded as sessions so the gateway can
// attribute later requests carrying them.
type Engine struct {
	config     Config
	sessions   storage.SessionStore
	httpClient *http.Client
	logger     *slog.Logger
	inst       *instrumentation.Instrumentation
	now        func() time.Time
}

// Compile-time interface check
var _ gateway.IssuanceEngine = (*Engine)(nil)

// New creates an upstream engine recording sessions in sessions.
func New(cfg Config, sessions storage.SessionStore) (*Engine, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.TokenURL); err != nil {
		return nil, fmt.Errorf("invalid token URL: %w", err)
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		config:     cfg,
		sessions:   sessions,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// SetInstrumentation enables upstream call metrics
func (e *Engine) SetInstrumentation(inst *instrumentation.Instrumentation) {
	e.inst = inst
}

// IssueAccessToken forwards the grant in input to the upstream token endpoint.
func (e *Engine) IssueAccessToken(ctx context.Context, input url.Values) (*gateway.TokenResponse, error) {
	grantType := input.Get("grant_type")
	if grantType == "" {
		return nil, gateway.NewProtocolError(gateway.CodeInvalidRequest, "The grant type was not specified in the request")
	}

	// Use custom HTTP client
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	start := e.now()
	token, err := e.exchange(ctx, grantType, input)
	e.recordCall(ctx, grantType, err, start)
	if err != nil {
		return nil, err
	}

	scope := tokenScope(token, input.Get("scope"))
	if err := e.saveSession(ctx, token, input, scope); err != nil {
		return nil, err
	}

	resp := &gateway.TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.Type(),
		RefreshToken: token.RefreshToken,
		Scope:        scope,
	}
	if !token.Expiry.IsZero() {
		resp.ExpiresIn = max(int64(token.Expiry.Sub(e.now())/time.Second), 0)
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		resp.IDToken = idToken
	}
	return resp, nil
}

func (e *Engine) exchange(ctx context.Context, grantType string, input url.Values) (*oauth2.Token, error) {
	clientID, clientSecret := e.clientCredentials(input)
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  input.Get("redirect_uri"),
		Scopes:       util.SplitList(input.Get("scope")),
		Endpoint: oauth2.Endpoint{
			TokenURL:  e.config.TokenURL,
			AuthStyle: e.config.AuthStyle,
		},
	}

	var (
		token *oauth2.Token
		err   error
	)
	switch grantType {
	case GrantAuthorizationCode:
		code, perr := required(input, "code")
		if perr != nil {
			return nil, perr
		}
		var opts []oauth2.AuthCodeOption
		if verifier := input.Get("code_verifier"); verifier != "" {
			opts = append(opts, oauth2.VerifierOption(verifier))
		}
		token, err = conf.Exchange(ctx, code, opts...)

	case GrantClientCredentials:
		cc := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     e.config.TokenURL,
			Scopes:       conf.Scopes,
			AuthStyle:    e.config.AuthStyle,
		}
		token, err = cc.Token(ctx)

	case GrantRefreshToken:
		refreshToken, perr := required(input, "refresh_token")
		if perr != nil {
			return nil, perr
		}
		// an expired token forces the source to refresh
		stale := &oauth2.Token{RefreshToken: refreshToken, Expiry: e.now().Add(-time.Second)}
		token, err = conf.TokenSource(ctx, stale).Token()

	case GrantPassword:
		username, perr := required(input, "username")
		if perr != nil {
			return nil, perr
		}
		token, err = conf.PasswordCredentialsToken(ctx, username, input.Get("password"))

	default:
		return nil, gateway.NewProtocolError(gateway.CodeUnsupportedGrantType,
			fmt.Sprintf("The grant type %q is not supported", grantType))
	}

	if err != nil {
		return nil, translateUpstreamError(err)
	}
	return token, nil
}

// clientCredentials returns the configured upstream credentials, or the
// caller's when none are configured.
func (e *Engine) clientCredentials(input url.Values) (string, string) {
	if e.config.ClientID != "" {
		return e.config.ClientID, e.config.ClientSecret
	}
	return input.Get("client_id"), input.Get("client_secret")
}

func (e *Engine) saveSession(ctx context.Context, token *oauth2.Token, input url.Values, scope string) error {
	session := &storage.Session{
		AccessToken: token.AccessToken,
		ClientID:    input.Get("client_id"),
		UserID:      input.Get("username"),
		Scopes:      util.SplitList(scope),
		ExpiresAt:   token.Expiry,
		CreatedAt:   e.now(),
	}
	if client, ok := gateway.ClientFromContext(ctx); ok {
		session.ClientID = client.ID
	}

	if err := e.sessions.SaveSession(ctx, session); err != nil {
		e.logger.Error("Failed to record issued token",
			"client_id", session.ClientID,
			"error", err)
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

func (e *Engine) recordCall(ctx context.Context, grantType string, err error, start time.Time) {
	result := "success"
	var protoErr *gateway.ProtocolError
	switch {
	case err == nil:
	case errors.As(err, &protoErr):
		result = "protocol_error"
		e.logger.Info("Upstream rejected grant", "grant_type", grantType, "error", protoErr.Code)
	default:
		result = "error"
		e.logger.Warn("Upstream token request failed", "grant_type", grantType, "error", err)
	}

	if e.inst != nil {
		durationMs := float64(e.now().Sub(start).Microseconds()) / 1000
		e.inst.Metrics().RecordUpstreamCall(ctx, grantType, result, durationMs)
	}
}

// translateUpstreamError turns an RFC 6749 error response into a protocol
// error. Codes outside the recognized set, and transport failures, stay plain
// errors.
func translateUpstreamError(err error) error {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) || rErr.ErrorCode == "" {
		return fmt.Errorf("upstream token request failed: %w", err)
	}

	code := gateway.ErrorCode(rErr.ErrorCode)
	if _, ok := gateway.StatusForCode(code); !ok {
		return fmt.Errorf("upstream returned unrecognized error %q: %w", rErr.ErrorCode, err)
	}

	protoErr := gateway.NewProtocolError(code, rErr.ErrorDescription)
	if rErr.Response != nil {
		if challenge := rErr.Response.Header.Get("WWW-Authenticate"); challenge != "" {
			protoErr.Headers = http.Header{"Www-Authenticate": []string{challenge}}
		}
	}
	return protoErr
}

func required(input url.Values, field string) (string, error) {
	value := strings.TrimSpace(input.Get(field))
	if value == "" {
		return "", gateway.NewProtocolError(gateway.CodeInvalidRequest,
			fmt.Sprintf("The request is missing the %q parameter", field))
	}
	return value, nil
}

// tokenScope returns the scope granted by the upstream, or the requested one
// when the response omits it.
func tokenScope(token *oauth2.Token, requested string) string {
	if granted, ok := token.Extra("scope").(string); ok && granted != "" {
		return granted
	}
	return requested
}
