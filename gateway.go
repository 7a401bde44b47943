package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-gateway/instrumentation"
	"github.com/giantswarm/oauth-gateway/security"
	"github.com/giantswarm/oauth-gateway/storage"
)

var noopTracer = tracenoop.NewTracerProvider().Tracer("gateway")

// Rate limiter types, used as metric labels
const (
	limiterClient = "client"
	limiterIP     = "ip"
)

// IssuanceEngine performs the actual OAuth2 grant processing.
type IssuanceEngine interface {
	// IssueAccessToken processes a token request. Failures the caller should
	// see as OAuth2 errors are returned as *ProtocolError; anything else is
	// reported as undefined_error.
	IssueAccessToken(ctx context.Context, input url.Values) (*TokenResponse, error)
}

// TokenRequest is the input of a token issuance.
type TokenRequest struct {
	// Input is passed to the engine unchanged
	Input       url.Values
	Credentials Credentials
}

// Response is the outcome of a gateway operation, ready to be written.
type Response struct {
	Status int
	Body   any
	Header http.Header
}

// Gateway governs requests in front of an issuance engine: it identifies the
// client, enforces its quota and translates engine failures.
type Gateway struct {
	engine     IssuanceEngine
	identifier *ClientIdentifier
	limiter    *RateLimiter
	guard      *ScopeGuard
	ipLimiter  *security.IPRateLimiter
	ipResolver security.ClientIPResolver
	auditor    *security.Auditor

	config *Config
	logger *slog.Logger
	inst   *instrumentation.Instrumentation
	tracer trace.Tracer
	now    func() time.Time
}

// New creates a gateway. cfg may be nil for defaults.
func New(engine IssuanceEngine, store storage.Store, validator ResourceValidator, cfg *Config, logger *slog.Logger) (*Gateway, error) {
	if engine == nil {
		return nil, errors.New("issuance engine is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if validator == nil {
		return nil, errors.New("resource validator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var config Config
	if cfg != nil {
		config = *cfg
	}
	config.applyDefaults()

	headerOnly, _ := config.HeadersOnly()
	auditor := security.NewAuditor(logger, config.EnableAuditLogging)

	identifier := NewClientIdentifier(store, store, logger)
	identifier.auditor = auditor

	g := &Gateway{
		engine:     engine,
		identifier: identifier,
		limiter:    NewRateLimiter(store),
		guard:      NewScopeGuard(validator, headerOnly),
		ipResolver: security.ClientIPResolver{
			TrustProxy:        config.RateLimit.TrustProxy,
			TrustedProxyCount: config.RateLimit.TrustedProxyCount,
		},
		auditor: auditor,
		config:  &config,
		logger:  logger,
		tracer:  noopTracer,
		now:     time.Now,
	}

	g.limiter.now = func() time.Time { return g.now() }

	if config.RateLimit.AnonymousRate > 0 {
		g.ipLimiter = security.NewIPRateLimiter(security.IPRateLimiterConfig{
			Rate:       config.RateLimit.AnonymousRate,
			Burst:      config.RateLimit.AnonymousBurst,
			MaxEntries: config.RateLimit.MaxEntries,
			Logger:     logger,
		})
		logger.Info("Anonymous IP rate limiting enabled",
			"rate", config.RateLimit.AnonymousRate,
			"burst", config.RateLimit.AnonymousBurst)
	}

	return g, nil
}

// SetInstrumentation enables metrics and tracing for the gateway and its
// components. inst may be nil to disable them.
func (g *Gateway) SetInstrumentation(inst *instrumentation.Instrumentation) {
	g.inst = inst
	g.tracer = noopTracer
	if inst != nil {
		g.tracer = inst.Tracer("gateway")
	}
	g.identifier.inst = inst
	g.identifier.tracer = g.tracer
	g.auditor.SetInstrumentation(inst)
}

// Close stops background work.
func (g *Gateway) Close() {
	if g.ipLimiter != nil {
		g.ipLimiter.Stop()
	}
}

// IssueToken identifies the client, consumes its quota and delegates to the
// engine. Every outcome is a response; rate limit headers are set on all of
// them once a client is identified.
func (g *Gateway) IssueToken(ctx context.Context, req TokenRequest) *Response {
	ctx, span := g.tracer.Start(ctx, "gateway.token")
	defer span.End()

	grantType := req.Input.Get("grant_type")
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, grantType))

	scope, ok := RequestScopeFrom(ctx)
	if !ok {
		scope = NewRequestScope()
		ctx = WithRequestScope(ctx, scope)
	}

	header := make(http.Header)
	client := g.identifier.Identify(ctx, scope, req.Credentials)

	if gwErr := g.admit(ctx, client, req.Credentials.RemoteIP, header); gwErr != nil {
		return g.errorResponse(ctx, span, gwErr, header)
	}
	if client != nil {
		ctx = ContextWithClient(ctx, client)
	}

	token, err := g.engine.IssueAccessToken(ctx, req.Input)
	if err == nil && token == nil {
		err = errors.New("issuance engine returned no token")
	}
	clientID := ""
	if client != nil {
		clientID = client.ID
	}
	if err != nil {
		gwErr := Translate(err)
		if gwErr.Code == CodeUndefined {
			g.logger.Error("Token issuance failed", "grant_type", grantType, "error", err)
			g.auditor.LogUpstreamError(ctx, clientID, req.Credentials.RemoteIP, err)
		}
		return g.errorResponse(ctx, span, gwErr, header)
	}

	g.auditor.LogTokenIssued(ctx, clientID, "", req.Credentials.RemoteIP, grantType)
	if g.inst != nil {
		g.inst.Metrics().RecordTokenIssued(ctx, grantType)
	}
	instrumentation.SetSpanSuccess(span)

	return &Response{Status: http.StatusOK, Body: token, Header: header}
}

// admit applies the client's quota, or the IP limiter for unidentified
// callers, and sets rate limit headers on header.
func (g *Gateway) admit(ctx context.Context, client *Client, ip string, header http.Header) *Error {
	if client == nil {
		return g.admitAnonymous(ctx, ip, header)
	}

	ctx, span := g.tracer.Start(ctx, "gateway.quota")
	defer span.End()

	limited, err := g.limiter.CheckAndConsume(ctx, client)
	if err != nil {
		instrumentation.RecordError(span, err)
		g.logger.Error("Quota check failed", "client_id", client.ID, "error", err)
		return &Error{
			Code:        CodeServerError,
			Description: "Failed to apply request quota",
			Status:      http.StatusInternalServerError,
		}
	}

	now := g.now()
	reset := resetSeconds(client, now)
	instrumentation.AddQuotaAttributes(span, client.RequestLimit, client.CurrentTotalRequest, reset, limited)
	SetRateLimitHeaders(header, client, now)

	if !limited {
		if g.inst != nil {
			g.inst.Metrics().RecordQuotaConsumed(ctx)
		}
		return nil
	}

	g.logger.Warn("Client quota exceeded", "client_id", client.ID, "limit", client.RequestLimit)
	g.auditor.LogQuotaExceeded(ctx, client.ID, ip, client.RequestLimit, client.RequestLimitUntil)
	if g.inst != nil {
		g.inst.Metrics().RecordRateLimitExceeded(ctx, limiterClient)
	}
	header.Set("Retry-After", strconv.FormatInt(max(reset, 1), 10))
	return RateLimited(fmt.Sprintf("Request limit of %d per hour exceeded", client.RequestLimit))
}

func (g *Gateway) admitAnonymous(ctx context.Context, ip string, header http.Header) *Error {
	if g.ipLimiter == nil || ip == "" {
		return nil
	}
	ok, retryAfter := g.ipLimiter.Allow(ip)
	if ok {
		return nil
	}

	g.logger.Warn("Rate limit exceeded", "ip", ip)
	g.auditor.LogIPRateLimited(ctx, ip)
	if g.inst != nil {
		g.inst.Metrics().RecordRateLimitExceeded(ctx, limiterIP)
	}
	header.Set("Retry-After", strconv.FormatInt(max(int64(retryAfter.Round(time.Second)/time.Second), 1), 10))
	return RateLimited("Rate limit exceeded. Please try again later.")
}

// errorResponse merges the error's own headers under the rate limit headers
// already in header.
func (g *Gateway) errorResponse(ctx context.Context, span trace.Span, gwErr *Error, header http.Header) *Response {
	for name, values := range gwErr.Headers {
		if header.Get(name) == "" {
			header[name] = append([]string(nil), values...)
		}
	}

	instrumentation.AddErrorAttributes(span, string(gwErr.Code), gwErr.Description)
	instrumentation.SetSpanError(span, string(gwErr.Code))
	if g.inst != nil {
		g.inst.Metrics().RecordProtocolError(ctx, string(gwErr.Code), gwErr.Status)
	}

	return &Response{Status: gwErr.Status, Body: gwErr.Body(), Header: header}
}
