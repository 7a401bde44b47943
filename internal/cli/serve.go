package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	gateway "github.com/giantswarm/oauth-gateway"
	"github.com/giantswarm/oauth-gateway/engine/upstream"
	"github.com/giantswarm/oauth-gateway/instrumentation"
	"github.com/giantswarm/oauth-gateway/security"
	"github.com/giantswarm/oauth-gateway/storage"
	"github.com/giantswarm/oauth-gateway/validator"
)

// Validator types
const (
	ValidatorSession = "session"
	ValidatorJWT     = "jwt"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

type serveOptions struct {
	Addr            string
	Issuer          string
	TokenParam      string
	HeadersOnly     bool
	AuditLogging    bool
	TokenInfoScope  string
	BootstrapClient []string

	AnonymousRate     float64
	AnonymousBurst    int
	TrustProxy        bool
	TrustedProxyCount int

	Validator        string
	JWTSecret        string
	JWTPublicKeyFile string
	JWTIssuer        string
	JWTAudience      string

	UpstreamTokenURL     string
	UpstreamClientID     string
	UpstreamClientSecret string
	UpstreamAuthStyle    string

	MetricsEnabled    bool
	MetricsAddr       string
	MetricsExporter   string
	TracingExporter   string
	OTLPEndpoint      string
	OTLPInsecure      bool
	TraceSamplingRate float64
}

func newServeCmd(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		Long: `Start the gateway HTTP server.

Routes:
  POST /oauth/token      token endpoint, quota enforced per client
  GET  /oauth/tokeninfo  introspection of the presented bearer token
  GET  /healthz          liveness probe

Token requests are forwarded to --upstream-token-url once the client is
admitted. Clients live in the configured storage backend; with memory
storage they can be seeded with --client id:secret:limit[:scopes].`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd.ErrOrStderr(), global)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runServe(ctx, cmd, logger, global.storage, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Addr, "addr", ":8080", "HTTP listen address")
	f.StringVar(&opts.Issuer, "issuer", "", "Public base URL; enables HSTS when https")
	f.StringVar(&opts.TokenParam, "token-param", gateway.DefaultTokenParam, "Form/query field carrying the access token")
	f.BoolVar(&opts.HeadersOnly, "http-headers-only", false, "Only accept access tokens from the Authorization header")
	f.BoolVar(&opts.AuditLogging, "audit-logging", true, "Emit security audit events")
	f.StringVar(&opts.TokenInfoScope, "tokeninfo-scope", "", "Scopes required by /oauth/tokeninfo (space separated)")
	f.StringArrayVar(&opts.BootstrapClient, "client", nil, "Client to create at startup as id:secret:limit[:scopes] (repeatable)")

	f.Float64Var(&opts.AnonymousRate, "anonymous-rate", 0, "Requests per second allowed per IP for unidentified callers (0 disables)")
	f.IntVar(&opts.AnonymousBurst, "anonymous-burst", 20, "Burst size for unidentified callers")
	f.BoolVar(&opts.TrustProxy, "trust-proxy", false, "Trust X-Forwarded-For when resolving client IPs")
	f.IntVar(&opts.TrustedProxyCount, "trusted-proxy-count", 1, "Number of trusted proxies in front of the gateway")

	f.StringVar(&opts.Validator, "validator", ValidatorSession, "Access token validator: session or jwt")
	f.StringVar(&opts.JWTSecret, "jwt-secret", "", "HMAC secret for HS256 access tokens (jwt validator)")
	f.StringVar(&opts.JWTPublicKeyFile, "jwt-public-key-file", "", "PEM public key (RSA, ECDSA or Ed25519) for JWT access tokens")
	f.StringVar(&opts.JWTIssuer, "jwt-issuer", "", "Expected JWT issuer")
	f.StringVar(&opts.JWTAudience, "jwt-audience", "", "Expected JWT audience")

	f.StringVar(&opts.UpstreamTokenURL, "upstream-token-url", "", "Upstream token endpoint (required)")
	f.StringVar(&opts.UpstreamClientID, "upstream-client-id", "", "Client ID presented upstream (defaults to the caller's)")
	f.StringVar(&opts.UpstreamClientSecret, "upstream-client-secret", "", "Client secret presented upstream")
	f.StringVar(&opts.UpstreamAuthStyle, "upstream-auth-style", "auto", "How credentials are sent upstream: auto, header or params")

	f.BoolVar(&opts.MetricsEnabled, "metrics-enabled", true, "Enable OpenTelemetry instrumentation")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", ":9090", "Prometheus metrics listen address (empty disables)")
	f.StringVar(&opts.MetricsExporter, "metrics-exporter", instrumentation.ExporterPrometheus, "Metrics exporter: prometheus, otlp or stdout")
	f.StringVar(&opts.TracingExporter, "tracing-exporter", instrumentation.ExporterNone, "Tracing exporter: none, otlp or stdout")
	f.StringVar(&opts.OTLPEndpoint, "otlp-endpoint", "", "OTLP HTTP collector host:port")
	f.BoolVar(&opts.OTLPInsecure, "otlp-insecure", false, "Disable TLS towards the OTLP collector")
	f.Float64Var(&opts.TraceSamplingRate, "trace-sampling-rate", 1.0, "Fraction of traces sampled")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, logger *slog.Logger, storageOpts storageOptions, opts *serveOptions) error {
	inst, err := instrumentation.New(instrumentation.Config{
		ServiceVersion:    version,
		Enabled:           opts.MetricsEnabled,
		MetricsExporter:   opts.MetricsExporter,
		TracingExporter:   opts.TracingExporter,
		OTLPEndpoint:      opts.OTLPEndpoint,
		OTLPInsecure:      opts.OTLPInsecure,
		TraceSamplingRate: opts.TraceSamplingRate,
	})
	if err != nil {
		return fmt.Errorf("failed to create instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := openStore(ctx, storageOpts, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	store.SetInstrumentation(inst)

	for _, spec := range opts.BootstrapClient {
		client, secret, err := parseClientSpec(spec)
		if err != nil {
			return err
		}
		if err := saveClient(ctx, store, client, secret); err != nil {
			return fmt.Errorf("failed to create client %s: %w", client.ClientID, err)
		}
		logger.Info("Created client", "client_id", client.ClientID, "request_limit", client.RequestLimit)
	}

	gw, err := newGateway(store, logger, opts, headersOnlyFlag(cmd, opts))
	if err != nil {
		return err
	}
	defer gw.Close()
	gw.SetInstrumentation(inst)

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           newRouter(gw, opts.TokenInfoScope),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var metricsSrv *http.Server
	if h := inst.MetricsHandler(); h != nil && opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", h)
		metricsSrv = &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("Gateway listening", "addr", opts.Addr, "storage", storageOpts.Type, "validator", opts.Validator)
		errCh <- srv.ListenAndServe()
	}()
	if metricsSrv != nil {
		go func() {
			logger.Info("Metrics server listening", "addr", opts.MetricsAddr)
			errCh <- metricsSrv.ListenAndServe()
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping HTTP server")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down HTTP server: %w", err)
	}
	logger.Info("HTTP server gracefully stopped")
	return nil
}

// headersOnlyFlag is nil unless the flag or its env variable was given,
// leaving the gateway default in place.
func headersOnlyFlag(cmd *cobra.Command, opts *serveOptions) *bool {
	if !cmd.Flags().Changed("http-headers-only") {
		return nil
	}
	v := opts.HeadersOnly
	return &v
}

func newGateway(store storage.Store, logger *slog.Logger, opts *serveOptions, headersOnly *bool) (*gateway.Gateway, error) {
	authStyle, err := parseAuthStyle(opts.UpstreamAuthStyle)
	if err != nil {
		return nil, err
	}

	engine, err := upstream.New(upstream.Config{
		TokenURL:     opts.UpstreamTokenURL,
		ClientID:     opts.UpstreamClientID,
		ClientSecret: opts.UpstreamClientSecret,
		AuthStyle:    authStyle,
		Logger:       logger,
	}, store)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream configuration: %w", err)
	}

	v, err := newValidator(store, logger, opts)
	if err != nil {
		return nil, err
	}

	return gateway.New(engine, store, v, &gateway.Config{
		Issuer:             opts.Issuer,
		TokenParam:         opts.TokenParam,
		HTTPHeadersOnly:    headersOnly,
		EnableAuditLogging: opts.AuditLogging,
		RateLimit: gateway.RateLimitConfig{
			AnonymousRate:     opts.AnonymousRate,
			AnonymousBurst:    opts.AnonymousBurst,
			TrustProxy:        opts.TrustProxy,
			TrustedProxyCount: opts.TrustedProxyCount,
		},
	}, logger)
}

func newValidator(sessions storage.SessionStore, logger *slog.Logger, opts *serveOptions) (gateway.ResourceValidator, error) {
	switch opts.Validator {
	case ValidatorSession, "":
		return validator.NewSessionValidator(sessions, opts.TokenParam, logger), nil

	case ValidatorJWT:
		key, err := jwtKey(opts)
		if err != nil {
			return nil, err
		}
		return validator.NewJWTValidator(validator.JWTConfig{
			Key:        key,
			Issuer:     opts.JWTIssuer,
			Audience:   opts.JWTAudience,
			TokenParam: opts.TokenParam,
			Logger:     logger,
		})

	default:
		return nil, fmt.Errorf("unknown validator %q (want session or jwt)", opts.Validator)
	}
}

func jwtKey(opts *serveOptions) (any, error) {
	switch {
	case opts.JWTSecret != "" && opts.JWTPublicKeyFile != "":
		return nil, errors.New("--jwt-secret and --jwt-public-key-file are mutually exclusive")
	case opts.JWTSecret != "":
		return []byte(opts.JWTSecret), nil
	case opts.JWTPublicKeyFile == "":
		return nil, errors.New("jwt validator requires --jwt-secret or --jwt-public-key-file")
	}

	pem, err := os.ReadFile(opts.JWTPublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT public key: %w", err)
	}
	return parsePublicKey(pem)
}

// parsePublicKey accepts RSA, ECDSA and Ed25519 PEM public keys.
func parsePublicKey(pem []byte) (any, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(pem); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(pem); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseEdPublicKeyFromPEM(pem); err == nil {
		return key, nil
	}
	return nil, errors.New("unsupported or malformed JWT public key")
}

func parseAuthStyle(s string) (oauth2.AuthStyle, error) {
	switch s {
	case "auto", "":
		return oauth2.AuthStyleAutoDetect, nil
	case "header":
		return oauth2.AuthStyleInHeader, nil
	case "params":
		return oauth2.AuthStyleInParams, nil
	default:
		return 0, fmt.Errorf("unknown upstream auth style %q (want auto, header or params)", s)
	}
}

func newRouter(gw *gateway.Gateway, tokenInfoScope string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", gw.ServeToken)
	mux.Handle("GET /oauth/tokeninfo", gw.Protect(tokenInfoScope, http.HandlerFunc(gw.ServeTokenInfo)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return security.RequestIDMiddleware(mux)
}
