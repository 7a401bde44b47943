package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	gateway "github.com/giantswarm/oauth-gateway"
	"github.com/giantswarm/oauth-gateway/storage"
	"github.com/giantswarm/oauth-gateway/storage/memory"
	"github.com/giantswarm/oauth-gateway/storage/sqlite"
	"github.com/giantswarm/oauth-gateway/validator"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApplyEnv(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	valkeyURL := flags.String("valkey-url", "", "")
	db := flags.Int("valkey-db", 0, "")
	addr := flags.String("addr", ":8080", "")
	require.NoError(t, flags.Parse([]string{"--addr", ":9999"}))

	t.Setenv("OAUTH_GATEWAY_VALKEY_URL", "valkey:6379")
	t.Setenv("OAUTH_GATEWAY_VALKEY_DB", "3")
	t.Setenv("OAUTH_GATEWAY_ADDR", ":1111")

	require.NoError(t, applyEnv(flags))
	assert.Equal(t, "valkey:6379", *valkeyURL)
	assert.Equal(t, 3, *db)
	assert.Equal(t, ":9999", *addr, "explicit flag wins over environment")
	assert.True(t, flags.Changed("valkey-url"))
}

func TestApplyEnv_Invalid(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("valkey-db", 0, "")
	t.Setenv("OAUTH_GATEWAY_VALKEY_DB", "three")

	err := applyEnv(flags)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OAUTH_GATEWAY_VALKEY_DB")
}

func TestParseClientSpec(t *testing.T) {
	tests := []struct {
		name       string
		spec       string
		wantID     string
		wantSecret string
		wantLimit  int64
		wantType   string
		wantScopes []string
		wantErr    bool
	}{
		{name: "confidential", spec: "svc:s3cret:100", wantID: "svc", wantSecret: "s3cret", wantLimit: 100, wantType: storage.ClientTypeConfidential},
		{name: "public with scopes", spec: "app::10:read,write", wantID: "app", wantLimit: 10, wantType: storage.ClientTypePublic, wantScopes: []string{"read", "write"}},
		{name: "scopes after limit", spec: "svc:a:5:read", wantID: "svc", wantSecret: "a", wantLimit: 5, wantType: storage.ClientTypeConfidential, wantScopes: []string{"read"}},
		{name: "missing limit", spec: "svc:secret", wantErr: true},
		{name: "empty id", spec: ":secret:1", wantErr: true},
		{name: "negative limit", spec: "svc:secret:-1", wantErr: true},
		{name: "non-numeric limit", spec: "svc:secret:lots", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, secret, err := parseClientSpec(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, client.ClientID)
			assert.Equal(t, tt.wantSecret, secret)
			assert.Equal(t, tt.wantLimit, client.RequestLimit)
			assert.Equal(t, tt.wantType, client.ClientType)
			assert.Equal(t, tt.wantScopes, client.Scopes)
		})
	}
}

func TestParseAuthStyle(t *testing.T) {
	for in, want := range map[string]oauth2.AuthStyle{
		"":       oauth2.AuthStyleAutoDetect,
		"auto":   oauth2.AuthStyleAutoDetect,
		"header": oauth2.AuthStyleInHeader,
		"params": oauth2.AuthStyleInParams,
	} {
		got, err := parseAuthStyle(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}

	_, err := parseAuthStyle("basic")
	assert.Error(t, err)
}

func TestNewValidator(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	v, err := newValidator(store, discardLogger(), &serveOptions{Validator: ValidatorSession})
	require.NoError(t, err)
	assert.IsType(t, &validator.SessionValidator{}, v)

	v, err = newValidator(store, discardLogger(), &serveOptions{Validator: ValidatorJWT, JWTSecret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)
	assert.IsType(t, &validator.JWTValidator{}, v)

	_, err = newValidator(store, discardLogger(), &serveOptions{Validator: ValidatorJWT})
	assert.Error(t, err, "jwt without key")

	_, err = newValidator(store, discardLogger(), &serveOptions{Validator: ValidatorJWT, JWTSecret: "x", JWTPublicKeyFile: "key.pem"})
	assert.Error(t, err, "secret and key file together")

	_, err = newValidator(store, discardLogger(), &serveOptions{Validator: "opaque"})
	assert.Error(t, err)
}

func TestOpenStore_Unknown(t *testing.T) {
	_, _, err := openStore(context.Background(), storageOptions{Type: "etcd"}, discardLogger())
	assert.Error(t, err)

	_, _, err = openStore(context.Background(), storageOptions{Type: StorageTypeValkey}, discardLogger())
	assert.Error(t, err, "valkey without url")
}

func TestVersionCmd(t *testing.T) {
	SetVersion("1.2.3")
	t.Cleanup(func() { SetVersion("dev") })

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "oauth-gateway version 1.2.3\n", out.String())
}

func TestClientCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.db")

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{
		"client", "create", "reporting",
		"--storage-type", "sqlite",
		"--sqlite-path", path,
		"--secret", "s3cret",
		"--scopes", "read write",
		"--limit", "250",
	})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "client reporting saved")

	ctx := context.Background()
	store, err := sqlite.New(ctx, sqlite.Config{Path: path, Logger: discardLogger()})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	client, err := store.FindClient(ctx, "reporting", "s3cret", "")
	require.NoError(t, err)
	assert.Equal(t, int64(250), client.RequestLimit)
	assert.Equal(t, []string{"read", "write"}, client.Scopes)
	assert.NotEqual(t, "s3cret", client.ClientSecretHash)
}

func TestClientCreate_RequiresPersistentStorage(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"client", "create", "reporting"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistent storage")
}

// newUpstream returns a token endpoint issuing the same token for every grant.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "upstream-token",
			"token_type":   "bearer",
			"expires_in":   3600,
			"scope":        "read",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRouter_EndToEnd(t *testing.T) {
	ctx := context.Background()
	upstreamSrv := newUpstream(t)

	store := memory.New()
	t.Cleanup(store.Stop)

	client, secret, err := parseClientSpec("svc:s3cret:2:read")
	require.NoError(t, err)
	client.RequestLimitUntil = time.Now().Add(time.Hour)
	require.NoError(t, saveClient(ctx, store, client, secret))

	gw, err := newGateway(store, discardLogger(), &serveOptions{
		TokenParam:        gateway.DefaultTokenParam,
		Validator:         ValidatorSession,
		UpstreamTokenURL:  upstreamSrv.URL,
		UpstreamAuthStyle: "params",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(gw.Close)

	router := newRouter(gw, "read")

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"svc"},
		"client_secret": {"s3cret"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2", rec.Header().Get(gateway.HeaderRateLimitLimit))
	assert.Equal(t, "1", rec.Header().Get(gateway.HeaderRateLimitRemaining))

	var token gateway.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))
	assert.Equal(t, "upstream-token", token.AccessToken)

	// The issued token identifies the client on the protected route and
	// consumes its last request of the hour.
	req = httptest.NewRequest(http.MethodGet, "/oauth/tokeninfo", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "0", rec.Header().Get(gateway.HeaderRateLimitRemaining))

	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "svc", info["client_id"])
	assert.Equal(t, "read", info["scope"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
