package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"golang.org/x/oauth2"

	gateway "github.com/giantswarm/oauth-gateway"
	"github.com/giantswarm/oauth-gateway/internal/testutil"
	"github.com/giantswarm/oauth-gateway/storage"
	"github.com/giantswarm/oauth-gateway/storage/mock"
)

// recordedRequests collects the forms received by the test upstream
type recordedRequests struct {
	mu    sync.Mutex
	forms []url.Values
}

func (r *recordedRequests) add(form url.Values) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forms = append(r.forms, form)
}

func (r *recordedRequests) first() url.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.forms) == 0 {
		return url.Values{}
	}
	return r.forms[0]
}

func (r *recordedRequests) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forms)
}

// newTokenServer returns an upstream token endpoint accepting the grants the
// engine forwards. Requests with code "expired" are rejected.
func newTokenServer(t *testing.T) (*httptest.Server, *recordedRequests) {
	t.Helper()

	requests := &recordedRequests{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("upstream failed to parse form: %v", err)
		}
		requests.add(r.PostForm)

		w.Header().Set("Content-Type", "application/json")
		writeErr := func(status int, code, desc string) {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": desc})
		}

		switch {
		case r.PostForm.Get("client_secret") == "wrong":
			w.Header().Set("WWW-Authenticate", `Basic realm="upstream"`)
			writeErr(http.StatusUnauthorized, "invalid_client", "Client authentication failed")
			return
		case r.PostForm.Get("code") == "expired":
			writeErr(http.StatusBadRequest, "invalid_grant", "Authorization code expired")
			return
		case r.PostForm.Get("code") == "odd":
			writeErr(http.StatusBadRequest, "interaction_required", "Login needed")
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "upstream-" + r.PostForm.Get("grant_type"),
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "refresh-123",
			"scope":         "read write",
			"id_token":      "id.token.value",
		})
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func newTestEngine(t *testing.T) (*Engine, *testutil.CountingStore, *recordedRequests) {
	t.Helper()

	srv, requests := newTokenServer(t)
	store := testutil.NewCountingStore(testutil.NewMemoryStore(t))

	engine, err := New(Config{
		TokenURL:   srv.URL + "/token",
		AuthStyle:  oauth2.AuthStyleInParams,
		HTTPClient: srv.Client(),
	}, store)
	testutil.AssertNoError(t, err)
	return engine, store, requests
}

func TestNew_Validation(t *testing.T) {
	store := testutil.NewMemoryStore(t)

	if _, err := New(Config{}, store); err == nil {
		t.Error("expected error without token URL")
	}
	if _, err := New(Config{TokenURL: "not a url"}, store); err == nil {
		t.Error("expected error for invalid token URL")
	}
	if _, err := New(Config{TokenURL: "https://idp.example.com/token"}, nil); err == nil {
		t.Error("expected error without session store")
	}
}

func TestIssueAccessToken_Grants(t *testing.T) {
	tests := []struct {
		name  string
		input url.Values
	}{
		{
			name: "authorization code with PKCE",
			input: url.Values{
				"grant_type":    {GrantAuthorizationCode},
				"code":          {"abc"},
				"code_verifier": {"verifier-123"},
				"redirect_uri":  {"https://app.example.com/cb"},
			},
		},
		{name: "client credentials", input: url.Values{"grant_type": {GrantClientCredentials}, "scope": {"read"}}},
		{name: "refresh token", input: url.Values{"grant_type": {GrantRefreshToken}, "refresh_token": {"refresh-123"}}},
		{name: "password", input: url.Values{"grant_type": {GrantPassword}, "username": {"jane"}, "password": {"pw"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, store, requests := newTestEngine(t)
			tt.input.Set("client_id", "client-a")
			tt.input.Set("client_secret", "secret")

			resp, err := engine.IssueAccessToken(context.Background(), tt.input)
			testutil.AssertNoError(t, err)

			grantType := tt.input.Get("grant_type")
			testutil.AssertEqual(t, resp.AccessToken, "upstream-"+grantType)
			testutil.AssertEqual(t, resp.TokenType, "Bearer")
			testutil.AssertEqual(t, resp.RefreshToken, "refresh-123")
			testutil.AssertEqual(t, resp.Scope, "read write")
			testutil.AssertEqual(t, resp.IDToken, "id.token.value")
			if resp.ExpiresIn <= 3500 || resp.ExpiresIn > 3600 {
				t.Errorf("ExpiresIn = %d, want about 3600", resp.ExpiresIn)
			}

			sent := requests.first()
			testutil.AssertEqual(t, sent.Get("grant_type"), grantType)
			testutil.AssertEqual(t, sent.Get("client_id"), "client-a")
			if grantType == GrantAuthorizationCode {
				testutil.AssertEqual(t, sent.Get("code_verifier"), "verifier-123")
			}

			session, err := store.FindSessionByToken(context.Background(), resp.AccessToken)
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, session.ClientID, "client-a")
			if len(session.Scopes) != 2 {
				t.Errorf("session scopes = %v", session.Scopes)
			}
		})
	}
}

func TestIssueAccessToken_ConfiguredCredentials(t *testing.T) {
	srv, requests := newTokenServer(t)
	engine, err := New(Config{
		TokenURL:     srv.URL,
		ClientID:     "gateway",
		ClientSecret: "gateway-secret",
		AuthStyle:    oauth2.AuthStyleInParams,
		HTTPClient:   srv.Client(),
	}, testutil.NewMemoryStore(t))
	testutil.AssertNoError(t, err)

	ctx := gateway.ContextWithClient(context.Background(), &gateway.Client{ID: "client-a"})
	_, err = engine.IssueAccessToken(ctx, url.Values{"grant_type": {GrantClientCredentials}, "client_id": {"client-a"}})
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, requests.first().Get("client_id"), "gateway")
	testutil.AssertEqual(t, requests.first().Get("client_secret"), "gateway-secret")
}

func TestIssueAccessToken_SessionBoundToIdentifiedClient(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	ctx := gateway.ContextWithClient(context.Background(), &gateway.Client{ID: "identified"})
	resp, err := engine.IssueAccessToken(ctx, url.Values{"grant_type": {GrantClientCredentials}, "client_id": {"claimed"}})
	testutil.AssertNoError(t, err)

	session, err := store.FindSessionByToken(context.Background(), resp.AccessToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, session.ClientID, "identified")
}

func TestIssueAccessToken_RequestErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    url.Values
		wantCode gateway.ErrorCode
	}{
		{name: "missing grant type", input: url.Values{}, wantCode: gateway.CodeInvalidRequest},
		{name: "unknown grant type", input: url.Values{"grant_type": {"device_code"}}, wantCode: gateway.CodeUnsupportedGrantType},
		{name: "missing code", input: url.Values{"grant_type": {GrantAuthorizationCode}}, wantCode: gateway.CodeInvalidRequest},
		{name: "missing refresh token", input: url.Values{"grant_type": {GrantRefreshToken}}, wantCode: gateway.CodeInvalidRequest},
		{name: "missing username", input: url.Values{"grant_type": {GrantPassword}}, wantCode: gateway.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _, requests := newTestEngine(t)

			_, err := engine.IssueAccessToken(context.Background(), tt.input)
			var protoErr *gateway.ProtocolError
			if !errors.As(err, &protoErr) {
				t.Fatalf("error = %v, want *gateway.ProtocolError", err)
			}
			testutil.AssertEqual(t, protoErr.Code, tt.wantCode)
			if requests.len() != 0 {
				t.Error("invalid requests must not reach the upstream")
			}
		})
	}
}

func TestIssueAccessToken_UpstreamErrors(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	_, err := engine.IssueAccessToken(context.Background(), url.Values{
		"grant_type": {GrantAuthorizationCode},
		"code":       {"expired"},
	})
	gwErr := gateway.Translate(err)
	testutil.AssertEqual(t, gwErr.Code, gateway.CodeInvalidGrant)
	testutil.AssertEqual(t, gwErr.Status, http.StatusBadRequest)
	testutil.AssertEqual(t, gwErr.Description, "Authorization code expired")

	_, err = engine.IssueAccessToken(context.Background(), url.Values{
		"grant_type":    {GrantClientCredentials},
		"client_id":     {"client-a"},
		"client_secret": {"wrong"},
	})
	gwErr = gateway.Translate(err)
	testutil.AssertEqual(t, gwErr.Code, gateway.CodeInvalidClient)
	testutil.AssertEqual(t, gwErr.Status, http.StatusUnauthorized)
	testutil.AssertEqual(t, gwErr.Headers.Get("WWW-Authenticate"), `Basic realm="upstream"`)

	_, err = engine.IssueAccessToken(context.Background(), url.Values{
		"grant_type": {GrantAuthorizationCode},
		"code":       {"odd"},
	})
	gwErr = gateway.Translate(err)
	testutil.AssertEqual(t, gwErr.Code, gateway.CodeUndefined)
	testutil.AssertEqual(t, gwErr.Status, http.StatusInternalServerError)

	if got := store.Calls("SaveSession"); got != 0 {
		t.Errorf("SaveSession calls = %d, want 0", got)
	}
}

func TestIssueAccessToken_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	engine, err := New(Config{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams}, testutil.NewMemoryStore(t))
	testutil.AssertNoError(t, err)

	_, err = engine.IssueAccessToken(context.Background(), url.Values{"grant_type": {GrantClientCredentials}})
	gwErr := gateway.Translate(err)
	testutil.AssertEqual(t, gwErr.Code, gateway.CodeUndefined)
}

func TestIssueAccessToken_SessionFailure(t *testing.T) {
	srv, _ := newTokenServer(t)
	store := mock.NewMockStore()
	t.Cleanup(store.Stop)
	store.SaveSessionFunc = func(context.Context, *storage.Session) error {
		return errors.New("disk full")
	}
	engine, err := New(Config{
		TokenURL:   srv.URL,
		AuthStyle:  oauth2.AuthStyleInParams,
		HTTPClient: srv.Client(),
	}, store)
	testutil.AssertNoError(t, err)

	_, err = engine.IssueAccessToken(context.Background(), url.Values{"grant_type": {GrantClientCredentials}})
	if err == nil {
		t.Fatal("expected error when the session cannot be recorded")
	}
	if got := store.Calls("SaveSession"); got != 1 {
		t.Errorf("SaveSession calls = %d, want 1", got)
	}
}
