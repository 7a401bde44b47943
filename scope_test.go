package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/giantswarm/oauth-gateway/internal/testutil"
	"github.com/giantswarm/oauth-gateway/storage"
)

// sessionValidator validates tokens against a session store
type sessionValidator struct {
	sessions storage.SessionStore
}

func (v *sessionValidator) ValidateAccessToken(ctx context.Context, r *http.Request, headerOnly bool) (*AccessToken, error) {
	raw, ok := ExtractAccessToken(r, DefaultTokenParam, headerOnly)
	if !ok {
		return nil, errors.New("The access token is missing")
	}
	session, err := v.sessions.FindSessionByToken(ctx, raw)
	if err != nil {
		return nil, errors.New("The access token provided is invalid")
	}
	return &AccessToken{
		Token:     raw,
		ClientID:  session.ClientID,
		UserID:    session.UserID,
		Scopes:    session.Scopes,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (v *sessionValidator) HasScope(token *AccessToken, scope string) bool {
	return token.HasScope(scope)
}

func TestExtractAccessToken(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		query      string
		headerOnly bool
		want       string
		wantOK     bool
	}{
		{name: "bearer header", header: "Bearer abc", want: "abc", wantOK: true},
		{name: "lowercase scheme", header: "bearer abc", want: "abc", wantOK: true},
		{name: "query param", query: "?access_token=xyz", want: "xyz", wantOK: true},
		{name: "header wins", header: "Bearer abc", query: "?access_token=xyz", want: "abc", wantOK: true},
		{name: "header only ignores query", query: "?access_token=xyz", headerOnly: true},
		{name: "basic header falls back to param", header: "Basic Zm9vOmJhcg==", query: "?access_token=xyz", want: "xyz", wantOK: true},
		{name: "empty bearer", header: "Bearer  "},
		{name: "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/resource"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, ok := ExtractAccessToken(r, DefaultTokenParam, tt.headerOnly)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ExtractAccessToken() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestScopeGuard_Validate(t *testing.T) {
	store := testutil.NewMemoryStore(t)
	session := testutil.GenerateTestSession("client-a", "read", "profile")
	testutil.AssertNoError(t, store.SaveSession(context.Background(), session))

	guard := NewScopeGuard(&sessionValidator{sessions: store}, false)

	tests := []struct {
		name     string
		token    string
		scopes   string
		wantErr  bool
		wantDesc string
	}{
		{name: "valid token no scopes", token: session.AccessToken},
		{name: "valid token with scopes", token: session.AccessToken, scopes: "read,profile"},
		{name: "invalid token", token: "bogus", wantErr: true, wantDesc: "The access token provided is invalid"},
		{
			name:     "missing scope",
			token:    session.AccessToken,
			scopes:   "write",
			wantErr:  true,
			wantDesc: "Only access token with scope `write` can use this endpoint",
		},
		{
			name:     "first missing scope reported",
			token:    session.AccessToken,
			scopes:   "read, admin, write",
			wantErr:  true,
			wantDesc: "Only access token with scope `admin` can use this endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/resource", nil)
			r.Header.Set("Authorization", "Bearer "+tt.token)

			token, gwErr := guard.Validate(context.Background(), r, tt.scopes)
			if !tt.wantErr {
				if gwErr != nil {
					t.Fatalf("unexpected error: %v", gwErr)
				}
				testutil.AssertEqual(t, token.ClientID, "client-a")
				return
			}

			if gwErr == nil {
				t.Fatal("expected forbidden error")
			}
			testutil.AssertEqual(t, gwErr.Status, http.StatusForbidden)
			testutil.AssertEqual(t, gwErr.Code, CodeForbidden)
			testutil.AssertEqual(t, gwErr.Description, tt.wantDesc)
		})
	}
}

func TestScopeGuard_HeaderOnly(t *testing.T) {
	store := testutil.NewMemoryStore(t)
	session := testutil.GenerateTestSession("client-a", "read")
	testutil.AssertNoError(t, store.SaveSession(context.Background(), session))

	guard := NewScopeGuard(&sessionValidator{sessions: store}, true)
	r := httptest.NewRequest(http.MethodGet, "/resource?access_token="+session.AccessToken, nil)

	_, gwErr := guard.Validate(context.Background(), r, "")
	if gwErr == nil {
		t.Fatal("query token must be rejected in header-only mode")
	}
	if !strings.Contains(gwErr.Description, "missing") {
		t.Errorf("Description = %q", gwErr.Description)
	}
}
