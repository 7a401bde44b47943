package testutil

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-gateway/storage"
	"github.com/giantswarm/oauth-gateway/storage/memory"
)

// TestClientSecret is the secret of clients created by GenerateTestClient
const TestClientSecret = "test-secret"

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GenerateTestClient creates a confidential client with secret
// TestClientSecret and the given hourly request limit.
func GenerateTestClient(t *testing.T, clientID string, limit int64) *storage.Client {
	t.Helper()

	// minimum cost keeps tests fast; production hashes use storage.HashSecret
	hash, err := bcrypt.GenerateFromPassword([]byte(TestClientSecret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash test secret: %v", err)
	}

	return &storage.Client{
		ClientID:         clientID,
		ClientSecretHash: string(hash),
		ClientType:       storage.ClientTypeConfidential,
		ClientName:       "Test Client",
		RedirectURIs:     []string{"https://example.com/callback"},
		Scopes:           []string{"read", "write"},
		RequestLimit:     limit,
		CreatedAt:        time.Now(),
	}
}

// GenerateTestSession creates a session for clientID expiring in an hour
func GenerateTestSession(clientID string, scopes ...string) *storage.Session {
	return &storage.Session{
		AccessToken: GenerateRandomString(32),
		ClientID:    clientID,
		UserID:      "test-user-123",
		Scopes:      scopes,
		ExpiresAt:   time.Now().Add(time.Hour),
		CreatedAt:   time.Now(),
	}
}

// NewMemoryStore returns an in-memory store that is stopped when the test ends
func NewMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)
	return store
}

// CountingStore wraps a store and counts calls per method
type CountingStore struct {
	storage.Store

	mu    sync.Mutex
	calls map[string]int
}

// NewCountingStore wraps store
func NewCountingStore(store storage.Store) *CountingStore {
	return &CountingStore{Store: store, calls: make(map[string]int)}
}

// Calls returns how often method was called
func (s *CountingStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *CountingStore) count(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
}

// FindClient counts and delegates
func (s *CountingStore) FindClient(ctx context.Context, clientID, secret, redirectURI string) (*storage.Client, error) {
	s.count("FindClient")
	return s.Store.FindClient(ctx, clientID, secret, redirectURI)
}

// SaveSession counts and delegates
func (s *CountingStore) SaveSession(ctx context.Context, session *storage.Session) error {
	s.count("SaveSession")
	return s.Store.SaveSession(ctx, session)
}

// FindSessionByToken counts and delegates
func (s *CountingStore) FindSessionByToken(ctx context.Context, accessToken string) (*storage.Session, error) {
	s.count("FindSessionByToken")
	return s.Store.FindSessionByToken(ctx, accessToken)
}

// ConsumeQuota counts and delegates
func (s *CountingStore) ConsumeQuota(ctx context.Context, clientID string, now time.Time) (storage.QuotaState, bool, error) {
	s.count("ConsumeQuota")
	return s.Store.ConsumeQuota(ctx, clientID, now)
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertStringContains fails the test if s does not contain substr
func AssertStringContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("string %q does not contain %q", s, substr)
	}
}

// AssertTimeEqual asserts two times are equal within a tolerance
func AssertTimeEqual(t *testing.T, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("time mismatch: got %v, want %v (tolerance: %v, diff: %v)", got, want, tolerance, diff)
	}
}

// HTTPRequest is a helper for making test HTTP requests
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Form    url.Values
}

// NewHTTPRequest creates a new HTTP request helper
func NewHTTPRequest(method, url string) *HTTPRequest {
	return &HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.Headers[key] = value
	return r
}

// WithBearer sets a bearer Authorization header
func (r *HTTPRequest) WithBearer(token string) *HTTPRequest {
	return r.WithHeader("Authorization", "Bearer "+token)
}

// WithForm sets a form-encoded request body
func (r *HTTPRequest) WithForm(form url.Values) *HTTPRequest {
	r.Form = form
	return r
}

// Do executes the HTTP request
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	var req *http.Request
	if r.Form != nil {
		req = httptest.NewRequest(r.Method, r.URL, strings.NewReader(r.Form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(r.Method, r.URL, nil)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
