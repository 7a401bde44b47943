// Package mock provides a hookable storage.Store for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/oauth-gateway/storage"
	"github.com/giantswarm/oauth-gateway/storage/memory"
)

// MockStore is a storage.Store whose methods can be overridden per test.
// Every Func defaults to an in-memory backend, so tests only replace the
// operations they want to fail or observe.
type MockStore struct {
	mu      sync.Mutex
	backend *memory.Store

	SaveClientFunc         func(ctx context.Context, client *storage.Client) error
	GetClientFunc          func(ctx context.Context, clientID string) (*storage.Client, error)
	FindClientFunc         func(ctx context.Context, clientID, secret, redirectURI string) (*storage.Client, error)
	SaveSessionFunc        func(ctx context.Context, session *storage.Session) error
	FindSessionByTokenFunc func(ctx context.Context, accessToken string) (*storage.Session, error)
	DeleteSessionFunc      func(ctx context.Context, accessToken string) error
	ConsumeQuotaFunc       func(ctx context.Context, clientID string, now time.Time) (storage.QuotaState, bool, error)

	CallCounts map[string]int
}

// Compile-time interface check
var _ storage.Store = (*MockStore)(nil)

// NewMockStore creates a mock store backed by memory.Store.
// Call Stop when done to release the backend's cleanup goroutine.
func NewMockStore() *MockStore {
	backend := memory.New()
	return &MockStore{
		backend:                backend,
		SaveClientFunc:         backend.SaveClient,
		GetClientFunc:          backend.GetClient,
		FindClientFunc:         backend.FindClient,
		SaveSessionFunc:        backend.SaveSession,
		FindSessionByTokenFunc: backend.FindSessionByToken,
		DeleteSessionFunc:      backend.DeleteSession,
		ConsumeQuotaFunc:       backend.ConsumeQuota,
		CallCounts:             make(map[string]int),
	}
}

// Stop stops the in-memory backend.
func (m *MockStore) Stop() {
	m.backend.Stop()
}

// Calls returns how often method was invoked.
func (m *MockStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCounts[method]
}

func (m *MockStore) record(method string) {
	m.mu.Lock()
	m.CallCounts[method]++
	m.mu.Unlock()
}

// SaveClient saves a client
func (m *MockStore) SaveClient(ctx context.Context, client *storage.Client) error {
	m.record("SaveClient")
	return m.SaveClientFunc(ctx, client)
}

// GetClient retrieves a client by ID
func (m *MockStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.record("GetClient")
	return m.GetClientFunc(ctx, clientID)
}

// FindClient looks up a client by its credentials
func (m *MockStore) FindClient(ctx context.Context, clientID, secret, redirectURI string) (*storage.Client, error) {
	m.record("FindClient")
	return m.FindClientFunc(ctx, clientID, secret, redirectURI)
}

// SaveSession saves a session
func (m *MockStore) SaveSession(ctx context.Context, session *storage.Session) error {
	m.record("SaveSession")
	return m.SaveSessionFunc(ctx, session)
}

// FindSessionByToken retrieves a session by access token
func (m *MockStore) FindSessionByToken(ctx context.Context, accessToken string) (*storage.Session, error) {
	m.record("FindSessionByToken")
	return m.FindSessionByTokenFunc(ctx, accessToken)
}

// DeleteSession removes a session
func (m *MockStore) DeleteSession(ctx context.Context, accessToken string) error {
	m.record("DeleteSession")
	return m.DeleteSessionFunc(ctx, accessToken)
}

// ConsumeQuota applies one request to a client's quota
func (m *MockStore) ConsumeQuota(ctx context.Context, clientID string, now time.Time) (storage.QuotaState, bool, error) {
	m.record("ConsumeQuota")
	return m.ConsumeQuotaFunc(ctx, clientID, now)
}
