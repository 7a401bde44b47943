// Package memory provides an in-memory implementation of the storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/oauth-gateway/instrumentation"
	"github.com/giantswarm/oauth-gateway/internal/util"
	"github.com/giantswarm/oauth-gateway/security"
	"github.com/giantswarm/oauth-gateway/storage"
)

const (
	// storageType labels metrics and spans emitted by this store
	storageType = "memory"

	// tokenIDLogLength is the number of characters to include when logging tokens
	tokenIDLogLength = 8
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	clients  map[string]*storage.Client
	sessions map[string]*storage.Session // access token -> session

	observer *storage.Observer

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
	now             func() time.Time
}

// Compile-time interface checks
var (
	_ storage.ClientStore  = (*Store)(nil)
	_ storage.SessionStore = (*Store)(nil)
	_ storage.QuotaStore   = (*Store)(nil)
	_ storage.Store        = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom session cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		sessions:        make(map[string]*storage.Session),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
		now:             time.Now,
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = storage.NewObserver(storageType, inst)
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a client registration, replacing any existing one
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	_, done := s.startOperation(ctx, "save_client")

	if client == nil || client.ClientID == "" {
		err := fmt.Errorf("invalid client")
		done(err)
		return err
	}

	cp := client.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}

	s.mu.Lock()
	s.clients[cp.ClientID] = cp
	s.mu.Unlock()

	s.logger.Debug("Saved client", "client_id", cp.ClientID)
	done(nil)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	_, done := s.startOperation(ctx, "get_client")

	s.mu.RLock()
	client, ok := s.clients[clientID]
	if ok {
		client = client.Clone()
	}
	s.mu.RUnlock()

	if !ok {
		done(storage.ErrClientNotFound)
		return nil, storage.ErrClientNotFound
	}

	done(nil)
	return client, nil
}

// FindClient retrieves a client by ID and matches the optional secret and redirect URI
func (s *Store) FindClient(ctx context.Context, clientID, secret, redirectURI string) (*storage.Client, error) {
	_, done := s.startOperation(ctx, "find_client")

	s.mu.RLock()
	client := s.clients[clientID]
	if client != nil {
		client = client.Clone()
	}
	s.mu.RUnlock()

	// bcrypt runs outside the lock
	if err := storage.MatchClient(client, secret, redirectURI); err != nil {
		done(err)
		return nil, err
	}

	done(nil)
	return client, nil
}

// ============================================================
// SessionStore Implementation
// ============================================================

// SaveSession stores a session keyed by its access token
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) error {
	_, done := s.startOperation(ctx, "save_session")

	if session == nil || session.AccessToken == "" {
		err := fmt.Errorf("invalid session")
		done(err)
		return err
	}

	cp := *session
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}

	s.mu.Lock()
	s.sessions[cp.AccessToken] = &cp
	s.mu.Unlock()

	s.logger.Debug("Saved session",
		"client_id", cp.ClientID,
		"token_prefix", util.SafeTruncate(cp.AccessToken, tokenIDLogLength))
	done(nil)
	return nil
}

// FindSessionByToken returns the session bound to an access token
func (s *Store) FindSessionByToken(ctx context.Context, accessToken string) (*storage.Session, error) {
	_, done := s.startOperation(ctx, "find_session")

	s.mu.RLock()
	session, ok := s.sessions[accessToken]
	s.mu.RUnlock()

	var err error
	switch {
	case !ok:
		err = storage.ErrSessionNotFound
	case session.Expired(s.now()):
		err = storage.ErrSessionExpired
	}
	done(err)
	if err != nil {
		return nil, err
	}

	cp := *session
	return &cp, nil
}

// DeleteSession removes the session bound to an access token
func (s *Store) DeleteSession(ctx context.Context, accessToken string) error {
	s.mu.Lock()
	delete(s.sessions, accessToken)
	s.mu.Unlock()
	return nil
}

// ============================================================
// QuotaStore Implementation
// ============================================================

// ConsumeQuota applies one request to the client's quota window under the
// store lock, so concurrent requests for a client are serialized.
func (s *Store) ConsumeQuota(ctx context.Context, clientID string, now time.Time) (storage.QuotaState, bool, error) {
	_, done := s.startOperation(ctx, "consume_quota")

	s.mu.Lock()
	client, ok := s.clients[clientID]
	if !ok {
		s.mu.Unlock()
		done(storage.ErrClientNotFound)
		return storage.QuotaState{}, false, storage.ErrClientNotFound
	}

	next, limited := security.ConsumeQuota(client.Quota(), now)
	if !limited {
		client.SetQuota(next)
	}
	s.mu.Unlock()

	done(nil)
	return next, limited, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes expired sessions
func (s *Store) cleanup() {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for token, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("Removed expired sessions", "count", removed)
	}
}

// startOperation starts telemetry for a storage operation
func (s *Store) startOperation(ctx context.Context, operation string) (context.Context, func(error)) {
	s.mu.RLock()
	observer := s.observer
	s.mu.RUnlock()
	return observer.Start(ctx, operation)
}
