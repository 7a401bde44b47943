// Package sqlite provides a SQLite implementation of the storage interfaces,
// using the pure-Go modernc.org/sqlite driver and embedded migrations.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/giantswarm/oauth-gateway/instrumentation"
	"github.com/giantswarm/oauth-gateway/internal/util"
	"github.com/giantswarm/oauth-gateway/security"
	"github.com/giantswarm/oauth-gateway/storage"
)

const (
	storageType = "sqlite"

	// defaultBusyTimeout is how long a writer waits for the database lock
	defaultBusyTimeout = 5 * time.Second

	tokenIDLogLength = 8
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	// Path is the database file path (required unless DSN is set).
	Path string

	// DSN overrides the connection string built from Path.
	DSN string

	// BusyTimeout is how long a writer waits for a locked database (default 5s).
	BusyTimeout time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a SQLite-backed implementation of storage.Store.
type Store struct {
	db       *sql.DB
	logger   *slog.Logger
	observer *storage.Observer
}

// Compile-time interface checks
var (
	_ storage.ClientStore  = (*Store)(nil)
	_ storage.SessionStore = (*Store)(nil)
	_ storage.QuotaStore   = (*Store)(nil)
	_ storage.Store        = (*Store)(nil)
)

// New opens the database and applies pending migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dsn := cfg.DSN
	if dsn == "" {
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		busy := cfg.BusyTimeout
		if busy <= 0 {
			busy = defaultBusyTimeout
		}
		// IMMEDIATE transactions take the write lock up front, so quota
		// read-modify-write cycles cannot interleave.
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
			cfg.Path, busy.Milliseconds())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger.Info("Opened SQLite storage", "path", cfg.Path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
// It must be called before the store is used concurrently.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.observer = storage.NewObserver(storageType, inst)
}

// WithTx executes fn within a transaction, committing on success.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// ============================================================
// ClientStore Implementation
// ============================================================

const clientColumns = `client_id, client_secret_hash, client_type, client_name, redirect_uris, scopes,
	metadata, request_limit, current_total_request, request_limit_until, last_request_at, created_at`

// SaveClient creates or replaces a client registration
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.observer.Start(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	redirectURIs, err := marshalJSON(client.RedirectURIs, "[]")
	if err != nil {
		return err
	}
	scopes, err := marshalJSON(client.Scopes, "[]")
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(client.Metadata, "{}")
	if err != nil {
		return err
	}

	createdAt := client.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	clientType := client.ClientType
	if clientType == "" {
		clientType = storage.ClientTypeConfidential
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			client_secret_hash = excluded.client_secret_hash,
			client_type = excluded.client_type,
			client_name = excluded.client_name,
			redirect_uris = excluded.redirect_uris,
			scopes = excluded.scopes,
			metadata = excluded.metadata,
			request_limit = excluded.request_limit,
			current_total_request = excluded.current_total_request,
			request_limit_until = excluded.request_limit_until,
			last_request_at = excluded.last_request_at`,
		client.ClientID, client.ClientSecretHash, clientType, client.ClientName,
		redirectURIs, scopes, metadata,
		client.RequestLimit, client.CurrentTotalRequest,
		toUnix(client.RequestLimitUntil), toUnix(client.LastRequestAt), toUnix(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (client *storage.Client, err error) {
	ctx, done := s.observer.Start(ctx, "get_client")
	defer func() { done(err) }()

	return s.getClient(ctx, clientID)
}

// FindClient retrieves a client by ID and matches the optional secret and redirect URI
func (s *Store) FindClient(ctx context.Context, clientID, secret, redirectURI string) (client *storage.Client, err error) {
	ctx, done := s.observer.Start(ctx, "find_client")
	defer func() { done(err) }()

	client, err = s.getClient(ctx, clientID)
	if err != nil && !errors.Is(err, storage.ErrClientNotFound) {
		return nil, err
	}
	if err := storage.MatchClient(client, secret, redirectURI); err != nil {
		return nil, err
	}
	return client, nil
}

func (s *Store) getClient(ctx context.Context, clientID string) (*storage.Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE client_id = ?`, clientID)

	var (
		c                                  storage.Client
		redirectURIs, scopes, metadata     string
		limitUntil, lastRequest, createdAt int64
	)
	err := row.Scan(&c.ClientID, &c.ClientSecretHash, &c.ClientType, &c.ClientName,
		&redirectURIs, &scopes, &metadata,
		&c.RequestLimit, &c.CurrentTotalRequest, &limitUntil, &lastRequest, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	if err := json.Unmarshal([]byte(redirectURIs), &c.RedirectURIs); err != nil {
		return nil, fmt.Errorf("failed to decode redirect URIs: %w", err)
	}
	if err := json.Unmarshal([]byte(scopes), &c.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	c.RequestLimitUntil = fromUnix(limitUntil)
	c.LastRequestAt = fromUnix(lastRequest)
	c.CreatedAt = fromUnix(createdAt)

	return &c, nil
}

// ============================================================
// SessionStore Implementation
// ============================================================

// SaveSession stores a session keyed by its access token
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) (err error) {
	ctx, done := s.observer.Start(ctx, "save_session")
	defer func() { done(err) }()

	if session == nil || session.AccessToken == "" {
		return fmt.Errorf("invalid session")
	}

	scopes, err := marshalJSON(session.Scopes, "[]")
	if err != nil {
		return err
	}
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO sessions
		(access_token, client_id, user_id, scopes, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.AccessToken, session.ClientID, session.UserID, scopes,
		toUnix(session.ExpiresAt), toUnix(createdAt))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Debug("Saved session",
		"client_id", session.ClientID,
		"token_prefix", util.SafeTruncate(session.AccessToken, tokenIDLogLength))
	return nil
}

// FindSessionByToken returns the session bound to an access token
func (s *Store) FindSessionByToken(ctx context.Context, accessToken string) (session *storage.Session, err error) {
	ctx, done := s.observer.Start(ctx, "find_session")
	defer func() { done(err) }()

	row := s.db.QueryRowContext(ctx, `SELECT access_token, client_id, user_id, scopes, expires_at, created_at
		FROM sessions WHERE access_token = ?`, accessToken)

	var (
		sess                 storage.Session
		scopes               string
		expiresAt, createdAt int64
	)
	if err := row.Scan(&sess.AccessToken, &sess.ClientID, &sess.UserID, &scopes, &expiresAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if err := json.Unmarshal([]byte(scopes), &sess.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes: %w", err)
	}
	sess.ExpiresAt = fromUnix(expiresAt)
	sess.CreatedAt = fromUnix(createdAt)

	if sess.Expired(time.Now()) {
		return nil, storage.ErrSessionExpired
	}
	return &sess, nil
}

// DeleteSession removes the session bound to an access token
func (s *Store) DeleteSession(ctx context.Context, accessToken string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE access_token = ?`, accessToken); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired before now and
// returns how many were removed.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at > 0 AND expires_at < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// ============================================================
// QuotaStore Implementation
// ============================================================

// ConsumeQuota applies one request to the client's quota window inside an
// IMMEDIATE transaction.
func (s *Store) ConsumeQuota(ctx context.Context, clientID string, now time.Time) (state storage.QuotaState, limited bool, err error) {
	ctx, done := s.observer.Start(ctx, "consume_quota")
	defer func() { done(err) }()

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var limit, count, until, last int64
		err := tx.QueryRowContext(ctx, `SELECT request_limit, current_total_request, request_limit_until, last_request_at
			FROM clients WHERE client_id = ?`, clientID).Scan(&limit, &count, &until, &last)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrClientNotFound
			}
			return fmt.Errorf("failed to read quota: %w", err)
		}

		state, limited = security.ConsumeQuota(storage.QuotaState{
			Limit:         limit,
			Count:         count,
			Until:         fromUnix(until),
			LastRequestAt: fromUnix(last),
		}, now)
		if limited {
			return nil
		}

		_, err = tx.ExecContext(ctx, `UPDATE clients
			SET current_total_request = ?, request_limit_until = ?, last_request_at = ?
			WHERE client_id = ?`,
			state.Count, toUnix(state.Until), toUnix(state.LastRequestAt), clientID)
		if err != nil {
			return fmt.Errorf("failed to update quota: %w", err)
		}
		return nil
	})
	if err != nil {
		return storage.QuotaState{}, false, err
	}
	return state, limited, nil
}

// ============================================================
// Helpers
// ============================================================

// toUnix stores zero times as 0
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func marshalJSON(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}
