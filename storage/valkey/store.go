package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth-gateway/instrumentation"
	"github.com/giantswarm/oauth-gateway/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "gateway:"

	storageType = "valkey"

	// tokenIDLogLength is the number of characters to include when logging tokens
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxTokenLength is the maximum accepted access token length (512 bytes)
	MaxTokenLength = 512

	// MaxIDLength is the maximum accepted client ID length
	MaxIDLength = 256
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "gateway:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of storage.Store.
type Store struct {
	client   valkeygo.Client
	prefix   string
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

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
// It must be called before the store is used concurrently.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.observer = storage.NewObserver(storageType, inst)
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// sessionKey returns the key for a session: {prefix}session:{accessToken}
func (s *Store) sessionKey(accessToken string) string {
	return fmt.Sprintf("%ssession:%s", s.prefix, accessToken)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// luaConsumeQuota atomically applies one request to a client's quota window.
// The window rules match security.ConsumeQuota: an unset until is treated as
// now, the boundary is inclusive, and a request is rejected only when the new
// count strictly exceeds the limit. Rejections leave the record untouched.
//
// KEYS[1] = client key
// ARGV[1] = current Unix timestamp in seconds
// ARGV[2] = window length in seconds
//
// Returns:
//   - {-1} if the client does not exist
//   - {1, limit, count, until, last_request_at} if limited
//   - {0, limit, count, until, now} if admitted
const luaConsumeQuota = `
local data = redis.call('GET', KEYS[1])
if not data then
    return {-1}
end

local client = cjson.decode(data)
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local limit = tonumber(client.request_limit) or 0
local count = tonumber(client.current_total_request) or 0
local untilTs = tonumber(client.request_limit_until) or 0
local last = tonumber(client.last_request_at) or 0

if untilTs <= 0 then
    untilTs = now
end

if now <= untilTs then
    if count + 1 > limit then
        return {1, limit, count, untilTs, last}
    end
    count = count + 1
else
    count = 1
    untilTs = now + window
end

client.current_total_request = count
client.request_limit_until = untilTs
client.last_request_at = now
redis.call('SET', KEYS[1], cjson.encode(client), 'KEEPTTL')

return {0, limit, count, untilTs, now}
`

// ============================================================
// JSON Representations
// ============================================================

// clientJSON is the stored form of a client. Times are Unix seconds with 0
// meaning unset. Collections are omitted when empty so the Lua quota script,
// which re-encodes the record with cjson, never turns an empty list into {}.
type clientJSON struct {
	ClientID            string            `json:"client_id"`
	ClientSecretHash    string            `json:"client_secret_hash,omitempty"`
	ClientType          string            `json:"client_type"`
	ClientName          string            `json:"client_name,omitempty"`
	RedirectURIs        []string          `json:"redirect_uris,omitempty"`
	Scopes              []string          `json:"scopes,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	RequestLimit        int64             `json:"request_limit"`
	CurrentTotalRequest int64             `json:"current_total_request"`
	RequestLimitUntil   int64             `json:"request_limit_until"`
	LastRequestAt       int64             `json:"last_request_at"`
	CreatedAt           int64             `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:            c.ClientID,
		ClientSecretHash:    c.ClientSecretHash,
		ClientType:          c.ClientType,
		ClientName:          c.ClientName,
		RedirectURIs:        c.RedirectURIs,
		Scopes:              c.Scopes,
		Metadata:            c.Metadata,
		RequestLimit:        c.RequestLimit,
		CurrentTotalRequest: c.CurrentTotalRequest,
		RequestLimitUntil:   toUnix(c.RequestLimitUntil),
		LastRequestAt:       toUnix(c.LastRequestAt),
		CreatedAt:           toUnix(c.CreatedAt),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		ClientID:            j.ClientID,
		ClientSecretHash:    j.ClientSecretHash,
		ClientType:          j.ClientType,
		ClientName:          j.ClientName,
		RedirectURIs:        j.RedirectURIs,
		Scopes:              j.Scopes,
		Metadata:            j.Metadata,
		RequestLimit:        j.RequestLimit,
		CurrentTotalRequest: j.CurrentTotalRequest,
		RequestLimitUntil:   fromUnix(j.RequestLimitUntil),
		LastRequestAt:       fromUnix(j.LastRequestAt),
		CreatedAt:           fromUnix(j.CreatedAt),
	}
}

// sessionJSON is the stored form of a session
type sessionJSON struct {
	ClientID  string   `json:"client_id"`
	UserID    string   `json:"user_id,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	ExpiresAt int64    `json:"expires_at"`
	CreatedAt int64    `json:"created_at"`
}

// ============================================================
// Helper methods
// ============================================================

// getAndUnmarshal fetches a key and decodes its JSON value.
func getAndUnmarshal[J any, T any](
	ctx context.Context,
	s *Store,
	key string,
	notFoundErr error,
	fromJSON func(*J) *T,
) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return fromJSON(&j), nil
}

// isNilError reports whether err is a Valkey nil reply (missing key)
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// validateStringLength checks if a string exceeds the maximum allowed length
func validateStringLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", fieldName, maxLen)
	}
	return nil
}

// calculateTTL returns the TTL for a key expiring at expiresAt,
// or 0 if it has already expired
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

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
