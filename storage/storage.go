package storage

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Sentinel errors returned by all store implementations.
var (
	// ErrClientNotFound is returned when no client is registered under an ID.
	ErrClientNotFound = errors.New("client not found")

	// ErrInvalidClientCredentials is returned when a client exists but the
	// supplied secret or redirect URI does not match its registration.
	// Callers must not distinguish it from ErrClientNotFound in responses.
	ErrInvalidClientCredentials = errors.New("invalid client credentials")

	// ErrSessionNotFound is returned when no session is bound to a token.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session bound to a token has expired.
	ErrSessionExpired = errors.New("session expired")
)

// Client types
const (
	ClientTypeConfidential = "confidential"
	ClientTypePublic       = "public"
)

// ClientStore manages registered API clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient creates or replaces a client registration, including its quota fields.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient returns a client by ID without checking credentials.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// FindClient returns the client registered under clientID when the optional
	// secret and redirect URI match its registration. Empty secret or redirect
	// URI are not checked.
	FindClient(ctx context.Context, clientID, secret, redirectURI string) (*Client, error)
}

// SessionStore manages issued access tokens.
type SessionStore interface {
	// SaveSession stores a session keyed by its access token.
	SaveSession(ctx context.Context, session *Session) error

	// FindSessionByToken returns the session bound to an access token.
	// Returns ErrSessionNotFound or ErrSessionExpired.
	FindSessionByToken(ctx context.Context, accessToken string) (*Session, error)

	// DeleteSession removes the session bound to an access token.
	DeleteSession(ctx context.Context, accessToken string) error
}

// QuotaStore consumes a client's hourly request quota.
type QuotaStore interface {
	// ConsumeQuota applies one request at time now to the client's window.
	// It returns the resulting state and whether the limit was reached.
	// When limited is true nothing is persisted.
	// The read-modify-write must be atomic with respect to concurrent calls
	// for the same client.
	ConsumeQuota(ctx context.Context, clientID string, now time.Time) (state QuotaState, limited bool, err error)
}

// Store is the full persistence surface consumed by the gateway.
type Store interface {
	ClientStore
	SessionStore
	QuotaStore
}

// Client is a registered API client as persisted by a store.
type Client struct {
	ClientID         string
	ClientSecretHash string // bcrypt hash
	ClientType       string // "public" or "confidential"
	ClientName       string
	RedirectURIs     []string
	Scopes           []string
	Metadata         map[string]string

	// Quota fields, see QuotaState
	RequestLimit        int64
	CurrentTotalRequest int64
	RequestLimitUntil   time.Time
	LastRequestAt       time.Time

	CreatedAt time.Time
}

// Quota returns the client's persisted quota window.
func (c *Client) Quota() QuotaState {
	return QuotaState{
		Limit:         c.RequestLimit,
		Count:         c.CurrentTotalRequest,
		Until:         c.RequestLimitUntil,
		LastRequestAt: c.LastRequestAt,
	}
}

// SetQuota stores a quota window on the client.
func (c *Client) SetQuota(q QuotaState) {
	c.RequestLimit = q.Limit
	c.CurrentTotalRequest = q.Count
	c.RequestLimitUntil = q.Until
	c.LastRequestAt = q.LastRequestAt
}

// Clone returns a deep copy of the client.
func (c *Client) Clone() *Client {
	cp := *c
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	cp.Scopes = slices.Clone(c.Scopes)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// QuotaState is a client's request window: Count requests were admitted in
// the window ending at Until, out of Limit allowed.
type QuotaState struct {
	Limit         int64
	Count         int64
	Until         time.Time
	LastRequestAt time.Time
}

// Session is an issued access token bound to a client and a scope set.
type Session struct {
	AccessToken string
	ClientID    string
	UserID      string
	Scopes      []string
	ExpiresAt   time.Time // zero means no expiry
	CreatedAt   time.Time
}

// Expired reports whether the session has expired at time now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
