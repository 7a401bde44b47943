package gateway

import (
	"slices"
	"time"

	"github.com/giantswarm/oauth-gateway/storage"
)

// Client is the identified API client of a request. It carries no
// credentials: the secret hash and redirect URIs used for lookup are dropped.
type Client struct {
	ID     string
	Name   string
	Type   string
	Scopes []string

	RequestLimit        int64
	CurrentTotalRequest int64
	RequestLimitUntil   time.Time
	LastRequestAt       time.Time
}

func newClient(rec *storage.Client) *Client {
	return &Client{
		ID:                  rec.ClientID,
		Name:                rec.ClientName,
		Type:                rec.ClientType,
		Scopes:              slices.Clone(rec.Scopes),
		RequestLimit:        rec.RequestLimit,
		CurrentTotalRequest: rec.CurrentTotalRequest,
		RequestLimitUntil:   rec.RequestLimitUntil,
		LastRequestAt:       rec.LastRequestAt,
	}
}

func (c *Client) applyQuota(q storage.QuotaState) {
	c.RequestLimit = q.Limit
	c.CurrentTotalRequest = q.Count
	c.RequestLimitUntil = q.Until
	c.LastRequestAt = q.LastRequestAt
}

// AccessToken is a validated resource access token.
type AccessToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scopes    []string
	ExpiresAt time.Time // zero means no expiry
}

// HasScope reports whether the token was granted scope.
func (t *AccessToken) HasScope(scope string) bool {
	return slices.Contains(t.Scopes, scope)
}

// TokenResponse is an issued token as returned to the caller.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}
