package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-gateway/internal/util"
	"github.com/giantswarm/oauth-gateway/storage"
)

// ============================================================
// SessionStore Implementation
// ============================================================

// SaveSession stores a session keyed by its access token. Sessions with an
// expiry get a matching key TTL.
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) (err error) {
	ctx, done := s.observer.Start(ctx, "save_session")
	defer func() { done(err) }()

	if session == nil || session.AccessToken == "" {
		return fmt.Errorf("invalid session")
	}
	if err := validateStringLength(session.AccessToken, MaxTokenLength, "access token"); err != nil {
		return err
	}

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	data, err := json.Marshal(&sessionJSON{
		ClientID:  session.ClientID,
		UserID:    session.UserID,
		Scopes:    session.Scopes,
		ExpiresAt: toUnix(session.ExpiresAt),
		CreatedAt: createdAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := s.sessionKey(session.AccessToken)
	if session.ExpiresAt.IsZero() {
		err = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error()
	} else {
		ttl := calculateTTL(session.ExpiresAt)
		if ttl == 0 {
			return fmt.Errorf("%w: cannot save an expired session", storage.ErrSessionExpired)
		}
		err = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Px(ttl).Build()).Error()
	}
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

	if len(accessToken) > MaxTokenLength {
		return nil, storage.ErrSessionNotFound
	}

	session, err = getAndUnmarshal(ctx, s, s.sessionKey(accessToken), storage.ErrSessionNotFound,
		func(j *sessionJSON) *storage.Session {
			return &storage.Session{
				AccessToken: accessToken,
				ClientID:    j.ClientID,
				UserID:      j.UserID,
				Scopes:      j.Scopes,
				ExpiresAt:   fromUnix(j.ExpiresAt),
				CreatedAt:   fromUnix(j.CreatedAt),
			}
		})
	if err != nil {
		return nil, err
	}

	// the key TTL has millisecond precision, the stored expiry has seconds
	if session.Expired(time.Now()) {
		return nil, storage.ErrSessionExpired
	}
	return session, nil
}

// DeleteSession removes the session bound to an access token
func (s *Store) DeleteSession(ctx context.Context, accessToken string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.sessionKey(accessToken)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
