package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/giantswarm/oauth-gateway/security"
	"github.com/giantswarm/oauth-gateway/storage"
)

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.observer.Start(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}
	if err := validateStringLength(client.ClientID, MaxIDLength, "client ID"); err != nil {
		return err
	}

	j := toClientJSON(client)
	if j.ClientType == "" {
		j.ClientType = storage.ClientTypeConfidential
	}
	if j.CreatedAt == 0 {
		j.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ClientID)
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
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
	if err := validateStringLength(clientID, MaxIDLength, "client ID"); err != nil {
		return nil, storage.ErrClientNotFound
	}
	return getAndUnmarshal(ctx, s, s.clientKey(clientID), storage.ErrClientNotFound, fromClientJSON)
}

// ============================================================
// QuotaStore Implementation
// ============================================================

// ConsumeQuota applies one request to the client's quota window in a single
// server-side script, so concurrent gateway instances never over-admit.
func (s *Store) ConsumeQuota(ctx context.Context, clientID string, now time.Time) (state storage.QuotaState, limited bool, err error) {
	ctx, done := s.observer.Start(ctx, "consume_quota")
	defer func() { done(err) }()

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeQuota).
			Numkeys(1).
			Key(s.clientKey(clientID)).
			Arg(strconv.FormatInt(now.Unix(), 10), strconv.FormatInt(int64(security.QuotaWindow/time.Second), 10)).
			Build(),
	).AsIntSlice()
	if err != nil {
		return storage.QuotaState{}, false, fmt.Errorf("failed to execute quota script: %w", err)
	}

	if len(result) == 1 && result[0] == -1 {
		return storage.QuotaState{}, false, storage.ErrClientNotFound
	}
	if len(result) != 5 {
		return storage.QuotaState{}, false, fmt.Errorf("unexpected quota script reply of length %d", len(result))
	}

	state = storage.QuotaState{
		Limit:         result[1],
		Count:         result[2],
		Until:         fromUnix(result[3]),
		LastRequestAt: fromUnix(result[4]),
	}
	limited = result[0] == 1

	if limited {
		s.logger.Debug("Client quota exhausted", "client_id", clientID, "limit", state.Limit)
	}
	return state, limited, nil
}
