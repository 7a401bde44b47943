package storage

import (
	"fmt"
	"slices"

	"golang.org/x/crypto/bcrypt"
)

// dummySecretHash is compared against when a client does not exist, so that
// lookups for unknown and known clients take the same time.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashSecret returns the bcrypt hash of a client secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret reports whether secret matches the bcrypt hash.
func VerifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// MatchClient checks the optional secret and redirect URI against a client
// registration. client may be nil, in which case a dummy comparison is still
// performed when a secret was supplied and ErrClientNotFound is returned.
func MatchClient(client *Client, secret, redirectURI string) error {
	if client == nil {
		if secret != "" {
			_ = VerifySecret(dummySecretHash, secret)
		}
		return ErrClientNotFound
	}

	if secret != "" {
		hash := client.ClientSecretHash
		if hash == "" {
			hash = dummySecretHash
		}
		if !VerifySecret(hash, secret) {
			return ErrInvalidClientCredentials
		}
	}

	if redirectURI != "" && !slices.Contains(client.RedirectURIs, redirectURI) {
		return ErrInvalidClientCredentials
	}

	return nil
}
