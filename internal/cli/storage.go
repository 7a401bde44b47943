package cli

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/giantswarm/oauth-gateway/instrumentation"
	"github.com/giantswarm/oauth-gateway/internal/util"
	"github.com/giantswarm/oauth-gateway/storage"
	"github.com/giantswarm/oauth-gateway/storage/memory"
	"github.com/giantswarm/oauth-gateway/storage/sqlite"
	"github.com/giantswarm/oauth-gateway/storage/valkey"
)

// Storage backend types
const (
	StorageTypeMemory = "memory"
	StorageTypeSQLite = "sqlite"
	StorageTypeValkey = "valkey"
)

type storageOptions struct {
	Type string

	SQLitePath string

	ValkeyURL       string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
	ValkeyTLS       bool
	ValkeyTLSCAFile string
}

func (o *storageOptions) register(flags *pflag.FlagSet) {
	flags.StringVar(&o.Type, "storage-type", StorageTypeMemory, "Storage backend: memory, sqlite or valkey")
	flags.StringVar(&o.SQLitePath, "sqlite-path", "oauth-gateway.db", "SQLite database file (sqlite storage)")
	flags.StringVar(&o.ValkeyURL, "valkey-url", "", "Valkey server address, e.g. valkey.namespace.svc:6379 (valkey storage)")
	flags.StringVar(&o.ValkeyPassword, "valkey-password", "", "Valkey authentication password")
	flags.IntVar(&o.ValkeyDB, "valkey-db", 0, "Valkey database number")
	flags.StringVar(&o.ValkeyKeyPrefix, "valkey-key-prefix", "gateway:", "Prefix for all Valkey keys")
	flags.BoolVar(&o.ValkeyTLS, "valkey-tls", false, "Enable TLS for Valkey connections")
	flags.StringVar(&o.ValkeyTLSCAFile, "valkey-tls-ca-file", "", "Custom CA certificate for Valkey TLS verification")
}

// instrumentedStore is implemented by every backend.
type instrumentedStore interface {
	storage.Store
	SetInstrumentation(inst *instrumentation.Instrumentation)
}

// openStore opens the configured backend. The returned close function
// releases its connections or background goroutines.
func openStore(ctx context.Context, o storageOptions, logger *slog.Logger) (instrumentedStore, func(), error) {
	switch o.Type {
	case StorageTypeMemory, "":
		store := memory.New()
		store.SetLogger(logger)
		return store, store.Stop, nil

	case StorageTypeSQLite:
		store, err := sqlite.New(ctx, sqlite.Config{Path: o.SQLitePath, Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close sqlite storage", "error", err)
			}
		}, nil

	case StorageTypeValkey:
		if o.ValkeyURL == "" {
			return nil, nil, fmt.Errorf("--valkey-url is required for valkey storage")
		}
		cfg := valkey.Config{
			Address:   o.ValkeyURL,
			Password:  o.ValkeyPassword,
			DB:        o.ValkeyDB,
			KeyPrefix: o.ValkeyKeyPrefix,
			Logger:    logger,
		}
		if o.ValkeyTLS {
			tlsConfig, err := valkeyTLSConfig(o.ValkeyTLSCAFile)
			if err != nil {
				return nil, nil, err
			}
			cfg.TLS = tlsConfig
		}
		store, err := valkey.New(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage type %q (want memory, sqlite or valkey)", o.Type)
	}
}

func valkeyTLSConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read valkey CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// parseClientSpec parses "id:secret:limit[:scopes]" into a client record.
// Scopes are comma or space separated.
func parseClientSpec(spec string) (*storage.Client, string, error) {
	parts := strings.SplitN(spec, ":", 4)
	if len(parts) < 3 {
		return nil, "", fmt.Errorf("invalid client %q: want id:secret:limit[:scopes]", spec)
	}

	id, secret := strings.TrimSpace(parts[0]), parts[1]
	if id == "" {
		return nil, "", fmt.Errorf("invalid client %q: empty id", spec)
	}
	limit, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil || limit < 0 {
		return nil, "", fmt.Errorf("invalid client %q: limit must be a non-negative integer", spec)
	}

	client := &storage.Client{
		ClientID:     id,
		ClientType:   storage.ClientTypeConfidential,
		ClientName:   id,
		RequestLimit: limit,
	}
	if secret == "" {
		client.ClientType = storage.ClientTypePublic
	}
	if len(parts) == 4 {
		client.Scopes = util.SplitList(parts[3])
	}
	return client, secret, nil
}

// saveClient hashes the secret and persists the client.
func saveClient(ctx context.Context, store storage.ClientStore, client *storage.Client, secret string) error {
	if secret != "" {
		hash, err := storage.HashSecret(secret)
		if err != nil {
			return fmt.Errorf("failed to hash client secret: %w", err)
		}
		client.ClientSecretHash = hash
	}
	return store.SaveClient(ctx, client)
}
