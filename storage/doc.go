// Package storage defines the persistence boundary of the gateway.
//
// Three interfaces are consumed by the gateway core:
//   - ClientStore: registered API clients and credential matching
//   - SessionStore: issued access tokens, used to reverse-resolve the owning client
//   - QuotaStore: atomic consumption of a client's hourly request quota
//
// Implementations are provided in subpackages:
//   - storage/memory: in-process storage for development and testing
//   - storage/sqlite: single-node persistent storage with embedded migrations
//   - storage/valkey: Valkey/Redis-compatible distributed storage
//
// Every QuotaStore implementation applies the same window algorithm
// (security.ConsumeQuota) and performs the read-modify-write atomically,
// so concurrent requests for one client can never over-admit.
package storage
