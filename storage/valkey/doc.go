// Package valkey provides a Valkey storage backend for the gateway.
//
// Valkey is wire-compatible with Redis. Use this backend when several gateway
// instances must share client quotas and issued sessions.
//
// # Key Schema
//
// All keys use a configurable prefix (default "gateway:"):
//
//	{prefix}client:{clientID}       -> JSON(Client) including quota fields
//	{prefix}session:{accessToken}   -> JSON(Session) (with TTL when it expires)
//
// # Atomic Quota Consumption
//
// ConsumeQuota runs a Lua script that reads the client record, applies the
// hourly window rules and writes the updated counters back with KEEPTTL. The
// whole read-modify-write executes inside the server, so requests racing on
// different gateway instances are serialized per client.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "valkey.example.com:6379",
//	    Password:  os.Getenv("VALKEY_PASSWORD"),
//	    TLS:       &tls.Config{MinVersion: tls.VersionTLS12},
//	    KeyPrefix: "gateway:",
//	})
//
// Client secrets are stored as bcrypt hashes only. Oversized identifiers and
// tokens are rejected before reaching the server.
package valkey
