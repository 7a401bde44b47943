// Package memory provides an in-memory implementation of the gateway storage interfaces.
//
// Clients and sessions live in maps guarded by a sync.RWMutex. Quota
// consumption takes the write lock for the whole read-modify-write, so
// concurrent requests for the same client are serialized and never
// over-admit. A background loop removes expired sessions.
//
// State is lost on restart and is not shared between instances; use
// storage/sqlite or storage/valkey when that matters.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	gw, err := gateway.New(engine, store, validator, cfg, logger)
package memory
