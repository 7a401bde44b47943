// Package validator provides gateway.ResourceValidator implementations.
//
// SessionValidator looks opaque tokens up in a storage.SessionStore, which is
// where the upstream engine records every token it issues. JWTValidator
// verifies self-contained JWT access tokens carrying "scope" and "client_id"
// claims, without touching storage.
//
// Rejection messages are returned to the caller as the description of a 403
// forbidden response, so they never include token material.
package validator
