// Package cli implements the oauth-gateway command line: the serve command
// running the gateway over HTTP, client administration against persistent
// storage, and version reporting.
package cli
