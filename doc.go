// Package gateway governs requests in front of an OAuth2 issuance engine.
//
// For every request the gateway identifies the registered client, either
// from an access token bound to one of its sessions or from the client
// credentials on the request. Identified clients get an hourly request quota:
//
//	window end >= now:  count+1 requests, rejected when above the limit
//	window end <  now:  a new window ends at now+1h with a count of 1
//
// Rejected requests are not counted. Every response for an identified client
// carries X-Rate-Limit-Limit, X-Rate-Limit-Remaining and X-Rate-Limit-Reset.
// Requests that cannot be attributed to a client may be throttled per IP.
//
// Token requests are delegated to an IssuanceEngine. Its *ProtocolError
// failures are translated to HTTP responses with a fixed status table and a
// {"message", "description"} body; any other failure is a 500
// undefined_error.
//
// Protected resources are wrapped with Protect, which validates the bearer
// token through a ResourceValidator and checks required scopes, answering
// 403 forbidden otherwise.
//
// # Usage
//
//	gw, err := gateway.New(engine, store, validator, &gateway.Config{
//	    Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer gw.Close()
//
//	mux.HandleFunc("/oauth/token", gw.ServeToken)
//	mux.Handle("/api/", gw.Protect("read", apiHandler))
//
// Quota updates are atomic in every store (see storage.QuotaStore), so
// concurrent requests for one client never over-admit.
package gateway
