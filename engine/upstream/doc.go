// Package upstream provides a gateway.IssuanceEngine that forwards token
// requests to an upstream OAuth2 authorization server.
//
// Supported grants are authorization_code (with optional PKCE verifier),
// client_credentials, refresh_token and password. Error responses from the
// upstream are returned as *gateway.ProtocolError when their code is one the
// gateway recognizes; a WWW-Authenticate challenge is passed through.
//
// Every issued access token is recorded as a storage.Session bound to the
// requesting client, so that the gateway can attribute later requests that
// present the token.
//
//	engine, err := upstream.New(upstream.Config{
//	    TokenURL: "https://idp.example.com/oauth/token",
//	}, store)
package upstream
