package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/giantswarm/oauth-gateway/security"
)

// ServeToken handles POST token requests: the form is handed to IssueToken
// and the resulting response written as JSON.
func (g *Gateway) ServeToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		gwErr := &Error{Code: CodeInvalidRequest, Description: "Failed to parse request", Status: http.StatusBadRequest}
		g.writeResponse(w, r, start, &Response{Status: gwErr.Status, Body: gwErr.Body()})
		return
	}

	creds := CredentialsFromRequest(r, g.config.TokenParam)
	creds.RemoteIP = g.ipResolver.Resolve(r)

	// the engine sees Basic credentials as ordinary form fields
	input := r.Form
	if _, _, ok := r.BasicAuth(); ok {
		input.Set("client_id", creds.ClientID)
		input.Set("client_secret", creds.ClientSecret)
	}

	resp := g.IssueToken(r.Context(), TokenRequest{Input: input, Credentials: creds})
	g.writeResponse(w, r, start, resp)
}

// Protect wraps next with client identification, quota enforcement and a
// scope check. requiredScopes is comma or space separated and may be empty to
// only require a valid token. The identified client and validated token are
// available to next via ClientFromContext and AccessTokenFromContext.
func (g *Gateway) Protect(requiredScopes string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		scope := NewRequestScope()
		ctx := WithRequestScope(r.Context(), scope)
		ctx, span := g.tracer.Start(ctx, "gateway.protect")
		defer span.End()

		headerOnly, _ := g.config.HeadersOnly()
		creds := Credentials{RemoteIP: g.ipResolver.Resolve(r)}
		if token, ok := ExtractAccessToken(r, g.config.TokenParam, headerOnly); ok {
			creds.Token = token
		}

		header := make(http.Header)
		client := g.identifier.Identify(ctx, scope, creds)

		// A token without a session is validated before admission so the
		// client it names is charged instead of the caller's IP.
		deferred := client == nil && creds.Token != ""
		if !deferred {
			if gwErr := g.admit(ctx, client, creds.RemoteIP, header); gwErr != nil {
				g.writeResponse(w, r, start, g.errorResponse(ctx, span, gwErr, header))
				return
			}
		}

		token, missing, gwErr := g.guard.check(ctx, r.WithContext(ctx), requiredScopes)
		if gwErr != nil && deferred {
			if limitErr := g.admitAnonymous(ctx, creds.RemoteIP, header); limitErr != nil {
				g.writeResponse(w, r, start, g.errorResponse(ctx, span, limitErr, header))
				return
			}
		}
		if gwErr != nil {
			clientID := ""
			if client != nil {
				clientID = client.ID
			}
			if missing != "" {
				g.logger.Info("Scope denied", "client_id", clientID, "scope", missing)
				g.auditor.LogScopeDenied(ctx, clientID, creds.RemoteIP, missing)
				if g.inst != nil {
					g.inst.Metrics().RecordScopeDenied(ctx, missing)
				}
			} else {
				g.logger.Debug("Access token rejected", "ip", creds.RemoteIP, "reason", gwErr.Description)
				g.auditor.LogInvalidToken(ctx, creds.RemoteIP, gwErr.Description)
			}
			g.writeResponse(w, r, start, g.errorResponse(ctx, span, gwErr, header))
			return
		}

		if deferred {
			client = g.identifier.ClientForToken(ctx, token)
			if gwErr := g.admit(ctx, client, creds.RemoteIP, header); gwErr != nil {
				g.writeResponse(w, r, start, g.errorResponse(ctx, span, gwErr, header))
				return
			}
		}

		for name, values := range header {
			w.Header()[name] = values
		}
		ctx = ContextWithAccessToken(ctx, token)
		if client != nil {
			ctx = ContextWithClient(ctx, client)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		g.recordHTTPRequest(r, rec.status, start)
	})
}

// ServeTokenInfo describes the access token validated by Protect.
func (g *Gateway) ServeTokenInfo(w http.ResponseWriter, r *http.Request) {
	token, ok := AccessTokenFromContext(r.Context())
	if !ok {
		gwErr := Forbidden("No validated access token")
		writeJSON(w, g.config.Issuer, gwErr.Status, gwErr.Body())
		return
	}

	info := map[string]any{
		"client_id": token.ClientID,
		"scope":     strings.Join(token.Scopes, " "),
	}
	if token.UserID != "" {
		info["user_id"] = token.UserID
	}
	if !token.ExpiresAt.IsZero() {
		info["expires_in"] = max(int64(token.ExpiresAt.Sub(g.now())/time.Second), 0)
	}
	writeJSON(w, g.config.Issuer, http.StatusOK, info)
}

func (g *Gateway) writeResponse(w http.ResponseWriter, r *http.Request, start time.Time, resp *Response) {
	for name, values := range resp.Header {
		w.Header()[name] = values
	}
	writeJSON(w, g.config.Issuer, resp.Status, resp.Body)
	g.recordHTTPRequest(r, resp.Status, start)
}

func (g *Gateway) recordHTTPRequest(r *http.Request, status int, start time.Time) {
	if g.inst == nil {
		return
	}
	durationMs := float64(time.Since(start).Microseconds()) / 1000
	g.inst.Metrics().RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, status, durationMs)
}

func writeJSON(w http.ResponseWriter, issuer string, status int, body any) {
	security.SetSecurityHeaders(w.Header(), issuer)
	security.SetNoStore(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusRecorder captures the status code written by a wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
