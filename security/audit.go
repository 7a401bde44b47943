package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth-gateway/instrumentation"
)

// Auditor writes security events to a structured log. User identifiers are
// hashed before logging; client IDs are not secret and are logged as is.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	metrics *instrumentation.Metrics
	now     func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetInstrumentation counts logged events in the audit events metric.
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		a.metrics = inst.Metrics()
	}
}

// Event is a security audit event
type Event struct {
	Type      string
	ClientID  string
	UserID    string
	IPAddress string
	RequestID string
	Details   map[string]any
}

// LogEvent records an event. Disabled auditors drop events silently.
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	if event.RequestID == "" {
		event.RequestID = GetRequestID(ctx)
	}

	a.logger.InfoContext(ctx, "security_audit",
		"event_type", event.Type,
		"client_id", event.ClientID,
		"user_id_hash", hashForLogging(event.UserID),
		"ip_address", event.IPAddress,
		"request_id", event.RequestID,
		"details", event.Details,
		"timestamp", a.now(),
	)

	if a.metrics != nil {
		a.metrics.RecordAuditEvent(ctx, event.Type)
	}
}

// LogTokenIssued logs a successful token issuance
func (a *Auditor) LogTokenIssued(ctx context.Context, clientID, userID, ip, grantType string) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenIssued,
		ClientID:  clientID,
		UserID:    userID,
		IPAddress: ip,
		Details:   map[string]any{"grant_type": grantType},
	})
}

// LogQuotaExceeded logs a request rejected by the client's hourly quota
func (a *Auditor) LogQuotaExceeded(ctx context.Context, clientID, ip string, limit int64, resetAt time.Time) {
	a.LogEvent(ctx, Event{
		Type:      EventQuotaExceeded,
		ClientID:  clientID,
		IPAddress: ip,
		Details: map[string]any{
			"limit":    limit,
			"reset_at": resetAt.Unix(),
		},
	})
}

// LogIPRateLimited logs an anonymous request throttled by IP
func (a *Auditor) LogIPRateLimited(ctx context.Context, ip string) {
	a.LogEvent(ctx, Event{
		Type:      EventIPRateLimited,
		IPAddress: ip,
	})
}

// LogScopeDenied logs a resource request whose token lacks a required scope
func (a *Auditor) LogScopeDenied(ctx context.Context, clientID, ip, scope string) {
	a.LogEvent(ctx, Event{
		Type:      EventScopeDenied,
		ClientID:  clientID,
		IPAddress: ip,
		Details:   map[string]any{"scope": scope},
	})
}

// LogInvalidToken logs a resource request without a valid access token
func (a *Auditor) LogInvalidToken(ctx context.Context, ip, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventInvalidToken,
		IPAddress: ip,
		Details:   map[string]any{"reason": reason},
	})
}

// LogClientRejected logs client credentials that did not match
func (a *Auditor) LogClientRejected(ctx context.Context, clientID, ip string) {
	a.LogEvent(ctx, Event{
		Type:      EventClientRejected,
		ClientID:  clientID,
		IPAddress: ip,
	})
}

// LogUpstreamError logs an unexpected issuance engine failure
func (a *Auditor) LogUpstreamError(ctx context.Context, clientID, ip string, err error) {
	a.LogEvent(ctx, Event{
		Type:      EventUpstreamError,
		ClientID:  clientID,
		IPAddress: ip,
		Details:   map[string]any{"error": err.Error()},
	})
}

// hashForLogging returns a short SHA-256 prefix of sensitive data
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
