package auth

import (
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Audit actions recorded for credential operations
const (
	ActionSignUp         = "auth.sign_up"
	ActionSignIn         = "auth.sign_in"
	ActionRefresh        = "auth.refresh"
	ActionLogout         = "auth.logout"
	ActionChangePassword = "auth.change_password"
	ActionRateLimited    = "ratelimit.exceeded"
)

// Audit outcomes
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)

// AuditEvent is one security-relevant outcome
type AuditEvent struct {
	Action    string
	Subject   string
	Status    string
	IPAddress string
	UserAgent string
	Err       error
}

// AuditFromRequest builds an event for r. The status follows err: nil is a
// success, an Unauthenticated error a denial, anything else a failure.
func AuditFromRequest(r *http.Request, action, subject string, err error) AuditEvent {
	status := StatusSuccess
	switch {
	case err == nil:
	case apierr.KindOf(err) == apierr.KindUnauthenticated:
		status = StatusDenied
	default:
		status = StatusFailure
	}
	return AuditEvent{
		Action:    action,
		Subject:   subject,
		Status:    status,
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
		Err:       err,
	}
}

// LogAudit writes event to the request logger under the "audit" category
func LogAudit(r *http.Request, event AuditEvent) {
	logger := observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"category":   "audit",
		"action":     event.Action,
		"subject":    event.Subject,
		"status":     event.Status,
		"ip_address": event.IPAddress,
		"user_agent": event.UserAgent,
	})
	if event.Err != nil {
		logger = logger.WithError(event.Err)
	}
	if event.Status == StatusFailure {
		logger.Warn("audit event")
		return
	}
	logger.Info("audit event")
}
