// Package audit writes security events through the shared structured logger.
package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

const (
	LoginSucceeded    = "auth.login.succeeded"
	LoginFailed       = "auth.login.failed"
	RegisterSucceeded = "auth.register.succeeded"
	AccountVerified   = "auth.account.verified"
	ResetRequested    = "auth.reset.requested"
	ResetConsumed     = "auth.reset.consumed"
	AccessDenied      = "authz.denied"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and user context.
// Callers must not pass secrets in fields.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := logrus.Fields{
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	entry["fields"] = copied

	obs.Logger().WithFields(entry).Info(event)
	return nil
}
