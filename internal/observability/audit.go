package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// AuditInput describes one security-relevant action. Every field lands on the
// audit log line; Reason carries the machine-readable cause, extras carry the
// rest.
type AuditInput struct {
	EventName   string
	ActorUserID string
	TargetType  string
	TargetID    string
	Action      string
	Outcome     string
	Reason      string
}

var auditLogger atomic.Pointer[slog.Logger]

// SetAuditLogger installs the destination for audit events. Before it is
// called, audit lines fall through to slog.Default.
func SetAuditLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	auditLogger.Store(logger)
}

func ActorUserID(userID string) string {
	if userID == "" {
		return "anonymous"
	}
	return userID
}

func EmitAudit(r *http.Request, in AuditInput, extra ...any) {
	extra = append(extra,
		"request_id", chimiddleware.GetReqID(r.Context()),
		"remote_addr", r.RemoteAddr,
		"path", r.URL.Path,
	)
	EmitAuditCtx(r.Context(), in, extra...)
}

// EmitAuditCtx is the request-free entry point used by the realtime gateway
// and the event bus, where no *http.Request survives the upgrade.
func EmitAuditCtx(ctx context.Context, in AuditInput, extra ...any) {
	logger := auditLogger.Load()
	if logger == nil {
		logger = slog.Default()
	}

	args := make([]any, 0, 14+len(extra))
	args = append(args,
		"audit", true,
		"event", in.EventName,
		"actor_user_id", in.ActorUserID,
		"target_type", in.TargetType,
		"target_id", in.TargetID,
		"action", in.Action,
		"outcome", in.Outcome,
		"reason", in.Reason,
	)
	args = append(args, extra...)

	logger.LogAttrs(ctx, slog.LevelInfo, "audit_event", argsToAttrs(args)...)
	recordAuditEvent(ctx, in.EventName, in.Outcome)
}

func argsToAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}
