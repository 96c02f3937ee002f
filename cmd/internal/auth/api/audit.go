package authapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"gatekeeper/cmd/identity"
)

// AuditRecorder persists audit entries. identity.PostgresStore satisfies it.
type AuditRecorder interface {
	RecordAudit(ctx context.Context, e identity.AuditEntry) error
}

func (h *Handler) auditRegister(r *http.Request, userID string) {
	h.audit(r, "auth.register", userID, nil)
}

func (h *Handler) auditLoginFailed(r *http.Request, email string) {
	h.audit(r, "auth.login.failed", "", map[string]any{"identifier": email})
}

func (h *Handler) auditLoginSuccess(r *http.Request, userID string) {
	h.audit(r, "auth.login.success", userID, nil)
}

func (h *Handler) auditRefreshFailed(r *http.Request) {
	h.audit(r, "auth.refresh.failed", "", nil)
}

func (h *Handler) auditRefreshSuccess(r *http.Request) {
	h.audit(r, "auth.refresh.success", "", nil)
}

func (h *Handler) auditLogout(r *http.Request, userID string) {
	h.audit(r, "auth.logout", userID, nil)
}

// audit always logs; it also persists when a recorder is configured.
// Persistence failures never fail the request.
func (h *Handler) audit(r *http.Request, action, userID string, meta map[string]any) {
	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	attrs := []any{"action", action, "ua", ua}
	if userID != "" {
		attrs = append(attrs, "user_id", userID)
	}
	if ip != nil {
		attrs = append(attrs, "ip", ip.String())
	}
	for k, v := range meta {
		attrs = append(attrs, k, v)
	}
	h.log.InfoContext(ctx, "audit."+action, attrs...)

	if h.auditRec == nil {
		return
	}
	entry := identity.AuditEntry{Action: action, UserID: userID, UserAgent: ua, Meta: meta}
	if ip != nil {
		entry.IP = ip.String()
	}
	if err := h.auditRec.RecordAudit(ctx, entry); err != nil {
		h.metrics.auditFailed()
		h.log.ErrorContext(ctx, "auth.audit.insert.fail", slog.String("action", action), slog.Any("err", err))
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// parseForwardedIP returns the left-most parseable address.
func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
