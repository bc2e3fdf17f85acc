package authapi

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Audit event names. They double as log messages and metric labels.
const (
	eventRegisterSuccess  = "auth.register.success"
	eventLoginSuccess     = "auth.login.success"
	eventLoginFailed      = "auth.login.failed"
	eventLoginRateLimited = "auth.login.rate_limited"
	eventLogout           = "auth.logout"
	eventLogoutAll        = "auth.logout_all"
	eventPasswordChanged  = "auth.password.changed"
)

// NewEventCounter returns the auth events counter. The caller registers it.
func NewEventCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "userauth",
		Name:      "auth_events_total",
		Help:      "Security-relevant auth events by type.",
	}, []string{"event"})
}

func (h *Handler) auditRegister(ctx context.Context, userID string, ip net.IP, ua string) {
	h.audit(ctx, slog.LevelInfo, eventRegisterSuccess, ip, ua, slog.String("user_id", userID))
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID, tokenID string, ip net.IP, ua string) {
	h.audit(ctx, slog.LevelInfo, eventLoginSuccess, ip, ua,
		slog.String("user_id", userID),
		slog.String("token_id", tokenID),
	)
}

func (h *Handler) auditLoginFailed(ctx context.Context, ip net.IP, ua, reason string) {
	h.audit(ctx, slog.LevelWarn, eventLoginFailed, ip, ua, slog.String("reason", reason))
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip net.IP, ua string, retryAfter time.Duration) {
	h.audit(ctx, slog.LevelWarn, eventLoginRateLimited, ip, ua,
		slog.Int64("retry_after_s", int64(retryAfter.Seconds())),
	)
}

func (h *Handler) auditLogout(ctx context.Context, userID, tokenID string, ip net.IP, ua string) {
	h.audit(ctx, slog.LevelInfo, eventLogout, ip, ua,
		slog.String("user_id", userID),
		slog.String("token_id", tokenID),
	)
}

func (h *Handler) auditLogoutAll(ctx context.Context, userID string, ip net.IP, ua string) {
	h.audit(ctx, slog.LevelInfo, eventLogoutAll, ip, ua, slog.String("user_id", userID))
}

func (h *Handler) auditPasswordChanged(ctx context.Context, userID string, ip net.IP, ua string) {
	h.audit(ctx, slog.LevelInfo, eventPasswordChanged, ip, ua, slog.String("user_id", userID))
}

func (h *Handler) audit(ctx context.Context, level slog.Level, event string, ip net.IP, ua string, attrs ...slog.Attr) {
	if h == nil {
		return
	}
	h.events.WithLabelValues(event).Inc()

	attrs = append(attrs, slog.String("ip", ipKey(ip)))
	if ua = strings.TrimSpace(ua); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}
	h.log.LogAttrs(ctx, level, event, attrs...)
}
