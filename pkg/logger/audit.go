package logger

import (
	"context"
	"log/slog"
	"time"
)

// SecurityEvent is the slog-facing view of an authentication security event
type SecurityEvent struct {
	EventType string
	UserID    string
	IPAddress string
	UserAgent string
	Severity  string
	Reason    string
	Metadata  map[string]string
}

// AuditLogger provides structured security audit logging
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogSecurityEvent logs lockout and suspicious-activity events
func (al *AuditLogger) LogSecurityEvent(event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_type", event.EventType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", SanitizedIP(event.IPAddress)))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	switch event.Severity {
	case "high", "critical":
		level = slog.LevelWarn
	}

	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

// LogUnlock logs account unlock events
func (al *AuditLogger) LogUnlock(userID, ipAddress, method string, success bool) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_type", "account_unlocked"),
		slog.String("method", method),
		slog.Bool("success", success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", SanitizedIP(ipAddress)))
	}

	if success {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	}
}
