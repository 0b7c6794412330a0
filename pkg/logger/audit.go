package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	Subject       string
	Actor         string
	IPAddress     string
	UserAgent     string
	FailureReason string
	Flagged       bool
	Metadata      map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogAuthFailure logs an observed authentication failure
func (al *AuditLogger) LogAuthFailure(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("flagged", event.Flagged),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Subject != "" {
		attrs = append(attrs, slog.String("subject", event.Subject))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	if event.Flagged {
		al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	}
}

// LogAccountAction logs lock-state changes and other account actions
func (al *AuditLogger) LogAccountAction(eventType, subject, actor string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "account"),
		slog.String("event_type", eventType),
		slog.String("subject", subject),
		slog.String("actor", actor),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}
