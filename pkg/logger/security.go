package logger

import (
	"context"
	"log/slog"
	"time"
)

// SecurityEntry is one forensic line describing a classified incident
type SecurityEntry struct {
	EventID   string
	EventType string
	Severity  string
	IPAddress string
	UserAgent string
	Endpoint  string
	Details   map[string]interface{}
}

// LoginEntry describes a login attempt
type LoginEntry struct {
	Email         string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
}

// SecurityLogger writes security log lines with a stable attribute layout
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger,
	}
}

// LogEvent logs a security event at the given level
func (sl *SecurityLogger) LogEvent(ctx context.Context, level slog.Level, entry SecurityEntry) {
	attrs := []slog.Attr{
		slog.String("log_type", "security_event"),
		slog.String("event_id", entry.EventID),
		slog.String("event_type", entry.EventType),
		slog.String("severity", entry.Severity),
		slog.String("ip_address", entry.IPAddress),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if entry.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", entry.UserAgent))
	}
	if entry.Endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", entry.Endpoint))
	}
	if len(entry.Details) > 0 {
		attrs = append(attrs, slog.Any("details", entry.Details))
	}

	sl.logger.LogAttrs(ctx, level, "security event", attrs...)
}

// LogLogin logs a login attempt with the email masked
func (sl *SecurityLogger) LogLogin(ctx context.Context, entry LoginEntry) {
	attrs := []slog.Attr{
		slog.String("log_type", "auth"),
		slog.String("email", SanitizedEmail(entry.Email)),
		slog.Bool("success", entry.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if entry.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", entry.IPAddress))
	}
	if entry.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", entry.UserAgent))
	}
	if entry.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", entry.FailureReason))
	}

	if entry.Success {
		sl.logger.LogAttrs(ctx, slog.LevelInfo, "login attempt", attrs...)
	} else {
		sl.logger.LogAttrs(ctx, slog.LevelWarn, "login attempt", attrs...)
	}
}

// LogBlockChange logs an operator or automatic change to the block list
func (sl *SecurityLogger) LogBlockChange(ctx context.Context, action, ipAddress, reason, actor string) {
	attrs := []slog.Attr{
		slog.String("log_type", "block_list"),
		slog.String("action", action),
		slog.String("ip_address", ipAddress),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	if actor != "" {
		attrs = append(attrs, slog.String("actor", actor))
	}

	sl.logger.LogAttrs(ctx, slog.LevelWarn, "block list change", attrs...)
}
