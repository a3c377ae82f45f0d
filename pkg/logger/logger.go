// Package logger provides the structured logging contract used across the Security State Manager.
// The production implementation lives in internal/infrastructure/monitoring and is backed by zap.
package logger

import (
	"context"
	"strings"
)

// Fields is a set of key-value pairs attached to a log entry
type Fields map[string]interface{}

// Logger defines the interface for structured logging
type Logger interface {
	// Debug logs a debug message
	Debug(ctx context.Context, msg string, fields ...Fields)

	// Info logs an informational message
	Info(ctx context.Context, msg string, fields ...Fields)

	// Warn logs a warning message
	Warn(ctx context.Context, msg string, fields ...Fields)

	// Error logs an error message
	Error(ctx context.Context, msg string, err error, fields ...Fields)

	// Fatal logs a fatal message and exits the application
	Fatal(ctx context.Context, msg string, err error, fields ...Fields)

	// WithFields creates a new logger with additional fields
	WithFields(fields Fields) Logger

	// WithComponent creates a new logger for a specific component
	WithComponent(component string) Logger
}

var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"authorization",
	"private_key",
	"cookie",
}

// SanitizeValue masks values whose key looks like it carries a credential.
// Keys ending in "_at" or "_count" are metadata about a credential and pass through.
func SanitizeValue(key string, value interface{}) interface{} {
	k := strings.ToLower(key)
	if strings.HasSuffix(k, "_at") || strings.HasSuffix(k, "_count") {
		return value
	}
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			if str, ok := value.(string); ok && len(str) > 8 {
				return str[:4] + "***" + str[len(str)-4:]
			}
			return "***REDACTED***"
		}
	}
	return value
}
