package logger

import (
	"log/slog"
	"strings"
)

// Sensitive key patterns that should be redacted.
// Session tokens identify a user, so "session" is treated like a credential.
var sensitiveKeyPatterns = []string{
	"session",
	"token",
	"password",
	"secret",
	"credential",
	"auth",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactSensitive checks if an attribute contains sensitive data
// and redacts it if necessary.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}

	if !IsSensitiveKey(a.Key) {
		return a
	}

	// Stringers (domain.Session) resolve to their log-safe form first.
	v := a.Value.Resolve()
	if v.Kind() == slog.KindString && v.String() != "" {
		return slog.String(a.Key, RedactString(v.String()))
	}
	if v.Kind() == slog.KindAny {
		return slog.String(a.Key, redactedValue)
	}
	return a
}

// RedactString masks a sensitive value, keeping only a short hint.
// Values already in log-safe form ("null", "unset", "token(len=N)") pass through.
func RedactString(value string) string {
	switch {
	case value == "null", value == "unset", strings.HasPrefix(value, "token(len="):
		return value
	case len(value) <= 8:
		return redactedValue
	default:
		return value[:2] + "..." + value[len(value)-2:]
	}
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}
