package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func newJSONLogger(t *testing.T, buf *bytes.Buffer) *slog.Logger {
	t.Helper()
	l, err := New(Config{
		Level:  "info",
		Format: "json",
		Output: buf,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

func TestRedactSensitive_SessionToken(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	token := "user-4711-session-ABCDEFGH"
	l.Info("validating session", "session", token)

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	got, ok := logEntry["session"].(string)
	if !ok {
		t.Fatal("Expected session field in log")
	}
	if got == token {
		t.Errorf("Session should be redacted, got original value: %s", got)
	}
	if got != "us...GH" {
		t.Errorf("Session mask format incorrect, got: %s", got)
	}
}

func TestRedactSensitive_ShortSecret(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	l.Info("login", "password", "hunter2")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}
	if logEntry["password"] != redactedValue {
		t.Errorf("password = %v, want %s", logEntry["password"], redactedValue)
	}
}

type fakeSession struct{}

func (fakeSession) String() string { return "token(len=12)" }

func TestRedactSensitive_LogSafeStringer(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	l.Info("session changed", "new_session", fakeSession{}, "old_session", "null")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}
	if logEntry["old_session"] != "null" {
		t.Errorf("old_session = %v, want null", logEntry["old_session"])
	}
	if v := logEntry["new_session"]; v != redactedValue && v != "token(len=12)" {
		t.Errorf("new_session = %v, want a redacted or log-safe value", v)
	}
}

func TestRedactSensitive_NormalValues(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	l.Info("transaction", "key", "profile", "conn_id", "01J9ZCONN1")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}
	if logEntry["key"] != "profile" {
		t.Errorf("key should not be redacted, got: %v", logEntry["key"])
	}
	if logEntry["conn_id"] != "01J9ZCONN1" {
		t.Errorf("conn_id should not be redacted, got: %v", logEntry["conn_id"])
	}
}

func TestRedactSensitive_NestedGroup(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	Slog(l).WithGroup("client").Info("request", "session_token", "abcdefghijkl")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}
	group, ok := logEntry["client"].(map[string]any)
	if !ok {
		t.Fatalf("expected client group, got %v", logEntry["client"])
	}
	if group["session_token"] != "ab...kl" {
		t.Errorf("nested session_token = %v, want masked", group["session_token"])
	}
}

func TestRedactString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"abcdefghijkl", "ab...kl"},
		{"short", redactedValue},
		{"null", "null"},
		{"unset", "unset"},
		{"token(len=5)", "token(len=5)"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := RedactString(tt.input); got != tt.expected {
				t.Errorf("RedactString(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"session", true},
		{"old_session", true},
		{"Session_Token", true},
		{"password", true},
		{"key", false},
		{"conn_id", false},
		{"partition", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := IsSensitiveKey(tt.key); got != tt.want {
				t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}
