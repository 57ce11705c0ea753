package logger

import (
	"bytes"
	"context"
	"testing"
)

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if ConnIDFromContext(ctx) != "" || RequestIDFromContext(ctx) != "" {
		t.Fatal("empty context carries IDs")
	}

	ctx = WithConnID(ctx, "01J9ZCONN67890")
	ctx = WithRequestID(ctx, "7")
	if got := ConnIDFromContext(ctx); got != "01J9ZCONN67890" {
		t.Errorf("ConnIDFromContext() = %q", got)
	}
	if got := RequestIDFromContext(ctx); got != "7" {
		t.Errorf("RequestIDFromContext() = %q", got)
	}
}

func TestContextHandler(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		conn    any
		request any
	}{
		{
			name: "no ids",
			ctx:  context.Background(),
		},
		{
			name: "connection only",
			ctx:  WithConnID(context.Background(), "c1"),
			conn: "c1",
		},
		{
			name:    "connection and request",
			ctx:     WithRequestID(WithConnID(context.Background(), "c1"), "42"),
			conn:    "c1",
			request: "42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := New(Config{Level: "info", Format: "json", Output: &buf})
			if err != nil {
				t.Fatal(err)
			}

			l.With("component", "guard").InfoContext(tt.ctx, "mirrored data invalidated")

			entry := decodeLine(t, &buf)
			if entry["conn_id"] != tt.conn {
				t.Errorf("conn_id = %v, want %v", entry["conn_id"], tt.conn)
			}
			if entry["request_id"] != tt.request {
				t.Errorf("request_id = %v, want %v", entry["request_id"], tt.request)
			}
			if entry["component"] != "guard" {
				t.Errorf("component = %v, want guard", entry["component"])
			}
		})
	}
}

func TestContextHandler_WithoutContext(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	l.Info("plain")

	entry := decodeLine(t, &buf)
	if _, ok := entry["conn_id"]; ok {
		t.Error("conn_id logged without a context")
	}
}
