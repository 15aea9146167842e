package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/session"
)

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = session.ContextWithActor(ctx, "root@opsdesk.example")

	if err := LogEvent(ctx, "simulation.start", map[string]any{"role": "staff"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["event"] != "simulation.start" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("request id missing: %v", entry)
	}
	if entry["actor"] != "root@opsdesk.example" {
		t.Fatalf("actor missing: %v", entry)
	}
	if entry["id"] == "" {
		t.Fatal("expected audit id")
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}
