package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewWithWriter(t *testing.T) {
	t.Run("JSONFormat", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, "info", "json")
		logger.Info("scored", "transaction_id", "tx-1")

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
		}
		if entry["transaction_id"] != "tx-1" {
			t.Errorf("expected transaction_id tx-1, got %v", entry["transaction_id"])
		}
	})

	t.Run("TextFormat", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, "info", "text")
		logger.Info("scored", "transaction_id", "tx-1")

		if !strings.Contains(buf.String(), "transaction_id=tx-1") {
			t.Errorf("expected text output, got %q", buf.String())
		}
	})

	t.Run("LevelFilters", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, "error", "json")
		logger.Info("hidden")

		if buf.Len() != 0 {
			t.Errorf("expected info to be filtered at error level, got %q", buf.String())
		}
		if !logger.Enabled(context.Background(), slog.LevelError) {
			t.Error("expected error level enabled")
		}
	})
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	if id := RequestID(ctx); id != "" {
		t.Errorf("expected empty request id, got %q", id)
	}

	ctx = WithRequestID(ctx, "req-123")
	if id := RequestID(ctx); id != "req-123" {
		t.Errorf("expected req-123, got %q", id)
	}

	if FromContext(ctx) == nil {
		t.Error("FromContext returned nil")
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger without request id")
	}
}
