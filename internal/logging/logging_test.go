package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Debug("chunk fetched", zap.Int("chunk", 3), zap.String("media", "m1"))
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if entry["message"] != "chunk fetched" {
		t.Errorf("unexpected message: %v", entry["message"])
	}
	if entry["level"] != "debug" {
		t.Errorf("unexpected level: %v", entry["level"])
	}
	if entry["chunk"] != float64(3) {
		t.Errorf("unexpected chunk field: %v", entry["chunk"])
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn entry missing")
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("serving", zap.String("addr", ":8080"))
	if !strings.Contains(buf.String(), "INFO") {
		t.Errorf("expected console level, got %q", buf.String())
	}
}

func TestInvalidOptions(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}
