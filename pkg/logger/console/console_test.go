package console

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONOutputCarriesKeyvals(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{JSON: true, Output: &buf})

	l.Info("[Builder] Unit committed", "unit", "company:7", "contributions", 3)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "[Builder] Unit committed" {
		t.Fatalf("expected message, got %v", entry["msg"])
	}
	if entry["unit"] != "company:7" {
		t.Fatalf("expected unit key, got %v", entry["unit"])
	}
}

func TestDebugSuppressedByDefault(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{Output: &buf})

	l.Debug("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("expected debug to be suppressed, got %q", buf.String())
	}

	l = NewConsoleLogger(ConsoleLoggerParams{Debug: true, Output: &buf})
	l.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected debug output, got %q", buf.String())
	}
}
