package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Level: "debug", Format: "json"}, &buf)

	logger.Debug().Str("component", "test").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "hello" || entry["component"] != "test" || entry["level"] != "debug" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Level: "warn"}, &buf)

	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %q", buf.String())
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Level: "nonsense"}, &buf)

	logger.Debug().Msg("dropped")
	logger.Info().Msg("kept")
	if !strings.Contains(buf.String(), "kept") || strings.Contains(buf.String(), "dropped") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestNewLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Format: "console"}, &buf)

	logger.Info().Msg("pretty")
	if json.Valid(buf.Bytes()) {
		t.Fatalf("console output should not be json: %q", buf.String())
	}
}
