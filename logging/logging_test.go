package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/najoast/kes/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter("kes-test", config.LogConfig{
		Level:  config.LogLevelInfo,
		Format: "json",
		Fields: map[string]string{"region": "eu"},
	}, &buf)
	if err != nil {
		t.Fatalf("Failed to build logger: %v", err)
	}

	logger.Debug().Msg("hidden")
	logger.Info().Int("nid", 3).Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected one line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry["app"] != "kes-test" || entry["region"] != "eu" || entry["message"] != "visible" {
		t.Errorf("Unexpected entry %v", entry)
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter("kes-test", config.LogConfig{
		Level:  config.LogLevelDebug,
		Format: "text",
	}, &buf)
	if err != nil {
		t.Fatalf("Failed to build logger: %v", err)
	}

	logger.Debug().Msg("console line")
	if !strings.Contains(buf.String(), "console line") {
		t.Errorf("Expected console output, got %q", buf.String())
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("Expected no color codes, got %q", buf.String())
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := NewWithWriter("x", config.LogConfig{Level: "loud", Format: "json"}, &bytes.Buffer{}); !errors.Is(err, config.ErrInvalidLogLevel) {
		t.Errorf("Expected invalid level, got %v", err)
	}
	if _, err := NewWithWriter("x", config.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{}); !errors.Is(err, config.ErrInvalidLogFormat) {
		t.Errorf("Expected invalid format, got %v", err)
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kes.log")
	logger, closer, err := New("kes-test", config.LogConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("Failed to build logger: %v", err)
	}
	logger.Info().Msg("to file")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("Expected log line in file, got %q", data)
	}
}

func TestSetLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	if err := SetLevel(config.LogLevelWarn); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("Expected warn, got %v", zerolog.GlobalLevel())
	}
	if err := SetLevel("loud"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestNewGlobalFollowsSetLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	path := filepath.Join(t.TempDir(), "kes.log")
	logger, closer, err := NewGlobal("kes-test", config.LogConfig{Level: "warn", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("Failed to build logger: %v", err)
	}
	defer closer.Close()

	logger.Info().Msg("before")
	if err := SetLevel(config.LogLevelDebug); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	logger.Debug().Msg("after")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if strings.Contains(string(data), "before") {
		t.Errorf("Info line should have been filtered, got %q", data)
	}
	if !strings.Contains(string(data), "after") {
		t.Errorf("Debug line should pass after SetLevel, got %q", data)
	}
}
