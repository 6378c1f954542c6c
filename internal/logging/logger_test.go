package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wabridged.log")

	logger, err := New(path, "main", "debug")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Debug("hello", zap.String("k", "v"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	for _, want := range []string{`"msg":"hello"`, `"account":"main"`, `"k":"v"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wabridged.log")
	if _, err := New(path, "main", "loud"); err == nil {
		t.Error("New() expected error for unknown level")
	}
}

func TestWALoggerRoutesToZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	wl := WALogger(zap.New(core), "whatsmeow").Sub("Client")

	wl.Warnf("socket closed: %d", 1006)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Message != "socket closed: 1006" {
		t.Errorf("message = %q", entries[0].Message)
	}
	if entries[0].LoggerName != "whatsmeow.Client" {
		t.Errorf("logger name = %q, want whatsmeow.Client", entries[0].LoggerName)
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("level = %v, want warn", entries[0].Level)
	}
}
