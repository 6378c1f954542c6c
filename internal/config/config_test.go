package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultAccount = "shop"
	cfg.Bridge.Reconnect.MaxInterval = Duration{90 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultAccount != "shop" {
		t.Errorf("DefaultAccount = %q, want %q", loaded.DefaultAccount, "shop")
	}
	if loaded.Bridge.Reconnect.MaxInterval.Duration != 90*time.Second {
		t.Errorf("MaxInterval = %v, want 1m30s", loaded.Bridge.Reconnect.MaxInterval)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Bridge.ConnectTimeout.Duration != 30*time.Second {
		t.Errorf("ConnectTimeout = %v, want 30s", cfg.Bridge.ConnectTimeout)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[ai]
provider = "openai"
model = "gpt-4o-mini"

[bridge.reconnect]
max_attempts = 3
initial_interval = "250ms"
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AI.Provider != "openai" || cfg.AI.Model != "gpt-4o-mini" {
		t.Errorf("AI = %+v", cfg.AI)
	}
	if cfg.AI.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want env fallback", cfg.AI.APIKey)
	}
	if cfg.AI.HistoryTurns != 10 {
		t.Errorf("HistoryTurns = %d, want default 10", cfg.AI.HistoryTurns)
	}
	if cfg.Bridge.Reconnect.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Bridge.Reconnect.MaxAttempts)
	}
	if cfg.Bridge.Reconnect.InitialInterval.Duration != 250*time.Millisecond {
		t.Errorf("InitialInterval = %v, want 250ms", cfg.Bridge.Reconnect.InitialInterval)
	}
	if cfg.Bridge.Reconnect.MaxInterval.Duration != time.Minute {
		t.Errorf("MaxInterval = %v, want default 1m", cfg.Bridge.Reconnect.MaxInterval)
	}
}

func TestInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[bridge]\nsend_timeout = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid duration")
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
