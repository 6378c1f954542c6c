package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.wabridge/config.toml.
type Config struct {
	DefaultAccount string `toml:"default_account"`

	Log    LogConfig    `toml:"log"`
	HTTP   HTTPConfig   `toml:"http"`
	Bridge BridgeConfig `toml:"bridge"`
	AI     AIConfig     `toml:"ai"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// HTTPConfig controls the HTTP control surface. An empty Listen disables it.
type HTTPConfig struct {
	Listen string `toml:"listen"`
}

type BridgeConfig struct {
	DeviceName     string          `toml:"device_name"`
	ConnectTimeout Duration        `toml:"connect_timeout"`
	SendTimeout    Duration        `toml:"send_timeout"`
	ReplyToGroups  bool            `toml:"reply_to_groups"`
	Reconnect      ReconnectConfig `toml:"reconnect"`
}

// ReconnectConfig tunes the exponential backoff applied after network
// disconnects. MaxAttempts of 0 retries forever.
type ReconnectConfig struct {
	InitialInterval Duration `toml:"initial_interval"`
	MaxInterval     Duration `toml:"max_interval"`
	Multiplier      float64  `toml:"multiplier"`
	MaxAttempts     uint     `toml:"max_attempts"`
}

type AIConfig struct {
	Provider          string   `toml:"provider"` // openai, gemini, echo, none
	Model             string   `toml:"model"`
	APIKey            string   `toml:"api_key"`
	BaseURL           string   `toml:"base_url"`
	SystemPrompt      string   `toml:"system_prompt"`
	HistoryTurns      int      `toml:"history_turns"`
	Timeout           Duration `toml:"timeout"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	ExtractEvents     bool     `toml:"extract_events"`
}

// Duration is a time.Duration encoded as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when no file exists. Values set in a
// file override these field by field.
func Default() *Config {
	return &Config{
		DefaultAccount: "main",
		Log:            LogConfig{Level: "info"},
		HTTP:           HTTPConfig{Listen: "127.0.0.1:8088"},
		Bridge: BridgeConfig{
			DeviceName:     "wabridge",
			ConnectTimeout: Duration{30 * time.Second},
			SendTimeout:    Duration{30 * time.Second},
			Reconnect: ReconnectConfig{
				InitialInterval: Duration{time.Second},
				MaxInterval:     Duration{time.Minute},
				Multiplier:      2,
				MaxAttempts:     10,
			},
		},
		AI: AIConfig{
			Provider:          "echo",
			HistoryTurns:      10,
			Timeout:           Duration{30 * time.Second},
			RequestsPerMinute: 30,
		},
	}
}

// Load reads config from the given path on top of Default. Returns nil config
// and error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if os.IsNotExist(err) {
		cfg = Default()
		cfg.applyEnv()
		return cfg, nil
	}
	return nil, err
}

func (c *Config) applyEnv() {
	if c.AI.APIKey != "" {
		return
	}
	switch c.AI.Provider {
	case "openai":
		c.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	case "gemini":
		c.AI.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
