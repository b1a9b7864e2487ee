// Package config loads and validates warden's TOML configuration: a
// typed struct decoded with BurntSushi/toml, a Duration wrapper for
// human-readable durations, and bounds-checking normalization on load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML values like "1s" or "500ms"
// decode directly instead of requiring raw nanosecond integers.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// General holds the daemon's core runtime knobs.
type General struct {
	Port             int      `toml:"port"`
	BindAddress      string   `toml:"bindAddress"`
	MuxPrefix        string   `toml:"muxPrefix"`
	PollInterval     Duration `toml:"pollIntervalMs"`
	CaptureLines     int      `toml:"captureLines"`
	MaxEventHistory  int      `toml:"maxEventHistory"`
	LogLevel         string   `toml:"logLevel"`
	LogDir           string   `toml:"logDir"`
	LockPath         string   `toml:"lockPath"`
	SendSettleDelay  Duration `toml:"sendSettleDelayMs"`
}

// API holds the HTTP surface's auth and diagnostics settings.
type API struct {
	AuthToken        string `toml:"token"`
	RequireLocalOnly bool   `toml:"requireLocalOnly"`
	AuditLog         string `toml:"auditLog"`
}

// Provider is one entry of the providers.<tag> config table.
type Provider struct {
	Command   string            `toml:"command"`
	ExtraArgs []string          `toml:"extraArgs"`
	Env       map[string]string `toml:"env"`
	Model     string            `toml:"model"`
	Enabled   bool              `toml:"enabled"`
}

// Webhook holds the dispatcher's default delivery settings.
type Webhook struct {
	URL     string   `toml:"url"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeoutMs"`
}

// Config is the fully decoded, validated daemon configuration.
type Config struct {
	General   General             `toml:"general"`
	API       API                 `toml:"api"`
	Providers map[string]Provider `toml:"providers"`
	Webhook   Webhook             `toml:"webhook"`
}

// Default returns a Config with every documented default applied.
func Default() *Config {
	return &Config{
		General: General{
			Port:            7070,
			BindAddress:     "127.0.0.1",
			MuxPrefix:       "ah",
			PollInterval:    Duration{1000 * time.Millisecond},
			CaptureLines:    500,
			MaxEventHistory: 10000,
			LogLevel:        "info",
			LogDir:          "~/.warden/logs",
			LockPath:        "/tmp/warden.lock",
			SendSettleDelay: Duration{120 * time.Millisecond},
		},
		Providers: map[string]Provider{
			"claude-code": {Command: "claude", Enabled: true},
			"codex":       {Command: "codex", Enabled: true},
			"pi":          {Command: "pi", Enabled: true},
			"opencode":    {Command: "opencode", Enabled: true},
		},
		Webhook: Webhook{Timeout: Duration{10 * time.Second}},
	}
}

// Load reads path, merges it over Default(), validates, and normalizes.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.General.Port < 1 || c.General.Port > 65535 {
		return fmt.Errorf("config: port %d out of range [1,65535]", c.General.Port)
	}
	if c.General.BindAddress == "" {
		c.General.BindAddress = "127.0.0.1"
	}
	if c.General.MuxPrefix == "" {
		c.General.MuxPrefix = "ah"
	}

	c.General.PollInterval.Duration = clampDuration(c.General.PollInterval.Duration, 100*time.Millisecond, 30*time.Second, time.Second)
	c.General.CaptureLines = clampInt(c.General.CaptureLines, 10, 10000, 500)
	c.General.MaxEventHistory = clampInt(c.General.MaxEventHistory, 100, 100000, 10000)

	switch strings.ToLower(c.General.LogLevel) {
	case "debug", "info", "warn", "error":
	case "":
		c.General.LogLevel = "info"
	default:
		return fmt.Errorf("config: unrecognized logLevel %q", c.General.LogLevel)
	}

	c.General.LogDir = ExpandHome(c.General.LogDir)
	c.General.LockPath = ExpandHome(c.General.LockPath)

	if c.General.SendSettleDelay.Duration <= 0 {
		c.General.SendSettleDelay.Duration = 120 * time.Millisecond
	}
	if c.Webhook.Timeout.Duration <= 0 {
		c.Webhook.Timeout.Duration = 10 * time.Second
	}
	return nil
}

func clampDuration(v, min, max, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max, fallback int) int {
	if v <= 0 {
		return fallback
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ExpandHome expands a leading "~" to the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	rest := strings.TrimPrefix(path, "~")
	return filepath.Join(home, rest)
}
