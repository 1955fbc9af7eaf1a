// Package config loads the coverbridge server configuration: a YAML file
// merged over defaults, then environment overrides, then validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/coverbridge/feishu"
	"github.com/hazyhaar/coverbridge/horosafe"
	"github.com/hazyhaar/coverbridge/reconcile"
)

// Config holds the full server configuration.
type Config struct {
	Listen        string       `yaml:"listen"`
	DBPath        string       `yaml:"db_path"`
	SessionSecret string       `yaml:"session_secret"`
	LogLevel      string       `yaml:"log_level"`
	GuestMode     bool         `yaml:"guest_mode"`
	MCPEnabled    bool         `yaml:"mcp_enabled"`
	SecureCookies bool         `yaml:"secure_cookies"`
	EventRetDays  int          `yaml:"event_retention_days"`
	Feishu        FeishuConfig `yaml:"feishu"`
	Upload        UploadConfig `yaml:"upload"`

	// RateLimits overrides rate rules at startup, keyed "METHOD /path".
	RateLimits map[string]RateLimit `yaml:"rate_limits"`
}

// RateLimit admits Burst requests per client, refilled over Per.
type RateLimit struct {
	Burst    int           `yaml:"burst"`
	Per      time.Duration `yaml:"per"`
	Disabled bool          `yaml:"disabled"`
}

// FeishuConfig configures the remote table client.
type FeishuConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
}

// UploadConfig bounds the import pipeline.
type UploadConfig struct {
	BatchSize    int `yaml:"batch_size"`
	MaxArchiveMB int `yaml:"max_archive_mb"`
	MaxEntryMB   int `yaml:"max_entry_mb"`
}

// DefaultConfig returns sane defaults. SessionSecret has no default.
func DefaultConfig() *Config {
	return &Config{
		Listen:       ":8080",
		DBPath:       "data/coverbridge.db",
		LogLevel:     "info",
		GuestMode:    true,
		MCPEnabled:   true,
		EventRetDays: 90,
		Feishu: FeishuConfig{
			BaseURL:       feishu.DefaultBaseURL,
			Timeout:       30 * time.Second,
			UploadTimeout: 60 * time.Second,
		},
		Upload: UploadConfig{
			BatchSize:    reconcile.BatchSize,
			MaxArchiveMB: 200,
			MaxEntryMB:   50,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path when
// path is non-empty, then environment overrides, then Validate.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides fields from the environment. PORT accepts either a
// bare port ("3000") or a listen address.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			c.Listen = ":" + v
		} else {
			c.Listen = v
		}
	}
	if v, ok := lookup("DB_PATH"); ok && v != "" {
		c.DBPath = v
	}
	if v, ok := lookup("SESSION_SECRET"); ok && v != "" {
		c.SessionSecret = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("FEISHU_BASE_URL"); ok && v != "" {
		c.Feishu.BaseURL = v
	}
	for key, dst := range map[string]*bool{
		"GUEST_MODE":     &c.GuestMode,
		"MCP_ENABLED":    &c.MCPEnabled,
		"SECURE_COOKIES": &c.SecureCookies,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if err := horosafe.ValidateSecret([]byte(c.SessionSecret)); err != nil {
		return fmt.Errorf("session_secret: %w", err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if !strings.HasPrefix(c.Feishu.BaseURL, "http://") && !strings.HasPrefix(c.Feishu.BaseURL, "https://") {
		return fmt.Errorf("feishu.base_url must be an http(s) URL, got %q", c.Feishu.BaseURL)
	}
	if c.Feishu.Timeout <= 0 || c.Feishu.UploadTimeout <= 0 {
		return fmt.Errorf("feishu timeouts must be > 0")
	}
	if c.Upload.BatchSize <= 0 {
		return fmt.Errorf("upload.batch_size must be > 0")
	}
	if c.Upload.MaxArchiveMB <= 0 || c.Upload.MaxEntryMB <= 0 {
		return fmt.Errorf("upload size limits must be > 0")
	}
	for route, rl := range c.RateLimits {
		method, path, ok := strings.Cut(route, " ")
		if !ok || method == "" || !strings.HasPrefix(path, "/") {
			return fmt.Errorf("rate_limits: route %q: want \"METHOD /path\"", route)
		}
		if rl.Burst <= 0 || rl.Per < time.Second {
			return fmt.Errorf("rate_limits: route %q: burst must be > 0 and per at least 1s", route)
		}
	}
	return nil
}

// MaxArchiveBytes returns the archive limit in bytes.
func (c *Config) MaxArchiveBytes() int64 { return int64(c.Upload.MaxArchiveMB) << 20 }

// MaxEntryBytes returns the per-image limit in bytes.
func (c *Config) MaxEntryBytes() int64 { return int64(c.Upload.MaxEntryMB) << 20 }

// ParseLevel maps debug/info/warn/error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level %q: want debug, info, warn or error", s)
}
