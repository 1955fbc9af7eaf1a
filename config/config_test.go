package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const secret = "0123456789abcdef0123456789abcdef"

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	c.SessionSecret = secret
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults + secret should validate: %v", err)
	}
	if c.Upload.BatchSize != 5 || c.Feishu.Timeout != 30*time.Second || c.Feishu.UploadTimeout != time.Minute {
		t.Errorf("defaults = %+v", c)
	}
	if c.MaxArchiveBytes() != 200<<20 {
		t.Errorf("max archive = %d", c.MaxArchiveBytes())
	}
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	// WHAT: file values override defaults, env overrides the file.
	dir := t.TempDir()
	path := filepath.Join(dir, "coverbridge.yaml")
	yml := `
listen: ":9000"
db_path: /var/lib/coverbridge/app.db
session_secret: ` + secret + `
log_level: debug
guest_mode: false
feishu:
  base_url: https://open.larksuite.com
  timeout: 10s
upload:
  batch_size: 3
rate_limits:
  POST /api/import:
    burst: 2
    per: 30s
  GET /api/export:
    burst: 1
    per: 1m
    disabled: true
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "3000")
	t.Setenv("GUEST_MODE", "true")

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Listen != ":3000" {
		t.Errorf("listen = %q, env should win", c.Listen)
	}
	if !c.GuestMode {
		t.Error("GUEST_MODE=true not applied")
	}
	if c.DBPath != "/var/lib/coverbridge/app.db" || c.LogLevel != "debug" {
		t.Errorf("file values lost: %+v", c)
	}
	if c.Feishu.BaseURL != "https://open.larksuite.com" || c.Feishu.Timeout != 10*time.Second {
		t.Errorf("feishu = %+v", c.Feishu)
	}
	if c.Feishu.UploadTimeout != 60*time.Second {
		t.Errorf("unset upload timeout should keep default, got %v", c.Feishu.UploadTimeout)
	}
	if c.Upload.BatchSize != 3 || c.Upload.MaxArchiveMB != 200 {
		t.Errorf("upload = %+v", c.Upload)
	}
	want := map[string]RateLimit{
		"POST /api/import": {Burst: 2, Per: 30 * time.Second},
		"GET /api/export":  {Burst: 1, Per: time.Minute, Disabled: true},
	}
	if len(c.RateLimits) != len(want) {
		t.Fatalf("rate_limits = %+v", c.RateLimits)
	}
	for route, w := range want {
		if c.RateLimits[route] != w {
			t.Errorf("rate_limits[%q] = %+v, want %+v", route, c.RateLimits[route], w)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("listen: [unclosed"), 0o600)
	if _, err := Load(bad); err == nil {
		t.Error("malformed yaml should fail")
	}
}

func TestApplyEnv(t *testing.T) {
	c := DefaultConfig()
	err := c.applyEnv(env(map[string]string{
		"PORT":            "127.0.0.1:8443",
		"DB_PATH":         "/tmp/x.db",
		"SESSION_SECRET":  secret,
		"LOG_LEVEL":       "warn",
		"FEISHU_BASE_URL": "http://127.0.0.1:9999",
		"MCP_ENABLED":     "0",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if c.Listen != "127.0.0.1:8443" || c.DBPath != "/tmp/x.db" || c.LogLevel != "warn" || c.MCPEnabled {
		t.Errorf("env not applied: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}

	if err := DefaultConfig().applyEnv(env(map[string]string{"GUEST_MODE": "maybe"})); err == nil {
		t.Error("invalid bool should fail")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"short secret": func(c *Config) { c.SessionSecret = "short" },
		"no db":        func(c *Config) { c.DBPath = "" },
		"bad level":    func(c *Config) { c.LogLevel = "loud" },
		"bad url":      func(c *Config) { c.Feishu.BaseURL = "open.feishu.cn" },
		"zero batch":   func(c *Config) { c.Upload.BatchSize = 0 },
		"zero timeout": func(c *Config) { c.Feishu.Timeout = 0 },
		"rate no method": func(c *Config) {
			c.RateLimits = map[string]RateLimit{"/api/import": {Burst: 1, Per: time.Minute}}
		},
		"rate zero burst": func(c *Config) {
			c.RateLimits = map[string]RateLimit{"POST /api/import": {Per: time.Minute}}
		},
		"rate sub-second": func(c *Config) {
			c.RateLimits = map[string]RateLimit{"POST /api/import": {Burst: 1, Per: time.Millisecond}}
		},
	}
	for name, mutate := range cases {
		c := DefaultConfig()
		c.SessionSecret = secret
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("trace"); err == nil || !strings.Contains(err.Error(), "trace") {
		t.Errorf("err = %v", err)
	}
}
