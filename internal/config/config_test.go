package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.HTTPAddr != ":3000" || cfg.WSAddr != ":3001" {
		t.Errorf("addrs = %q, %q", cfg.HTTPAddr, cfg.WSAddr)
	}
	if cfg.MaxMessageSize != 50*1024*1024 {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.DisplayCount != 3 {
		t.Errorf("DisplayCount = %d", cfg.DisplayCount)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_Empty(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Path() != "" {
		t.Errorf("Path = %q", cfg.Path())
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Store.Driver = %q", cfg.Store.Driver)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "displaysync.yaml")
	content := `
httpAddr: ":8080"
displayCount: 5
store:
  driver: memory
media:
  backend: s3
  retention: 48h
  s3:
    bucket: walls
    usePathStyle: true
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.WSAddr != DefaultWSAddr {
		t.Errorf("WSAddr = %q, want default", cfg.WSAddr)
	}
	if cfg.DisplayCount != 5 {
		t.Errorf("DisplayCount = %d", cfg.DisplayCount)
	}
	if cfg.Store.Driver != "memory" || cfg.Store.DSN != "" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Media.Backend != MediaS3 || cfg.Media.S3.Bucket != "walls" || !cfg.Media.S3.UsePathStyle {
		t.Errorf("Media = %+v", cfg.Media)
	}
	if cfg.RetentionAge() != 48*time.Hour {
		t.Errorf("RetentionAge = %v", cfg.RetentionAge())
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Path() != path {
		t.Errorf("Path = %q", cfg.Path())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_JSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "displaysync.jsonc")
	content := `{
  // sync channel on a non-default port
  "wsAddr": ":9001",
  "allowedOrigins": ["wall.local"],
  /* drop folder */
  "import": {"dir": "drop", "remove": true},
}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.WSAddr != ":9001" {
		t.Errorf("WSAddr = %q", cfg.WSAddr)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "wall.local" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.Import.Dir != "drop" || !cfg.Import.Remove {
		t.Errorf("Import = %+v", cfg.Import)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	toml := filepath.Join(dir, "displaysync.toml")
	if err := os.WriteFile(toml, []byte("x = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(toml); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("err = %v, want ErrUnknownFormat", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"displayCount": "three"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DISPLAYSYNC_HTTP_ADDR":         ":4000",
		"DISPLAYSYNC_STORE_DRIVER":      "postgres",
		"DISPLAYSYNC_STORE_DSN":         "postgres://localhost/ds",
		"DISPLAYSYNC_LOG_LEVEL":         "warn",
		"DISPLAYSYNC_MEDIA_BACKEND":     "s3",
		"DISPLAYSYNC_S3_BUCKET":         "walls",
		"DISPLAYSYNC_S3_PATH_STYLE":     "true",
		"DISPLAYSYNC_DISPLAY_COUNT":     "4",
		"DISPLAYSYNC_MAX_DISPLAY_COUNT": "12",
		"DISPLAYSYNC_ALLOWED_ORIGINS":   "a.local, b.local:3000,",
	}
	cfg := Default()
	err := cfg.applyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.HTTPAddr != ":4000" || cfg.WSAddr != DefaultWSAddr {
		t.Errorf("addrs = %q, %q", cfg.HTTPAddr, cfg.WSAddr)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://localhost/ds" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Media.Backend != "s3" || cfg.Media.S3.Bucket != "walls" || !cfg.Media.S3.UsePathStyle {
		t.Errorf("Media = %+v", cfg.Media)
	}
	if cfg.DisplayCount != 4 || cfg.MaxDisplayCount != 12 {
		t.Errorf("DisplayCount = %d, MaxDisplayCount = %d", cfg.DisplayCount, cfg.MaxDisplayCount)
	}
	if strings.Join(cfg.AllowedOrigins, "|") != "a.local|b.local:3000" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(key string) (string, bool) {
		switch key {
		case "DISPLAYSYNC_DISPLAY_COUNT":
			return "many", true
		case "DISPLAYSYNC_METRICS":
			return "perhaps", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "DISPLAY_COUNT") || !strings.Contains(err.Error(), "METRICS") {
		t.Errorf("err = %v", err)
	}
	if cfg.DisplayCount != DefaultDisplayCount {
		t.Errorf("DisplayCount changed to %d", cfg.DisplayCount)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"same addrs", func(c *Config) { c.WSAddr = c.HTTPAddr }, "must differ"},
		{"zero displays", func(c *Config) { c.DisplayCount = 0 }, "displayCount"},
		{"displays over cap", func(c *Config) { c.MaxDisplayCount = 4; c.DisplayCount = 5 }, "exceeds maxDisplayCount"},
		{"cap above hard limit", func(c *Config) { c.MaxDisplayCount = 100000 }, "maxDisplayCount"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }, "store.driver"},
		{"missing dsn", func(c *Config) { c.Store.Driver = "mysql"; c.Store.DSN = "" }, "store.dsn"},
		{"s3 without bucket", func(c *Config) { c.Media.Backend = MediaS3 }, "bucket"},
		{"unknown backend", func(c *Config) { c.Media.Backend = "ftp" }, "media.backend"},
		{"bad retention", func(c *Config) { c.Media.Retention = "soon" }, "retention"},
		{"negative retention", func(c *Config) { c.Media.Retention = "-1h" }, "retention"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}

	cfg := Default()
	cfg.Store.Driver = "memory"
	cfg.Store.DSN = ""
	cfg.Media.Backend = MediaNone
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory/none config invalid: %v", err)
	}
}

func TestMediaMaxSize(t *testing.T) {
	cfg := Default()
	if cfg.MediaMaxSize() != DefaultMaxMessageSize {
		t.Errorf("MediaMaxSize = %d", cfg.MediaMaxSize())
	}
	cfg.Media.MaxSize = 1024
	if cfg.MediaMaxSize() != 1024 {
		t.Errorf("MediaMaxSize = %d", cfg.MediaMaxSize())
	}
}

func TestPort(t *testing.T) {
	tests := map[string]int{
		":3000":          3000,
		"0.0.0.0:8080":   8080,
		"[::1]:9000":     9000,
		"localhost":      0,
		"localhost:http": 0,
	}
	for addr, want := range tests {
		if got := Port(addr); got != want {
			t.Errorf("Port(%q) = %d, want %d", addr, got, want)
		}
	}
}
