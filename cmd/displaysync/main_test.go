package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Giorgiomufen/display-sync/pkg/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version", "--short")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("version --short = %q", out)
	}

	out, err = run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Go version") {
		t.Errorf("version = %q", out)
	}
}

func TestLibraryList(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "library.db")
	cfgPath := filepath.Join(dir, "displaysync.yaml")
	cfg := "store:\n  driver: sqlite\n  dsn: " + dbPath + "\nmedia:\n  backend: none\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "library", "list", "--config", cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "library is empty") {
		t.Errorf("empty list = %q", out)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, store.DriverSQLite, dbPath)
	if err != nil {
		t.Fatal(err)
	}
	item, err := st.Save(ctx, "Lobby", "<p>welcome</p>")
	if err != nil {
		t.Fatal(err)
	}
	st.Close()

	out, err = run(t, "library", "list", "--config", cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, item.ID) || !strings.Contains(out, "Lobby") || !strings.Contains(out, "14") {
		t.Errorf("list = %q", out)
	}
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Setenv("DISPLAYSYNC_HTTP_ADDR", ":4000")
	t.Setenv("DISPLAYSYNC_WS_ADDR", ":4001")
	t.Setenv("DISPLAYSYNC_STORE_DRIVER", "memory")

	cmd := serveCmd()
	cmd.PersistentFlags().String("config", "", "")
	if err := cmd.ParseFlags([]string{"--ws-addr", ":5001", "--log-level", "debug"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":4000" {
		t.Errorf("HTTPAddr = %q, want env value", cfg.HTTPAddr)
	}
	if cfg.WSAddr != ":5001" {
		t.Errorf("WSAddr = %q, want flag value", cfg.WSAddr)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("DISPLAYSYNC_STORE_DRIVER", "memory")

	cmd := serveCmd()
	cmd.PersistentFlags().String("config", "", "")
	if err := cmd.ParseFlags([]string{"--http-addr", ":3001"}); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(cmd); err == nil {
		t.Fatal("expected error for identical listen addresses")
	}
}
