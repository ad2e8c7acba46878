package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rekindle.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if !cfg.Server.Enabled || cfg.Server.ListenAddress != ":8484" {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Watcher.Enabled {
		t.Error("watcher enabled by default")
	}
	if cfg.Watcher.Debounce.Std() != 500*time.Millisecond {
		t.Errorf("default debounce = %s, want 500ms", cfg.Watcher.Debounce.Std())
	}
	if cfg.History.Enabled || cfg.History.Keep != 1000 {
		t.Errorf("history defaults = %+v", cfg.History)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:9000"
  read_timeout: 5s
watcher:
  enabled: true
  paths:
    - /etc/myapp
  debounce: 250ms
history:
  enabled: true
  path: /var/lib/rekindle/history.db
  keep: 50
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:9000" {
		t.Errorf("listen address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout.Std() != 5*time.Second {
		t.Errorf("read timeout = %s, want 5s", cfg.Server.ReadTimeout.Std())
	}
	// Unset fields keep their defaults.
	if cfg.Server.ShutdownTimeout.Std() != 10*time.Second {
		t.Errorf("shutdown timeout = %s, want default 10s", cfg.Server.ShutdownTimeout.Std())
	}
	if !cfg.Watcher.Enabled || cfg.Watcher.Debounce.Std() != 250*time.Millisecond {
		t.Errorf("watcher = %+v", cfg.Watcher)
	}
	if len(cfg.Watcher.Paths) != 1 || cfg.Watcher.Paths[0] != "/etc/myapp" {
		t.Errorf("watcher paths = %v", cfg.Watcher.Paths)
	}
	if !cfg.History.Enabled || cfg.History.Keep != 50 {
		t.Errorf("history = %+v", cfg.History)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() on a missing file succeeded")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("Load() on malformed YAML succeeded")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  read_timeout: soon
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted an unparseable duration")
	}
}

func TestValidateWatcherNeedsPaths(t *testing.T) {
	cfg := Default()
	cfg.Watcher.Enabled = true
	cfg.Watcher.Paths = nil
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted an enabled watcher with no paths")
	}
}

func TestValidateRejectsBadTelemetry(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.Tracing.Enabled = true
	cfg.Telemetry.Tracing.Exporter = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted an unknown tracing exporter")
	}
}

func TestDurationFromNanoseconds(t *testing.T) {
	path := writeConfig(t, `
watcher:
  enabled: true
  paths: ["/tmp"]
  debounce: 1000000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Watcher.Debounce.Std() != time.Millisecond {
		t.Errorf("debounce = %s, want 1ms", cfg.Watcher.Debounce.Std())
	}
}
