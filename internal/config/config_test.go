// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  session_ttl: "4h"
  pending_window: "90s"
  sdm_shared_secret: "reader-secret"
  operator_jwt_secret: "ops-secret"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Auth.SessionTTL != 4*time.Hour {
		t.Errorf("SessionTTL = %v, want %v", cfg.Auth.SessionTTL, 4*time.Hour)
	}
	if cfg.Auth.PendingWindow != 90*time.Second {
		t.Errorf("PendingWindow = %v, want %v", cfg.Auth.PendingWindow, 90*time.Second)
	}
	if cfg.Auth.SDMSharedSecret != "reader-secret" {
		t.Errorf("SDMSharedSecret = %q, want %q", cfg.Auth.SDMSharedSecret, "reader-secret")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.SessionTTL != DefaultSessionTTL {
		t.Errorf("SessionTTL = %v, want default %v", cfg.Auth.SessionTTL, DefaultSessionTTL)
	}
	if cfg.Auth.PendingWindow != DefaultPendingWindow {
		t.Errorf("PendingWindow = %v, want default %v", cfg.Auth.PendingWindow, DefaultPendingWindow)
	}
	if cfg.Auth.SDMSharedSecret != "" {
		t.Errorf("SDMSharedSecret = %q, want empty (static-learned mode)", cfg.Auth.SDMSharedSecret)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TAPGATE_TEST_SECRET", "expanded-secret")

	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  sdm_shared_secret: "${TAPGATE_TEST_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.SDMSharedSecret != "expanded-secret" {
		t.Errorf("SDMSharedSecret = %q, want %q", cfg.Auth.SDMSharedSecret, "expanded-secret")
	}
}

func TestLoad_UnsetEnvExpandsEmpty(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  sdm_shared_secret: "${TAPGATE_DEFINITELY_UNSET_VAR}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.SDMSharedSecret != "" {
		t.Errorf("SDMSharedSecret = %q, want empty", cfg.Auth.SDMSharedSecret)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  session_ttl: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "session_ttl") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for missing database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_MissingHTTPAddr(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for missing http_addr")
	}
}

func TestLoad_TailscaleWithoutHostname(t *testing.T) {
	configPath := writeConfig(t, `
tailscale:
  enabled: true
database:
  path: "./test.db"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for tailscale without hostname")
	}
	if !strings.Contains(err.Error(), "tailscale.hostname") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_TailscaleReplacesHTTPAddr(t *testing.T) {
	configPath := writeConfig(t, `
tailscale:
  enabled: true
  hostname: "tapgate"
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Tailscale.Enabled || cfg.Tailscale.Hostname != "tapgate" {
		t.Errorf("Tailscale = %+v, want enabled with hostname tapgate", cfg.Tailscale)
	}
}

func TestLoad_PendingWindowTooShort(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  pending_window: "500ms"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for sub-second pending window")
	}
}
