// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, validation, and duration parsing

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
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
  name: "test-gateway"

session:
  backend: "redis"
  ttl: "30m"
  redis:
    addr: "localhost:6379"
    db: 2
    key_prefix: "test:session:"

admission:
  require_scopes: true

catalog:
  packs_file: "./packs.toml"

database:
  path: "./test.db"

ops:
  enabled: true
  token_hash: "$2a$10$abcdefghijklmnopqrstuv"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("http_addr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.Name != "test-gateway" {
		t.Errorf("name = %q", cfg.Server.Name)
	}
	if cfg.Session.Backend != "redis" {
		t.Errorf("backend = %q", cfg.Session.Backend)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Errorf("ttl = %v", cfg.Session.TTL)
	}
	if cfg.Session.Redis.Addr != "localhost:6379" || cfg.Session.Redis.DB != 2 {
		t.Errorf("redis = %+v", cfg.Session.Redis)
	}
	if cfg.Session.Redis.KeyPrefix != "test:session:" {
		t.Errorf("key_prefix = %q", cfg.Session.Redis.KeyPrefix)
	}
	if !cfg.Admission.RequireScopes {
		t.Error("require_scopes not set")
	}
	if cfg.Catalog.PacksFile != "./packs.toml" {
		t.Errorf("packs_file = %q", cfg.Catalog.PacksFile)
	}
	if !cfg.Ops.Enabled {
		t.Error("ops not enabled")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Name != "grimoire-gateway" {
		t.Errorf("default name = %q", cfg.Server.Name)
	}
	if cfg.Session.Backend != "memory" {
		t.Errorf("default backend = %q", cfg.Session.Backend)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default level = %q", cfg.Logging.Level)
	}
	if cfg.Session.TTL != 0 {
		t.Errorf("unset ttl = %v, want zero (store default applies)", cfg.Session.TTL)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("TEST_REDIS_PASSWORD", "hunter2")

	path := writeConfig(t, `
server:
  http_addr: ":8080"
session:
  backend: "redis"
  redis:
    addr: "${TEST_REDIS_ADDR}"
    password: "${TEST_REDIS_PASSWORD}"
database:
  path: "./test.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Redis.Addr != "redis.internal:6379" {
		t.Errorf("addr = %q", cfg.Session.Redis.Addr)
	}
	if cfg.Session.Redis.Password != "hunter2" {
		t.Errorf("password = %q", cfg.Session.Redis.Password)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing http addr",
			content: "database:\n  path: ./t.db\n",
			wantErr: "server.http_addr",
		},
		{
			name:    "missing database path",
			content: "server:\n  http_addr: \":8080\"\n",
			wantErr: "database.path",
		},
		{
			name:    "unknown session backend",
			content: "server:\n  http_addr: \":8080\"\nsession:\n  backend: dynamo\ndatabase:\n  path: ./t.db\n",
			wantErr: "session.backend",
		},
		{
			name:    "redis backend without addr",
			content: "server:\n  http_addr: \":8080\"\nsession:\n  backend: redis\ndatabase:\n  path: ./t.db\n",
			wantErr: "session.redis.addr",
		},
		{
			name:    "ops without token hash",
			content: "server:\n  http_addr: \":8080\"\ndatabase:\n  path: ./t.db\nops:\n  enabled: true\n",
			wantErr: "ops.token_hash",
		},
		{
			name:    "tailscale without hostname",
			content: "tailscale:\n  enabled: true\ndatabase:\n  path: ./t.db\n",
			wantErr: "tailscale.hostname",
		},
		{
			name:    "matrix alerts incomplete",
			content: "server:\n  http_addr: \":8080\"\ndatabase:\n  path: ./t.db\nalerts:\n  matrix:\n    enabled: true\n",
			wantErr: "alerts.matrix",
		},
		{
			name:    "bad ttl",
			content: "server:\n  http_addr: \":8080\"\nsession:\n  ttl: nonsense\ndatabase:\n  path: ./t.db\n",
			wantErr: "session.ttl",
		},
		{
			name:    "negative ttl",
			content: "server:\n  http_addr: \":8080\"\nsession:\n  ttl: \"-5m\"\ndatabase:\n  path: ./t.db\n",
			wantErr: "session.ttl",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_TailscaleOnly(t *testing.T) {
	path := writeConfig(t, `
tailscale:
  enabled: true
  hostname: "grimoire"
  ephemeral: true
database:
  path: "./t.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Tailscale.Enabled || cfg.Tailscale.Hostname != "grimoire" {
		t.Errorf("tailscale = %+v", cfg.Tailscale)
	}
}
