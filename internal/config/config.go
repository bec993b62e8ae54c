// ABOUTME: Configuration loading and parsing for grimoire-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete grimoire-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Session   SessionConfig   `yaml:"session"`
	Admission AdmissionConfig `yaml:"admission"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Database  DatabaseConfig  `yaml:"database"`
	Ops       OpsConfig       `yaml:"ops"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	Name     string `yaml:"name"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	CertFile  string `yaml:"cert_file"` // TLS cert file (generate via: tailscale cert <hostname>)
	KeyFile   string `yaml:"key_file"`  // TLS key file
	Funnel    bool   `yaml:"funnel"`    // Enable public Funnel (implies HTTPS)
}

// SessionConfig selects and tunes the session record store
type SessionConfig struct {
	// Backend is "redis" or "memory". The in-memory backend is for
	// development only; records do not survive a restart.
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// RedisConfig holds connection settings for the Redis session backend
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AdmissionConfig tunes connection admission
type AdmissionConfig struct {
	// RequireScopes rejects connections that present no Tool-Scopes
	// declaration, instead of admitting them unrestricted.
	RequireScopes bool `yaml:"require_scopes"`
}

// CatalogConfig locates external tool pack declarations
type CatalogConfig struct {
	// PacksFile is an optional TOML file declaring webhook-backed tool
	// packs loaded alongside the built-in packs.
	PacksFile string `yaml:"packs_file"`
}

// DatabaseConfig holds the audit/usage database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// OpsConfig holds the operator console configuration
type OpsConfig struct {
	Enabled bool `yaml:"enabled"`
	// TokenHash is the bcrypt hash of the ops bearer token. Generate a
	// token and hash pair with `grimoire-gateway bootstrap`.
	TokenHash string `yaml:"token_hash"`
}

// AlertsConfig holds operator alerting configuration
type AlertsConfig struct {
	Matrix MatrixConfig `yaml:"matrix"`
}

// MatrixConfig holds Matrix alert delivery configuration
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	RoomID      string `yaml:"room_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in unset fields.
func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "grimoire-gateway"
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// A listener address is required unless Tailscale carries the traffic
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("session.backend must be %q or %q, got %q", "redis", "memory", c.Session.Backend)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Ops.Enabled && c.Ops.TokenHash == "" {
		return fmt.Errorf("ops.token_hash is required when ops is enabled")
	}

	if c.Alerts.Matrix.Enabled {
		if c.Alerts.Matrix.Homeserver == "" || c.Alerts.Matrix.AccessToken == "" || c.Alerts.Matrix.RoomID == "" {
			return fmt.Errorf("alerts.matrix requires homeserver, access_token, and room_id")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Session.TTLRaw != "" {
		ttl, err := time.ParseDuration(cfg.Session.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session.ttl %q: %w", cfg.Session.TTLRaw, err)
		}
		if ttl <= 0 {
			return fmt.Errorf("session.ttl must be positive, got %q", cfg.Session.TTLRaw)
		}
		cfg.Session.TTL = ttl
	}
	return nil
}
