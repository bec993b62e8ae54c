// Package config handles configuration loading for grimoire-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from GRIMOIRE_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/grimoire/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	session:
//	  redis:
//	    password: "${GRIMOIRE_REDIS_PASSWORD}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  name: "grimoire-gateway"
//
// Session store:
//
//	session:
//	  backend: "redis"          # redis or memory
//	  ttl: "1h"
//	  redis:
//	    addr: "localhost:6379"
//	    password: "${GRIMOIRE_REDIS_PASSWORD}"
//	    db: 0
//	    key_prefix: "grimoire:session:"
//
// Admission:
//
//	admission:
//	  require_scopes: false     # reject connections with no scope declaration
//
// Tool catalog:
//
//	catalog:
//	  packs_file: "/etc/grimoire/packs.toml"
//
// Audit/usage database:
//
//	database:
//	  path: "/var/lib/grimoire/gateway.db"
//
// Operator console:
//
//	ops:
//	  enabled: true
//	  token_hash: "${GRIMOIRE_OPS_TOKEN_HASH}"   # bcrypt hash, see bootstrap
//
// Alerts:
//
//	alerts:
//	  matrix:
//	    enabled: false
//	    homeserver: "https://matrix.org"
//	    user_id: "@gateway:matrix.org"
//	    access_token: "${GRIMOIRE_MATRIX_TOKEN}"
//	    room_id: "!ops:matrix.org"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "grimoire-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
