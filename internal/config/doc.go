// Package config handles configuration loading for tapgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  sdm_shared_secret: "${TAPGATE_SDM_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  session_ttl: "8h"
//	  pending_window: "2m"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/tapgate/tapgate.db"
//
// Authentication and verification:
//
//	auth:
//	  session_ttl: "8h"
//	  pending_window: "2m"
//	  sdm_shared_secret: "${TAPGATE_SDM_SECRET}"   # empty = static-learned mode
//	  operator_jwt_secret: "${TAPGATE_OPS_SECRET}" # empty = ops API disabled
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "tapgate"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
