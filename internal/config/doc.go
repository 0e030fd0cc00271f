// Package config handles configuration loading for relay-gateway.
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
//	broker:
//	  redis_password: "${RELAY_REDIS_PASSWORD}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	relay:
//	  default_wait_timeout: "10s"
//	  max_wait_timeout: "1m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # Relay API and metrics
//
// Broker:
//
//	broker:
//	  redis_addr: "localhost:6379"
//	  redis_password: "${RELAY_REDIS_PASSWORD}"
//	  redis_db: 0
//	  channel_prefix: "relay"
//
// Database:
//
//	database:
//	  path: "/var/lib/relay/registry.db"
//
// Relay timing:
//
//	relay:
//	  default_wait_timeout: "10s"  # Blocking calls without an explicit timeout
//	  max_wait_timeout: "1m"       # Ceiling for caller-supplied timeouts
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Load() validates:
//
//   - Server HTTP address presence
//   - Broker Redis address presence
//   - Database path presence
//   - Duration format validity
//   - Default wait timeout not exceeding the maximum
package config
