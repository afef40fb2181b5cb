// Package config handles configuration loading for entropy-chat.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Every field has a default, so running without a file works.
//
// # Configuration File
//
// Lookup order (see ResolvePath):
//
//  1. The --config flag
//  2. Path from ENTROPY_CHAT_CONFIG environment variable
//  3. ./entropy-chat.yaml, then ./entropy-chat.toml
//
// Files ending in .toml are decoded as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${ENTROPY_CHAT_DB}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8787"
//
//	database:
//	  path: "entropy-chat.db"
//
//	provider:
//	  base_url: "https://api.openai.com/v1"
//	  default_model: "gpt-4o-mini"
//	  request_timeout: "60s"     # time to response headers
//	  requests_per_second: 0     # 0 disables the limiter
//	  burst: 1
//
//	vault:
//	  key_file: "entropy-chat.key"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	api:
//	  idempotency_ttl: "10m"
//	  idempotency_max_entries: 10000
//
// Durations use Go's time.ParseDuration syntax.
package config
