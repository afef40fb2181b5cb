// ABOUTME: Configuration loading and parsing for entropy-chat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied before the file is decoded
const (
	DefaultHTTPAddr       = "127.0.0.1:8787"
	DefaultDatabasePath   = "entropy-chat.db"
	DefaultKeyFile        = "entropy-chat.key"
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultModel          = "gpt-4o-mini"
	DefaultRequestTimeout = 60 * time.Second
	DefaultIdempotencyTTL = 10 * time.Minute
	DefaultIdempotencyMax = 10_000
)

// Config represents the complete entropy-chat configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Provider ProviderConfig `yaml:"provider" toml:"provider"`
	Vault    VaultConfig    `yaml:"vault" toml:"vault"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	API      APIConfig      `yaml:"api" toml:"api"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// ProviderConfig holds the OpenAI-compatible endpoint settings
type ProviderConfig struct {
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	DefaultModel      string  `yaml:"default_model" toml:"default_model"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// VaultConfig locates the credential encryption key
type VaultConfig struct {
	KeyFile string `yaml:"key_file" toml:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// APIConfig holds HTTP API behaviour
type APIConfig struct {
	IdempotencyTTL    time.Duration `yaml:"-" toml:"-"`
	IdempotencyTTLRaw string        `yaml:"idempotency_ttl" toml:"idempotency_ttl"`
	// IdempotencyMaxEntries bounds the replay cache
	IdempotencyMaxEntries int `yaml:"idempotency_max_entries" toml:"idempotency_max_entries"`
}

// Default returns a configuration with every default filled in
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: DefaultHTTPAddr},
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		Provider: ProviderConfig{
			BaseURL:        DefaultBaseURL,
			DefaultModel:   DefaultModel,
			RequestTimeout: DefaultRequestTimeout,
		},
		Vault:   VaultConfig{KeyFile: DefaultKeyFile},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		API: APIConfig{
			IdempotencyTTL:        DefaultIdempotencyTTL,
			IdempotencyMaxEntries: DefaultIdempotencyMax,
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path when it is set and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return Load(path)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Vault.KeyFile == "" {
		return fmt.Errorf("vault.key_file is required")
	}

	u, err := url.Parse(c.Provider.BaseURL)
	if err != nil {
		return fmt.Errorf("provider.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("provider.base_url must use http or https scheme")
	}
	if strings.TrimSpace(c.Provider.DefaultModel) == "" {
		return fmt.Errorf("provider.default_model is required")
	}
	if c.Provider.RequestsPerSecond < 0 {
		return fmt.Errorf("provider.requests_per_second cannot be negative")
	}
	if c.Provider.Burst < 0 {
		return fmt.Errorf("provider.burst cannot be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.API.IdempotencyTTL <= 0 {
		return fmt.Errorf("api.idempotency_ttl must be positive")
	}
	if c.API.IdempotencyMaxEntries <= 0 {
		return fmt.Errorf("api.idempotency_max_entries must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Provider.RequestTimeoutRaw != "" {
		cfg.Provider.RequestTimeout, err = time.ParseDuration(cfg.Provider.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Provider.RequestTimeoutRaw, err)
		}
	}

	if cfg.API.IdempotencyTTLRaw != "" {
		cfg.API.IdempotencyTTL, err = time.ParseDuration(cfg.API.IdempotencyTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing idempotency_ttl %q: %w", cfg.API.IdempotencyTTLRaw, err)
		}
	}

	return nil
}

// EnvConfigPath names the environment variable consulted by ResolvePath
const EnvConfigPath = "ENTROPY_CHAT_CONFIG"

// ResolvePath picks the config file to load: the explicit path when given,
// then $ENTROPY_CHAT_CONFIG, then ./entropy-chat.yaml or ./entropy-chat.toml
// if present. An empty result means run on defaults.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	for _, candidate := range []string{"entropy-chat.yaml", "entropy-chat.toml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
