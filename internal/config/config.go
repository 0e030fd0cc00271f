// ABOUTME: Configuration loading and parsing for relay-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relay-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Broker   BrokerConfig   `yaml:"broker"`
	Database DatabaseConfig `yaml:"database"`
	Relay    RelayConfig    `yaml:"relay"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// BrokerConfig holds the shared pub/sub broker connection settings.
// ChannelPrefix namespaces every channel this gateway touches so several
// deployments can share one Redis instance.
type BrokerConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// DatabaseConfig holds the agent/device registry database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RelayConfig holds relay timing configuration.
// DefaultWaitTimeout applies when a caller asks to block without naming a
// timeout; MaxWaitTimeout is the ceiling a caller-supplied timeout may not
// exceed.
type RelayConfig struct {
	DefaultWaitTimeout time.Duration `yaml:"-"`
	MaxWaitTimeout     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	DefaultWaitTimeoutRaw string `yaml:"default_wait_timeout"`
	MaxWaitTimeoutRaw     string `yaml:"max_wait_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults applied when the corresponding config fields are absent.
const (
	DefaultWaitTimeout   = 10 * time.Second
	MaxWaitTimeout       = time.Minute
	DefaultChannelPrefix = "relay"
)

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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in optional fields that have sensible defaults.
func (c *Config) applyDefaults() {
	if c.Relay.DefaultWaitTimeout == 0 {
		c.Relay.DefaultWaitTimeout = DefaultWaitTimeout
	}
	if c.Relay.MaxWaitTimeout == 0 {
		c.Relay.MaxWaitTimeout = MaxWaitTimeout
	}
	if c.Broker.ChannelPrefix == "" {
		c.Broker.ChannelPrefix = DefaultChannelPrefix
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Broker.RedisAddr == "" {
		return fmt.Errorf("broker.redis_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Relay.DefaultWaitTimeout > c.Relay.MaxWaitTimeout {
		return fmt.Errorf("relay.default_wait_timeout %s exceeds relay.max_wait_timeout %s",
			c.Relay.DefaultWaitTimeout, c.Relay.MaxWaitTimeout)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Relay.DefaultWaitTimeoutRaw != "" {
		cfg.Relay.DefaultWaitTimeout, err = time.ParseDuration(cfg.Relay.DefaultWaitTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing default_wait_timeout %q: %w", cfg.Relay.DefaultWaitTimeoutRaw, err)
		}
	}

	if cfg.Relay.MaxWaitTimeoutRaw != "" {
		cfg.Relay.MaxWaitTimeout, err = time.ParseDuration(cfg.Relay.MaxWaitTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing max_wait_timeout %q: %w", cfg.Relay.MaxWaitTimeoutRaw, err)
		}
	}

	return nil
}
