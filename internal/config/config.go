// ABOUTME: Configuration loading and parsing for the shorts messenger
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete messenger configuration
type Config struct {
	Account string        `yaml:"account"`
	Nodes   []string      `yaml:"nodes"`
	Sync    SyncConfig    `yaml:"sync"`
	Agent   AgentConfig   `yaml:"agent"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// SyncConfig holds history-window and poll timing configuration
type SyncConfig struct {
	WindowSize   int           `yaml:"window_size"`
	PollInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	PollIntervalRaw string `yaml:"poll_interval"`
}

// AgentConfig holds signing-agent bridge configuration
type AgentConfig struct {
	URL string `yaml:"url"`
}

// CacheConfig holds the optional envelope cache configuration
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Account == "" {
		return fmt.Errorf("account is required")
	}

	if c.Agent.URL == "" {
		return fmt.Errorf("agent.url is required")
	}

	if c.Sync.WindowSize < 0 {
		return fmt.Errorf("sync.window_size must not be negative")
	}

	if c.Cache.Enabled && c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required when cache is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Sync.PollIntervalRaw != "" {
		cfg.Sync.PollInterval, err = time.ParseDuration(cfg.Sync.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Sync.PollIntervalRaw, err)
		}
	}

	return nil
}
