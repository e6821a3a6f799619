// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/caolabs/cao/internal/common/constants"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	PublicURL    string   `mapstructure:"publicUrl"`
	CORSOrigins  []string `mapstructure:"corsOrigins"`
	ReadTimeout  int      `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int      `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds SQLite configuration.
type DatabaseConfig struct {
	// Path is the SQLite database file location.
	// Empty means <home>/.agent-orchestrator/terminals.db.
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration.
// Empty URL means the in-memory event bus is used.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// ProviderConfig holds CLI agent provider configuration.
type ProviderConfig struct {
	// Default is the provider kind used when a request omits one.
	Default string `mapstructure:"default"`

	// OpencodeURL is the base URL of the opencode server for the
	// server-backed provider.
	OpencodeURL string `mapstructure:"opencodeUrl"`
}

// MCPConfig holds the embedded MCP tool server configuration.
type MCPConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Port      int    `mapstructure:"port"`
	Transport string `mapstructure:"transport"` // stdio, sse, http
}

// ToolsConfig holds delegation tool behavior flags.
type ToolsConfig struct {
	// EnableWorkingDirectory makes spawned workers inherit the caller's
	// working directory.
	EnableWorkingDirectory bool `mapstructure:"enableWorkingDirectory"`
}

// RetentionConfig holds terminal record retention configuration.
type RetentionConfig struct {
	Days int `mapstructure:"days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// BaseURL returns the externally reachable URL of the HTTP API.
func (s *ServerConfig) BaseURL() string {
	if s.PublicURL != "" {
		return strings.TrimRight(s.PublicURL, "/")
	}
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("CAO_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", constants.DefaultServerPort)
	v.SetDefault("server.publicUrl", "")
	v.SetDefault("server.corsOrigins", []string{"*"})
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - empty path means <home>/.agent-orchestrator/terminals.db
	v.SetDefault("database.path", "")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "cao-server")
	v.SetDefault("nats.maxReconnects", 10)

	// Provider defaults
	v.SetDefault("provider.default", "claude-code")
	v.SetDefault("provider.opencodeUrl", "http://localhost:4096")

	// MCP defaults
	v.SetDefault("mcp.enabled", true)
	v.SetDefault("mcp.port", constants.DefaultMCPPort)
	v.SetDefault("mcp.transport", "http")

	// Tools defaults
	v.SetDefault("tools.enableWorkingDirectory", true)

	// Retention defaults
	v.SetDefault("retention.days", constants.RetentionDays)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CAO_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or in <home>/.agent-orchestrator/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("CAO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("server.publicUrl", "CAO_SERVER_PUBLIC_URL")
	_ = v.BindEnv("provider.opencodeUrl", "CAO_PROVIDER_OPENCODE_URL")
	_ = v.BindEnv("tools.enableWorkingDirectory", "CAO_TOOLS_ENABLE_WORKING_DIRECTORY")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/" + constants.HomeDirName)
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.MCP.Enabled {
		if cfg.MCP.Port <= 0 || cfg.MCP.Port > 65535 {
			errs = append(errs, "mcp.port must be between 1 and 65535")
		}
		validTransports := map[string]bool{"stdio": true, "sse": true, "http": true}
		if !validTransports[strings.ToLower(cfg.MCP.Transport)] {
			errs = append(errs, "mcp.transport must be one of: stdio, sse, http")
		}
	}

	if cfg.Retention.Days <= 0 {
		errs = append(errs, "retention.days must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
