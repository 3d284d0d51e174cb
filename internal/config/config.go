package config

import (
	"fmt"
	"time"
)

// Config represents the main arus configuration
type Config struct {
	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Stream registry configuration
	Stream StreamConfig `json:"stream" mapstructure:"stream"`

	// Tool bridge configuration
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// History archive configuration
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Maintenance scheduler configuration
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// StreamConfig holds execution registry configuration
type StreamConfig struct {
	// RetentionSeconds is how long terminal executions survive in the
	// registry before the create-time sweep removes them.
	RetentionSeconds int `json:"retention_seconds" mapstructure:"retention_seconds"`
}

// ToolsConfig holds tool bridge configuration
type ToolsConfig struct {
	HeartbeatSeconds int `json:"heartbeat_seconds" mapstructure:"heartbeat_seconds"`
	TimeoutSeconds   int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	PoolWorkers      int `json:"pool_workers" mapstructure:"pool_workers"`
}

// HistoryConfig holds history archive configuration
type HistoryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// MaintenanceConfig holds maintenance scheduler configuration
type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Enabled: true,
			Port:    8777,
		},
		Stream: StreamConfig{
			RetentionSeconds: 300,
		},
		Tools: ToolsConfig{
			HeartbeatSeconds: 10,
			TimeoutSeconds:   600,
			PoolWorkers:      8,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: "@every 1m",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}

// RetentionWindow returns the registry retention window as a duration
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Stream.RetentionSeconds) * time.Second
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Gateway.Enabled && (c.Gateway.Port <= 0 || c.Gateway.Port > 65535) {
		return fmt.Errorf("gateway port must be between 1 and 65535, got %d", c.Gateway.Port)
	}
	if c.Stream.RetentionSeconds <= 0 {
		return fmt.Errorf("stream retention must be positive, got %d", c.Stream.RetentionSeconds)
	}
	if c.Tools.HeartbeatSeconds <= 0 {
		return fmt.Errorf("tool heartbeat interval must be positive, got %d", c.Tools.HeartbeatSeconds)
	}
	if c.Tools.PoolWorkers <= 0 {
		return fmt.Errorf("pool workers must be positive, got %d", c.Tools.PoolWorkers)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}
