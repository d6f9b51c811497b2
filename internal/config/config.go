// Package config provides configuration management for Hookmill.
package config

import (
	"strconv"
	"time"
)

// Config is the root configuration structure for Hookmill.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind the server to
	Host string `mapstructure:"host"`

	// Port to listen on
	Port int `mapstructure:"port"`

	// Request timeouts
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// Maximum request body size in bytes
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DeliveryConfig holds delivery engine settings.
type DeliveryConfig struct {
	// Timeout bounds a single outbound HTTP attempt
	Timeout time.Duration `mapstructure:"timeout"`

	// Concurrency is the number of deliveries executed in parallel
	Concurrency int `mapstructure:"concurrency"`

	// PollInterval is how often workers look for due jobs
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// SweepInterval is how often the safety-net sweep runs
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// StaleCreatedAfter is the age at which an unqueued delivery is rescued
	StaleCreatedAfter time.Duration `mapstructure:"stale_created_after"`

	// RatePerHost limits outbound requests per destination host per second.
	// Zero disables rate limiting.
	RatePerHost float64 `mapstructure:"rate_per_host"`

	// RateBurst is the per-host limiter burst size
	RateBurst int `mapstructure:"rate_burst"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp"`

	// Output file (empty for stdout)
	Output string `mapstructure:"output"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}
