package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultDBPath, cfg.Database.Path)
	assert.True(t, cfg.Database.WALMode)
	assert.True(t, cfg.Database.ForeignKeys)
	assert.Equal(t, DefaultDeliveryTimeout, cfg.Delivery.Timeout)
	assert.Equal(t, DefaultConcurrency, cfg.Delivery.Concurrency)
	assert.Equal(t, DefaultSweepInterval, cfg.Delivery.SweepInterval)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, Validate(cfg))
}

func TestAddress(t *testing.T) {
	s := ServerConfig{Host: "0.0.0.0", Port: 9000}
	assert.Equal(t, "0.0.0.0:9000", s.Address())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"zero timeout", func(c *Config) { c.Delivery.Timeout = 0 }, "delivery.timeout"},
		{"zero concurrency", func(c *Config) { c.Delivery.Concurrency = 0 }, "delivery.concurrency"},
		{"negative rate", func(c *Config) { c.Delivery.RatePerHost = -1 }, "delivery.rate_per_host"},
		{"bad log level", func(c *Config) { c.Logging.Level = "noisy" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hookmill.yaml")

	content := []byte(`
server:
  host: 127.0.0.1
  port: 9999
database:
  path: /tmp/hooks.db
delivery:
  concurrency: 10
  timeout: 5s
logging:
  level: debug
  format: json
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "/tmp/hooks.db", cfg.Database.Path)
	assert.Equal(t, 10, cfg.Delivery.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Delivery.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Unset keys fall back to defaults.
	assert.Equal(t, DefaultSweepInterval, cfg.Delivery.SweepInterval)
	assert.True(t, cfg.Database.WALMode)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
}
