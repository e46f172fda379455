package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "cash", cfg.Data.CashKey)
	assert.Equal(t, 252, cfg.Data.MinHistory)
	assert.True(t, cfg.Simulator.RoundTrades)
	assert.Equal(t, 1_000_000.0, cfg.Simulator.InitialValue)
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
data:
  cache_dir: /tmp/bars
  min_history: 10
simulator:
  initial_value: 50000
orchestrator:
  max_workers: 8
  max_capacity: 128
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/bars", cfg.Data.CacheDir)
	assert.Equal(t, 10, cfg.Data.MinHistory)
	assert.Equal(t, 50000.0, cfg.Simulator.InitialValue)
	assert.Equal(t, 8, cfg.Orchestrator.MaxWorkers)

	// Untouched sections keep defaults.
	assert.Equal(t, "cash", cfg.Data.CashKey)
	assert.Equal(t, ":8080", cfg.Server.APIAddress)
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("PORTSIM_TEST_CACHE", "/data/from-env")
	path := writeConfig(t, `
data:
  cache_dir: ${PORTSIM_TEST_CACHE}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/from-env", cfg.Data.CacheDir)
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
simulator:
  initial_value: -5
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulator.initial_value")
}

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"empty cash key", func(c *Config) { c.Data.CashKey = "" }, "data.cash_key"},
		{"zero min history", func(c *Config) { c.Data.MinHistory = 0 }, "data.min_history"},
		{"negative per-share", func(c *Config) { c.Simulator.PerShareCost = -1 }, "simulator.per_share_cost"},
		{"zero workers", func(c *Config) { c.Orchestrator.MaxWorkers = 0 }, "orchestrator.max_workers"},
		{"capacity below workers", func(c *Config) { c.Orchestrator.MaxCapacity = 1; c.Orchestrator.MaxWorkers = 4 }, "orchestrator.max_capacity"},
		{"empty api address", func(c *Config) { c.Server.APIAddress = "" }, "server.api_address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
