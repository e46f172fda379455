// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Logging      LoggingConfig      `yaml:"logging"`
	Data         DataConfig         `yaml:"data"`
	Simulator    SimulatorConfig    `yaml:"simulator"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
	Server       ServerConfig       `yaml:"server"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DataConfig locates the dataset cache and fixes universe semantics.
type DataConfig struct {
	// CacheDir holds the per-symbol parquet bar files.
	CacheDir string `yaml:"cache_dir"`
	// CashKey names the cash column appended to the universe.
	CashKey string `yaml:"cash_key"`
	// MinHistory is the number of valid past returns an asset needs before it
	// joins the tradable universe.
	MinHistory int `yaml:"min_history"`
	// CashAnnualRate synthesizes the cash return column when the cache has no
	// cash series, quoted annually (e.g. 0.04).
	CashAnnualRate float64 `yaml:"cash_annual_rate"`
}

// SimulatorConfig tunes the per-step cost model.
type SimulatorConfig struct {
	RoundTrades      bool    `yaml:"round_trades"`
	PerShareCost     float64 `yaml:"per_share_cost"`
	NonlinearCoeff   float64 `yaml:"nonlinear_coeff"`
	VolatilityWindow int     `yaml:"volatility_window"`
	BorrowSpread     float64 `yaml:"borrow_spread"`
	CashFloorSpread  float64 `yaml:"cash_floor_spread"`
	InitialValue     float64 `yaml:"initial_value"`
}

// OrchestratorConfig sizes the backtest worker pool.
type OrchestratorConfig struct {
	MaxWorkers  int `yaml:"max_workers"`
	MaxCapacity int `yaml:"max_capacity"`
}

// PersistenceConfig locates the run store.
type PersistenceConfig struct {
	// SQLitePath is the run database file; empty keeps runs in memory only.
	SQLitePath string `yaml:"sqlite_path"`
}

// ServerConfig configures the daemon's listeners.
type ServerConfig struct {
	APIAddress     string `yaml:"api_address"`
	MetricsAddress string `yaml:"metrics_address"`
	// AuthToken, when set, is required as a bearer token on API requests.
	AuthToken Secret `yaml:"auth_token"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// DefaultConfig returns the zero-config defaults used by tests and demo runs.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Data: DataConfig{
			CacheDir:       "data/cache",
			CashKey:        "cash",
			MinHistory:     252,
			CashAnnualRate: 0.04,
		},
		Simulator: SimulatorConfig{
			RoundTrades:      true,
			PerShareCost:     0.005,
			NonlinearCoeff:   1.0,
			VolatilityWindow: 252,
			BorrowSpread:     0.005 / 252,
			CashFloorSpread:  0.005 / 252,
			InitialValue:     1_000_000,
		},
		Orchestrator: OrchestratorConfig{
			MaxWorkers:  4,
			MaxCapacity: 64,
		},
		Persistence: PersistenceConfig{SQLitePath: "data/runs.db"},
		Server: ServerConfig{
			APIAddress:     ":8080",
			MetricsAddress: ":9090",
		},
	}
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateLogging(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateData(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSimulator(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateOrchestrator(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateServer(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateLogging() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if !contains(validLevels, strings.ToLower(c.Logging.Level)) {
		return ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateData() error {
	if c.Data.CashKey == "" {
		return ValidationError{
			Field:   "data.cash_key",
			Message: "cash key must not be empty",
		}
	}
	if c.Data.MinHistory < 1 {
		return ValidationError{
			Field:   "data.min_history",
			Value:   c.Data.MinHistory,
			Message: "must be at least 1",
		}
	}
	if c.Data.CashAnnualRate < -1 {
		return ValidationError{
			Field:   "data.cash_annual_rate",
			Value:   c.Data.CashAnnualRate,
			Message: "must be greater than -100%",
		}
	}
	return nil
}

func (c *Config) validateSimulator() error {
	if c.Simulator.PerShareCost < 0 {
		return ValidationError{
			Field:   "simulator.per_share_cost",
			Value:   c.Simulator.PerShareCost,
			Message: "must not be negative",
		}
	}
	if c.Simulator.NonlinearCoeff < 0 {
		return ValidationError{
			Field:   "simulator.nonlinear_coeff",
			Value:   c.Simulator.NonlinearCoeff,
			Message: "must not be negative",
		}
	}
	if c.Simulator.VolatilityWindow < 1 {
		return ValidationError{
			Field:   "simulator.volatility_window",
			Value:   c.Simulator.VolatilityWindow,
			Message: "must be at least 1",
		}
	}
	if c.Simulator.InitialValue <= 0 {
		return ValidationError{
			Field:   "simulator.initial_value",
			Value:   c.Simulator.InitialValue,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateOrchestrator() error {
	if c.Orchestrator.MaxWorkers < 1 {
		return ValidationError{
			Field:   "orchestrator.max_workers",
			Value:   c.Orchestrator.MaxWorkers,
			Message: "must be at least 1",
		}
	}
	if c.Orchestrator.MaxCapacity < c.Orchestrator.MaxWorkers {
		return ValidationError{
			Field:   "orchestrator.max_capacity",
			Value:   c.Orchestrator.MaxCapacity,
			Message: "must be at least max_workers",
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.APIAddress == "" {
		return ValidationError{
			Field:   "server.api_address",
			Message: "api address must not be empty",
		}
	}
	if c.Server.MetricsAddress == "" {
		return ValidationError{
			Field:   "server.metrics_address",
			Message: "metrics address must not be empty",
		}
	}
	return nil
}

// expandEnvVars replaces ${VAR} placeholders with environment values, leaving
// unset placeholders untouched so validation can flag them.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return "${" + key + "}"
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
