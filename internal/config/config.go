// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"algoexec/internal/executor"
	"algoexec/internal/monitor"
	"algoexec/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Paper       PaperConfig       `yaml:"paper"`
}

// RateLimitConfig holds the shared admission budget.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ExecutionConfig holds executor settings.
type ExecutionConfig struct {
	MaxRetries         int  `yaml:"max_retries"`
	RetryDelayMs       int  `yaml:"retry_delay_ms"`
	WaitForFills       bool `yaml:"wait_for_fills"`
	SettleTimeoutSec   int  `yaml:"settle_timeout_sec"`
	AdaptiveEnabled    bool `yaml:"adaptive_enabled"`
	AdaptiveTimeoutSec int  `yaml:"adaptive_timeout_sec"`
	AdaptiveMaxRetries int  `yaml:"adaptive_max_retries"`
	TriggerPollMs      int  `yaml:"trigger_poll_ms"`
}

// MonitorConfig holds fill monitor settings.
type MonitorConfig struct {
	PollIntervalMs        int `yaml:"poll_interval_ms"`
	BackupPollIntervalSec int `yaml:"backup_poll_interval_sec"`
	MaxBatch              int `yaml:"max_batch"`
	StalenessSec          int `yaml:"staleness_sec"`
}

// PersistenceConfig holds checkpoint store settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig holds metrics server settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// PaperConfig holds simulated-exchange settings for paper runs.
type PaperConfig struct {
	FillDelayMs      int     `yaml:"fill_delay_ms"`
	PartialFillParts int     `yaml:"partial_fill_parts"`
	MakerFeeRate     float64 `yaml:"maker_fee_rate"`
	TakerFeeRate     float64 `yaml:"taker_fee_rate"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration, collecting every violation.
func (c *Config) Validate() error {
	var errs []string

	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, "rate_limit.requests_per_second must not be negative")
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, "rate_limit.burst must not be negative")
	}

	if c.Execution.MaxRetries < 0 {
		errs = append(errs, "execution.max_retries must not be negative")
	}
	if c.Execution.RetryDelayMs < 0 {
		errs = append(errs, "execution.retry_delay_ms must not be negative")
	}
	if c.Execution.AdaptiveEnabled && c.Execution.AdaptiveTimeoutSec <= 0 {
		errs = append(errs, "execution.adaptive_timeout_sec must be positive when adaptive is enabled")
	}

	if c.Monitor.MaxBatch < 0 || c.Monitor.MaxBatch > 50 {
		errs = append(errs, "monitor.max_batch must be between 0 and 50")
	}

	if c.Persistence.Enabled && c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required when persistence is enabled")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be a valid port when metrics are enabled")
	}

	if c.Paper.MakerFeeRate < 0 || c.Paper.TakerFeeRate < 0 {
		errs = append(errs, "paper fee rates must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// ToExecutorConfig converts to executor.Config.
func (c *Config) ToExecutorConfig() executor.Config {
	return executor.Config{
		MaxRetries:          c.Execution.MaxRetries,
		RetryDelay:          time.Duration(c.Execution.RetryDelayMs) * time.Millisecond,
		WaitForFills:        c.Execution.WaitForFills,
		SettleTimeout:       time.Duration(c.Execution.SettleTimeoutSec) * time.Second,
		AdaptiveEnabled:     c.Execution.AdaptiveEnabled,
		AdaptiveTimeout:     time.Duration(c.Execution.AdaptiveTimeoutSec) * time.Second,
		AdaptiveMaxRetries:  c.Execution.AdaptiveMaxRetries,
		TriggerPollInterval: time.Duration(c.Execution.TriggerPollMs) * time.Millisecond,
	}
}

// ToMonitorConfig converts to monitor.Config.
func (c *Config) ToMonitorConfig() monitor.Config {
	return monitor.Config{
		PollInterval:       time.Duration(c.Monitor.PollIntervalMs) * time.Millisecond,
		BackupPollInterval: time.Duration(c.Monitor.BackupPollIntervalSec) * time.Second,
		MaxBatch:           c.Monitor.MaxBatch,
		Staleness:          time.Duration(c.Monitor.StalenessSec) * time.Second,
	}
}

// PaperFillDelay returns the simulated fill delay.
func (c *Config) PaperFillDelay() time.Duration {
	return time.Duration(c.Paper.FillDelayMs) * time.Millisecond
}

// PaperMakerFee returns the simulated maker fee rate.
func (c *Config) PaperMakerFee() decimal.Decimal {
	return decimal.NewFromFloat(c.Paper.MakerFeeRate)
}

// PaperTakerFee returns the simulated taker fee rate.
func (c *Config) PaperTakerFee() decimal.Decimal {
	return decimal.NewFromFloat(c.Paper.TakerFeeRate)
}
