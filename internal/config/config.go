// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	System    SystemConfig    `yaml:"system"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Quotes    QuotesConfig    `yaml:"quotes"`
	Display   DisplayConfig   `yaml:"display"`
	PricesAPI PricesAPIConfig `yaml:"prices_api"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Cache     CacheConfig     `yaml:"cache"`
}

// SystemConfig contains process-wide settings
type SystemConfig struct {
	ServiceName   string `yaml:"service_name"`
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"` // empty logs to stdout only
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
}

// SchedulerConfig sizes the request scheduler
type SchedulerConfig struct {
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"` // concurrent in-flight requests
}

// QuotesConfig contains caller-side policies of the swap quote service
type QuotesConfig struct {
	RetryAttempts     int     `yaml:"retry_attempts"`
	RetryBackoffMs    int     `yaml:"retry_backoff_ms"`
	RetryMaxBackoffMs int     `yaml:"retry_max_backoff_ms"`
	RateLimitPerSec   float64 `yaml:"rate_limit_per_sec"` // 0 disables the limiter
	RateLimitBurst    int     `yaml:"rate_limit_burst"`
}

// DisplayConfig controls liquidation display precision and thresholds
type DisplayConfig struct {
	PriceDecimals   int    `yaml:"price_decimals"`
	PercentDecimals int    `yaml:"percent_decimals"`
	AmountDecimals  int    `yaml:"amount_decimals"`
	LossEpsilon     string `yaml:"loss_epsilon"`
	WarnHealth      string `yaml:"warn_health"`
}

// PricesAPIConfig points at the upstream prices API
type PricesAPIConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Port              int `yaml:"port"`
	ReadTimeoutMs     int `yaml:"read_timeout_ms"`
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	StdoutTraces  bool `yaml:"stdout_traces"`
}

// AlertsConfig contains liquidation alert channels
type AlertsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"` // empty disables Slack alerts
}

// CacheConfig points the quote cache at Redis
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr"` // empty disables the cache
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	QuoteTTLMs    int    `yaml:"quote_ttl_ms"`
}

// QuoteTTL returns the cache TTL as a duration
func (c CacheConfig) QuoteTTL() time.Duration {
	return time.Duration(c.QuoteTTLMs) * time.Millisecond
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

// LoadConfig loads configuration from a YAML file with environment variable expansion.
// Values missing from the file keep their defaults.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	for _, check := range []func() error{
		c.validateSystemConfig,
		c.validateSchedulerConfig,
		c.validateQuotesConfig,
		c.validateDisplayConfig,
		c.validatePricesAPIConfig,
		c.validateServerConfig,
		c.validateAlertsConfig,
		c.validateCacheConfig,
	} {
		if err := check(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	if c.System.LogFile != "" && c.System.LogMaxSizeMB < 1 {
		return ValidationError{
			Field:   "system.log_max_size_mb",
			Value:   c.System.LogMaxSizeMB,
			Message: "must be positive when log_file is set",
		}
	}
	return nil
}

func (c *Config) validateSchedulerConfig() error {
	if c.Scheduler.Capacity < 1 || c.Scheduler.Capacity > 64 {
		return ValidationError{
			Field:   "scheduler.capacity",
			Value:   c.Scheduler.Capacity,
			Message: "must be between 1 and 64",
		}
	}
	return nil
}

func (c *Config) validateQuotesConfig() error {
	if c.Quotes.RetryAttempts < 1 {
		return ValidationError{
			Field:   "quotes.retry_attempts",
			Value:   c.Quotes.RetryAttempts,
			Message: "at least one attempt is required",
		}
	}
	if c.Quotes.RateLimitPerSec < 0 {
		return ValidationError{
			Field:   "quotes.rate_limit_per_sec",
			Value:   c.Quotes.RateLimitPerSec,
			Message: "must not be negative",
		}
	}
	if c.Quotes.RateLimitPerSec > 0 && c.Quotes.RateLimitBurst < 1 {
		return ValidationError{
			Field:   "quotes.rate_limit_burst",
			Value:   c.Quotes.RateLimitBurst,
			Message: "must be positive when rate limiting is enabled",
		}
	}
	return nil
}

func (c *Config) validateDisplayConfig() error {
	var errs []error

	for _, f := range []struct {
		field  string
		places int
	}{
		{"display.price_decimals", c.Display.PriceDecimals},
		{"display.percent_decimals", c.Display.PercentDecimals},
		{"display.amount_decimals", c.Display.AmountDecimals},
	} {
		if f.places < 0 || f.places > 18 {
			errs = append(errs, ValidationError{Field: f.field, Value: f.places, Message: "must be between 0 and 18"})
		}
	}

	for _, f := range []struct{ field, raw string }{
		{"display.loss_epsilon", c.Display.LossEpsilon},
		{"display.warn_health", c.Display.WarnHealth},
	} {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil || !d.IsPositive() {
			errs = append(errs, ValidationError{Field: f.field, Value: f.raw, Message: "must be a positive decimal"})
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validatePricesAPIConfig() error {
	u, err := url.Parse(c.PricesAPI.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ValidationError{
			Field:   "prices_api.base_url",
			Value:   c.PricesAPI.BaseURL,
			Message: "must be an absolute URL",
		}
	}
	if c.PricesAPI.TimeoutMs <= 0 {
		return ValidationError{
			Field:   "prices_api.timeout_ms",
			Value:   c.PricesAPI.TimeoutMs,
			Message: "timeout must be positive",
		}
	}
	return nil
}

func (c *Config) validateServerConfig() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return ValidationError{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: "must be a valid TCP port",
		}
	}
	if c.Telemetry.EnableMetrics && c.Telemetry.MetricsPort == c.Server.Port {
		return ValidationError{
			Field:   "telemetry.metrics_port",
			Value:   c.Telemetry.MetricsPort,
			Message: "must differ from server.port",
		}
	}
	return nil
}

func (c *Config) validateAlertsConfig() error {
	if c.Alerts.SlackWebhookURL == "" {
		return nil
	}
	u, err := url.Parse(c.Alerts.SlackWebhookURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ValidationError{
			Field:   "alerts.slack_webhook_url",
			Value:   c.Alerts.SlackWebhookURL,
			Message: "must be an https URL",
		}
	}
	return nil
}

func (c *Config) validateCacheConfig() error {
	if c.Cache.RedisAddr == "" {
		return nil
	}
	if c.Cache.QuoteTTLMs < 1 {
		return ValidationError{
			Field:   "cache.quote_ttl_ms",
			Value:   c.Cache.QuoteTTLMs,
			Message: "must be positive when redis_addr is set",
		}
	}
	if c.Cache.RedisDB < 0 {
		return ValidationError{
			Field:   "cache.redis_db",
			Value:   c.Cache.RedisDB,
			Message: "must not be negative",
		}
	}
	return nil
}

// LossEpsilonDecimal returns the configured epsilon, zero when unset
func (d DisplayConfig) LossEpsilonDecimal() decimal.Decimal {
	return parseDecimalOrZero(d.LossEpsilon)
}

// WarnHealthDecimal returns the configured warning threshold, zero when unset
func (d DisplayConfig) WarnHealthDecimal() decimal.Decimal {
	return parseDecimalOrZero(d.WarnHealth)
}

// Timeout returns the prices API request timeout
func (p PricesAPIConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// String returns the configuration as YAML
func (c *Config) String() string {
	redacted := *c
	if redacted.Alerts.SlackWebhookURL != "" {
		redacted.Alerts.SlackWebhookURL = "***"
	}
	if redacted.Cache.RedisPassword != "" {
		redacted.Cache.RedisPassword = "***"
	}
	data, _ := yaml.Marshal(&redacted)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return &Config{
		System: SystemConfig{
			ServiceName:   "curve_core",
			LogLevel:      "INFO",
			LogMaxSizeMB:  100,
			LogMaxBackups: 3,
		},
		Scheduler: SchedulerConfig{
			Name:     "swap_quotes",
			Capacity: 3,
		},
		Quotes: QuotesConfig{
			RetryAttempts:     2,
			RetryBackoffMs:    100,
			RetryMaxBackoffMs: 1000,
			RateLimitPerSec:   0,
			RateLimitBurst:    1,
		},
		Display: DisplayConfig{
			PriceDecimals:   2,
			PercentDecimals: 2,
			AmountDecimals:  4,
			LossEpsilon:     "0.0001",
			WarnHealth:      "0.1",
		},
		PricesAPI: PricesAPIConfig{
			BaseURL:   "https://prices.curve.fi",
			TimeoutMs: 10000,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadTimeoutMs:     5000,
			ShutdownTimeoutMs: 5000,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
		Cache: CacheConfig{
			QuoteTTLMs: 15000,
		},
	}
}
