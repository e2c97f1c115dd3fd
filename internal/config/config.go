// Package config loads the gateway configuration through viper, with
// production defaults, an optional gateway.yaml and GATEWAY_* env
// overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mExOms/execution-gateway/internal/gateway"
)

// Config is the full service configuration.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`
	LogLevel string `mapstructure:"log_level"`

	MaxRetries                      int    `mapstructure:"max_retries"`
	BaseRetryDelayMs                int64  `mapstructure:"base_retry_delay_ms"`
	MaxRetryDelayMs                 int64  `mapstructure:"max_retry_delay_ms"`
	CircuitBreakerFailureThreshold  int    `mapstructure:"circuit_breaker_failure_threshold"`
	CircuitBreakerRecoveryTimeoutMs int64  `mapstructure:"circuit_breaker_recovery_timeout_ms"`
	OrderTimeoutMs                  int64  `mapstructure:"order_timeout_ms"`
	MaxConcurrentOrders             int    `mapstructure:"max_concurrent_orders"`
	EnablePartialFills              bool   `mapstructure:"enable_partial_fills"`
	DefaultVenue                    string `mapstructure:"default_venue"`

	CleanupIntervalMinutes int `mapstructure:"cleanup_interval_minutes"`
	OrderRetentionHours    int `mapstructure:"order_retention_hours"`

	NATSURL string `mapstructure:"nats_url"`

	Binance BinanceConfig `mapstructure:"binance"`
}

// BinanceConfig configures the optional Binance venue adapter; the
// adapter is registered only when an API key is present.
type BinanceConfig struct {
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
	Testnet   bool   `mapstructure:"testnet"`
}

// Load reads the configuration.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("max_retries", 3)
	v.SetDefault("base_retry_delay_ms", 100)
	v.SetDefault("max_retry_delay_ms", 5000)
	v.SetDefault("circuit_breaker_failure_threshold", 5)
	v.SetDefault("circuit_breaker_recovery_timeout_ms", 60000)
	v.SetDefault("order_timeout_ms", 30000)
	v.SetDefault("max_concurrent_orders", 100)
	v.SetDefault("enable_partial_fills", true)
	v.SetDefault("default_venue", "default")
	v.SetDefault("cleanup_interval_minutes", 60)
	v.SetDefault("order_retention_hours", 24)
	v.SetDefault("nats_url", "")
	v.SetDefault("binance.api_key", "")
	v.SetDefault("binance.secret_key", "")
	v.SetDefault("binance.testnet", false)

	v.SetConfigName("gateway")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Gateway converts the loaded values into the pipeline configuration.
func (c *Config) Gateway() gateway.Config {
	return gateway.Config{
		MaxRetries:              c.MaxRetries,
		BaseRetryDelay:          time.Duration(c.BaseRetryDelayMs) * time.Millisecond,
		MaxRetryDelay:           time.Duration(c.MaxRetryDelayMs) * time.Millisecond,
		BreakerFailureThreshold: c.CircuitBreakerFailureThreshold,
		BreakerRecoveryTimeout:  time.Duration(c.CircuitBreakerRecoveryTimeoutMs) * time.Millisecond,
		OrderTimeout:            time.Duration(c.OrderTimeoutMs) * time.Millisecond,
		MaxConcurrentOrders:     c.MaxConcurrentOrders,
		EnablePartialFills:      c.EnablePartialFills,
		DefaultVenue:            c.DefaultVenue,
	}
}

// CleanupInterval is the janitor tick.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

// OrderRetention is how long terminal orders are kept before reaping.
func (c *Config) OrderRetention() time.Duration {
	return time.Duration(c.OrderRetentionHours) * time.Hour
}
