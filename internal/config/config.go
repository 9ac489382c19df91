// Package config loads engine configuration from YAML files and the
// environment. Environment variables override file values.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the reservation engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Sources   SourcesConfig   `yaml:"sources"`
	Logging   LoggingConfig   `yaml:"logging"`
	Engine    EngineConfig    `yaml:"engine"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string `yaml:"host" env:"SERVER_HOST"`
	Port            int    `yaml:"port" env:"SERVER_PORT"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec" env:"SERVER_READ_TIMEOUT_SEC"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec" env:"SERVER_WRITE_TIMEOUT_SEC"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec" env:"SERVER_IDLE_TIMEOUT_SEC"`
}

// DatabaseConfig controls the relational store. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_sec" env:"DATABASE_CONN_MAX_LIFETIME_SEC"`
}

// RedisConfig controls the warehouse directory cache. An empty address
// disables caching.
type RedisConfig struct {
	Addr        string `yaml:"addr" env:"REDIS_ADDR"`
	Password    string `yaml:"password" env:"REDIS_PASSWORD"`
	DB          int    `yaml:"db" env:"REDIS_DB"`
	CacheTTLSec int    `yaml:"cache_ttl_sec" env:"REDIS_CACHE_TTL_SEC"`
}

// SourcesConfig points the engine at remote stock and warehouse services.
// Endpoints left empty fall back to the database, or to empty in-memory
// sources when no database is configured either.
type SourcesConfig struct {
	StockLedgerURL        string `yaml:"stock_ledger_url" env:"SOURCE_STOCK_LEDGER_URL"`
	StockLedgerAPIKey     string `yaml:"stock_ledger_api_key" env:"SOURCE_STOCK_LEDGER_API_KEY"`
	StockQuantityPath     string `yaml:"stock_quantity_path" env:"SOURCE_STOCK_QUANTITY_PATH"`
	StockLevelsPath       string `yaml:"stock_levels_path" env:"SOURCE_STOCK_LEVELS_PATH"`
	WarehouseDirectoryURL string `yaml:"warehouse_directory_url" env:"SOURCE_WAREHOUSE_DIRECTORY_URL"`
	WarehouseDirectoryKey string `yaml:"warehouse_directory_api_key" env:"SOURCE_WAREHOUSE_DIRECTORY_API_KEY"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// EngineConfig carries reservation and allocation behavior knobs.
type EngineConfig struct {
	ReservationTimeoutMin   int     `yaml:"reservation_timeout_min" env:"ENGINE_RESERVATION_TIMEOUT_MIN"`
	ConfirmationDeadlineMin int     `yaml:"confirmation_deadline_min" env:"ENGINE_CONFIRMATION_DEADLINE_MIN"`
	ExpirySchedule          string  `yaml:"expiry_schedule" env:"ENGINE_EXPIRY_SCHEDULE"`
	EscalationSchedule      string  `yaml:"escalation_schedule" env:"ENGINE_ESCALATION_SCHEDULE"`
	EscalationSLAMin        int     `yaml:"escalation_sla_min" env:"ENGINE_ESCALATION_SLA_MIN"`
	LogisticsBaseCost       float64 `yaml:"logistics_base_cost" env:"ENGINE_LOGISTICS_BASE_COST"`
	LogisticsPerUnitCost    float64 `yaml:"logistics_per_unit_cost" env:"ENGINE_LOGISTICS_PER_UNIT_COST"`
	CustomStrategyScript    string  `yaml:"custom_strategy_script" env:"ENGINE_CUSTOM_STRATEGY_SCRIPT"`
	CustomStrategyTimeoutMS int     `yaml:"custom_strategy_timeout_ms" env:"ENGINE_CUSTOM_STRATEGY_TIMEOUT_MS"`
}

// AuthConfig controls bearer-token authentication on the HTTP API.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" env:"AUTH_ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
}

// RateLimitConfig controls per-caller request throttling.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	RequestsPerSecond int  `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int  `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// DefaultConfig returns a configuration usable with no files present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 30,
			IdleTimeoutSec:  60,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Redis: RedisConfig{
			CacheTTLSec: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Engine: EngineConfig{
			ReservationTimeoutMin:   30,
			ConfirmationDeadlineMin: 10,
			ExpirySchedule:          "*/5 * * * *",
			EscalationSchedule:      "*/30 * * * *",
			EscalationSLAMin:        15,
			LogisticsBaseCost:       5,
			LogisticsPerUnitCost:    0.5,
			CustomStrategyTimeoutMS: 250,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
	}
}

// Load builds configuration from defaults overlaid with CONFIG_PATH (when
// set) and the environment.
func Load() (*Config, error) {
	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		return LoadFromPath(path)
	}

	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a YAML config file over the defaults, then applies the
// environment on top.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return fmt.Errorf("decode environment: %w", err)
	}
	return nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Engine.ReservationTimeoutMin <= 0 {
		return fmt.Errorf("reservation timeout must be positive")
	}
	if c.Engine.ConfirmationDeadlineMin <= 0 {
		return fmt.Errorf("confirmation deadline must be positive")
	}
	if c.Engine.EscalationSLAMin <= 0 {
		return fmt.Errorf("escalation SLA must be positive")
	}
	if c.Engine.ExpirySchedule == "" {
		return fmt.Errorf("expiry schedule is required")
	}
	if c.Engine.EscalationSchedule == "" {
		return fmt.Errorf("escalation schedule is required")
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth enabled but jwt secret is empty")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit enabled but requests_per_second is %d", c.RateLimit.RequestsPerSecond)
	}
	return nil
}
