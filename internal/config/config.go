package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config aggregates all runtime settings.
type Config struct {
	App       AppConfig       `envPrefix:"OPSDESK_"`
	HTTP      HTTPConfig      `envPrefix:"OPSDESK_HTTP_"`
	GRPC      GRPCConfig      `envPrefix:"OPSDESK_GRPC_"`
	Database  DatabaseConfig  `envPrefix:"OPSDESK_DB_"`
	Auth      AuthConfig      `envPrefix:"OPSDESK_AUTH_"`
	Settings  SettingsConfig  `envPrefix:"OPSDESK_SETTINGS_"`
	RateLimit RateLimitConfig `envPrefix:"OPSDESK_RATELIMIT_"`
}

type AppConfig struct {
	Environment string `env:"ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"opsdesk-api"`
}

type HTTPConfig struct {
	Addr              string        `env:"ADDR" envDefault:":8080"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxBodyBytes      int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

type GRPCConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Addr    string `env:"ADDR" envDefault:":9090"`
}

type DatabaseConfig struct {
	DSN             string        `env:"DSN"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"50"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"25"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"15m"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE_TIME" envDefault:"5m"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	Issuer    string `env:"ISSUER" envDefault:"opsdesk"`
}

type SettingsConfig struct {
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"30s"`
}

type RateLimitConfig struct {
	PerSecond int `env:"PER_SECOND" envDefault:"50"`
	Burst     int `env:"BURST" envDefault:"100"`
}

// Load parses environment variables into Config and validates them.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("OPSDESK_DB_DSN is required")
	}
	return cfg, nil
}
