// Package config loads pulsetrack settings from struct defaults, an optional
// YAML file and PULSETRACK_* environment variables, in that order of
// precedence.
package config

import (
	"time"

	"example.com/pulsetrack/internal/logging"
)

// Config is the root configuration shared by the pulsetrack binaries.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Security SecurityConfig `koanf:"security"`
	Logging  logging.Config `koanf:"logging"`
	Temporal TemporalConfig `koanf:"temporal"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig selects the SQL dialect and sizes its connection pool.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver"`
	Path            string        `koanf:"path"`
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// SecurityConfig holds the browser-facing protections of the API.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// TemporalConfig points the rollup pipeline at a Temporal frontend.
type TemporalConfig struct {
	Enabled        bool          `koanf:"enabled"`
	HostPort       string        `koanf:"host_port"`
	Namespace      string        `koanf:"namespace"`
	TaskQueue      string        `koanf:"task_queue"`
	RollupInterval time.Duration `koanf:"rollup_interval"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			Path:            "analytics.db",
			MaxOpenConns:    5,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Security: SecurityConfig{
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 600,
			RateLimitWindow:   time.Minute,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Temporal: TemporalConfig{
			Enabled:        false,
			HostPort:       "localhost:7233",
			Namespace:      "default",
			TaskQueue:      "pulsetrack-rollups",
			RollupInterval: time.Hour,
		},
	}
}
