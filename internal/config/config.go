// Package config loads engine configuration from the environment. A
// local .env file is honored when present; real environment variables
// win over it.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	WebSocket WebSocketConfig
	Sweep     SweepConfig
	Notify    NotifyConfig

	Environment string `env:"COURSEPULSE_ENV" envDefault:"development"`
}

type HTTPConfig struct {
	Host         string        `env:"COURSEPULSE_HTTP_HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"COURSEPULSE_HTTP_PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"COURSEPULSE_HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"COURSEPULSE_HTTP_WRITE_TIMEOUT" envDefault:"30s"`
}

type DatabaseConfig struct {
	Path    string        `env:"COURSEPULSE_DATABASE_PATH" envDefault:"./coursepulse.db"`
	Timeout time.Duration `env:"COURSEPULSE_DATABASE_TIMEOUT" envDefault:"30s"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `env:"COURSEPULSE_WS_PING_INTERVAL" envDefault:"30s"`
	ReadTimeout  time.Duration `env:"COURSEPULSE_WS_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `env:"COURSEPULSE_WS_WRITE_TIMEOUT" envDefault:"5s"`
	SendBuffer   int           `env:"COURSEPULSE_WS_SEND_BUFFER" envDefault:"100"`
	AuthTimeout  time.Duration `env:"COURSEPULSE_WS_AUTH_TIMEOUT" envDefault:"5s"`
}

type SweepConfig struct {
	Interval      time.Duration `env:"COURSEPULSE_SWEEP_INTERVAL" envDefault:"5m"`
	IdleThreshold time.Duration `env:"COURSEPULSE_SWEEP_IDLE_THRESHOLD" envDefault:"30m"`
}

type NotifyConfig struct {
	// FlushWindow bounds how many unread items a reconnecting user can
	// be replayed in the single batched pending event.
	FlushWindow int `env:"COURSEPULSE_NOTIFY_FLUSH_WINDOW" envDefault:"20"`
	// AccessCheckTimeout bounds the external course access hook; a
	// timeout is treated as denial.
	AccessCheckTimeout time.Duration `env:"COURSEPULSE_NOTIFY_ACCESS_TIMEOUT" envDefault:"2s"`
}

var dotenvOnce sync.Once

// Load parses configuration from the environment and validates it.
func Load() (*Config, error) {
	dotenvOnce.Do(func() {
		_ = godotenv.Load() // missing .env is fine
	})

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in defaults without touching the
// environment. Used by tests and as a fallback in embedded setups.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:    "./coursepulse.db",
			Timeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			SendBuffer:   100,
			AuthTimeout:  5 * time.Second,
		},
		Sweep: SweepConfig{
			Interval:      5 * time.Minute,
			IdleThreshold: 30 * time.Minute,
		},
		Notify: NotifyConfig{
			FlushWindow:        20,
			AccessCheckTimeout: 2 * time.Second,
		},
		Environment: "development",
	}
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket intervals must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WebSocket send buffer must be positive")
	}
	if c.Sweep.Interval <= 0 || c.Sweep.IdleThreshold <= 0 {
		return fmt.Errorf("sweep interval and idle threshold must be positive")
	}
	if c.Notify.FlushWindow <= 0 {
		return fmt.Errorf("notification flush window must be positive")
	}
	if c.Notify.AccessCheckTimeout <= 0 {
		return fmt.Errorf("access check timeout must be positive")
	}
	return nil
}

// Production reports whether the engine runs with production logging.
func (c *Config) Production() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
