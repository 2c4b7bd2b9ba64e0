// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	FrontendURL string `env:"FRONTEND_URL"`
	DBPath      string `env:"DB_PATH" envDefault:"./data/interviews.db"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// AllowedOrigins is a comma-separated list of origins, or "*".
	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"*"`

	ExpiryWindow time.Duration `env:"SESSION_EXPIRY_WINDOW" envDefault:"5m"`
	Cleanup      CleanupConfig
	Evaluator    EvaluatorConfig
	SMTP         SMTPConfig
	Events       EventsConfig
	Archive      ArchiveConfig

	WebhookTimeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"30s"`
	CatalogPath    string        `env:"CATALOG_PATH"`
}

// CleanupConfig controls the stale-session sweeper.
type CleanupConfig struct {
	Interval         time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`
	TimeoutNew       time.Duration `env:"CLEANUP_TIMEOUT_NEW" envDefault:"5m"`
	TimeoutInitiated time.Duration `env:"CLEANUP_TIMEOUT_INITIATED" envDefault:"5m"`
	TimeoutStarted   time.Duration `env:"CLEANUP_TIMEOUT_STARTED" envDefault:"5m"`
}

// EvaluatorConfig selects the answer evaluator. An empty Addr means the built-in heuristic.
type EvaluatorConfig struct {
	Addr    string        `env:"EVALUATOR_ADDR"`
	Timeout time.Duration `env:"EVALUATOR_TIMEOUT" envDefault:"20s"`
}

// SMTPConfig holds outgoing mail settings.
type SMTPConfig struct {
	Host     string `env:"SMTP_HOST" envDefault:"smtp.gmail.com"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`
}

// EventsConfig selects the lifecycle event bus. An empty RedisAddr means in-memory.
type EventsConfig struct {
	RedisAddr string `env:"REDIS_ADDR"`
	Topic     string `env:"EVENTS_TOPIC" envDefault:"interview.sessions"`
}

// ArchiveConfig controls per-session NDJSON event archiving.
type ArchiveConfig struct {
	Enabled bool   `env:"ARCHIVE_ENABLED" envDefault:"true"`
	Dir     string `env:"ARCHIVE_DIR" envDefault:"./data/archive"`
}

// LoadDotEnv loads a .env file when present.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		slog.Info("No .env file found, using environment variables")
	}
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	durations := []struct {
		key string
		val time.Duration
	}{
		{"SESSION_EXPIRY_WINDOW", c.ExpiryWindow},
		{"CLEANUP_INTERVAL", c.Cleanup.Interval},
		{"CLEANUP_TIMEOUT_NEW", c.Cleanup.TimeoutNew},
		{"CLEANUP_TIMEOUT_INITIATED", c.Cleanup.TimeoutInitiated},
		{"CLEANUP_TIMEOUT_STARTED", c.Cleanup.TimeoutStarted},
		{"EVALUATOR_TIMEOUT", c.Evaluator.Timeout},
		{"WEBHOOK_TIMEOUT", c.WebhookTimeout},
	}
	for _, d := range durations {
		if d.val <= 0 {
			return fmt.Errorf("%s must be > 0", d.key)
		}
	}
	if c.Archive.Enabled && c.Archive.Dir == "" {
		return fmt.Errorf("ARCHIVE_DIR cannot be empty when archiving is enabled")
	}
	if c.Events.RedisAddr != "" && c.Events.Topic == "" {
		return fmt.Errorf("EVENTS_TOPIC cannot be empty")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// Origins returns the allowed origin list.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// SMTPEnabled reports whether enough mail settings are present to send email.
// The sender falls back to SMTP_USERNAME when SMTP_FROM is unset.
func (c *Config) SMTPEnabled() bool {
	return c.SMTP.Host != "" && (c.SMTP.From != "" || c.SMTP.Username != "")
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
