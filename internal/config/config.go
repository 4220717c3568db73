// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in minimal containers

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Storage and notification backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	NotificationsLocal    = "local"
	NotificationsRedpanda = "redpanda"
	NotificationsOutbox   = "outbox"
)

type Config struct {
	Port                 string  `mapstructure:"PORT"`
	MetricsPort          string  `mapstructure:"METRICS_PORT"`
	Env                  string  `mapstructure:"ENV"`
	LogLevel             string  `mapstructure:"LOG_LEVEL"`
	StorageBackend       string  `mapstructure:"STORAGE_BACKEND"`
	DatabaseURL          string  `mapstructure:"DATABASE_URL"`
	NotificationBackend  string  `mapstructure:"NOTIFICATION_BACKEND"`
	KafkaBrokers         string  `mapstructure:"KAFKA_BROKERS"`
	ReminderTopic        string  `mapstructure:"REMINDER_TOPIC"`
	ReminderPartitionKey string  `mapstructure:"REMINDER_PARTITION_KEY"`
	NotificationsEnabled bool    `mapstructure:"NOTIFICATIONS_ENABLED"`
	Timezone             string  `mapstructure:"TIMEZONE"`
	APIKeys              string  `mapstructure:"API_KEYS"`
	PushoverToken        string  `mapstructure:"PUSHOVER_TOKEN"`
	PushoverUser         string  `mapstructure:"PUSHOVER_USER"`
	DispatcherWorkers    int     `mapstructure:"DISPATCHER_WORKERS"`
	TracingEnabled       bool    `mapstructure:"TRACING_ENABLED"`
	OTLPEndpoint         string  `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate      float64 `mapstructure:"TRACE_SAMPLE_RATE"`
	MetricsEnabled       bool    `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "METRICS_PORT", "ENV", "LOG_LEVEL", "STORAGE_BACKEND", "DATABASE_URL",
	"NOTIFICATION_BACKEND", "KAFKA_BROKERS", "REMINDER_TOPIC", "REMINDER_PARTITION_KEY",
	"NOTIFICATIONS_ENABLED", "TIMEZONE", "API_KEYS", "PUSHOVER_TOKEN", "PUSHOVER_USER",
	"DISPATCHER_WORKERS", "TRACING_ENABLED", "OTLP_ENDPOINT", "TRACE_SAMPLE_RATE", "METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8082")
	v.SetDefault("METRICS_PORT", "9090")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORAGE_BACKEND", StorageMemory)
	v.SetDefault("NOTIFICATION_BACKEND", NotificationsLocal)
	v.SetDefault("KAFKA_BROKERS", "localhost:19092")
	v.SetDefault("REMINDER_TOPIC", "medication.reminders")
	v.SetDefault("REMINDER_PARTITION_KEY", "device")
	v.SetDefault("NOTIFICATIONS_ENABLED", true)
	v.SetDefault("TIMEZONE", "Europe/Berlin")
	v.SetDefault("DISPATCHER_WORKERS", 4)
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks backend selections and the settings they require.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND is %q", StoragePostgres)
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageMemory, StoragePostgres, c.StorageBackend)
	}

	switch c.NotificationBackend {
	case NotificationsLocal:
	case NotificationsRedpanda:
		if len(c.Brokers()) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when NOTIFICATION_BACKEND is %q", NotificationsRedpanda)
		}
	case NotificationsOutbox:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when NOTIFICATION_BACKEND is %q", NotificationsOutbox)
		}
	default:
		return fmt.Errorf("NOTIFICATION_BACKEND must be %q, %q or %q, got %q",
			NotificationsLocal, NotificationsRedpanda, NotificationsOutbox, c.NotificationBackend)
	}

	if c.ReminderTopic == "" {
		return fmt.Errorf("REMINDER_TOPIC must not be empty")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.DispatcherWorkers < 1 {
		return fmt.Errorf("DISPATCHER_WORKERS must be positive, got %d", c.DispatcherWorkers)
	}
	if _, err := c.ParseAPIKeys(); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Brokers splits KAFKA_BROKERS.
func (c *Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// Location resolves TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ParseAPIKeys reads API_KEYS as comma separated key=client pairs.
func (c *Config) ParseAPIKeys() (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitList(c.APIKeys) {
		key, client, ok := strings.Cut(pair, "=")
		key, client = strings.TrimSpace(key), strings.TrimSpace(client)
		if !ok || key == "" || client == "" {
			return nil, fmt.Errorf("API_KEYS entry %q is not key=client", pair)
		}
		out[key] = client
	}
	return out, nil
}

// NewLogger builds a JSON production logger, or a console logger in development.
func NewLogger(level, env string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var zc zap.Config
	if env == "development" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
