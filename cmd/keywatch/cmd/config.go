package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/keywatch/internal/secrets"
)

// envPrefix namespaces environment overrides. Nested keys are separated by
// a double underscore: KEYWATCH_STORAGE__SQLITE_PATH sets storage.sqlite_path.
const envPrefix = "KEYWATCH_"

// Config represents the keywatch application configuration.
type Config struct {
	Monitors   string           `yaml:"monitors" validate:"required"`
	Log        LogConfig        `yaml:"log"`
	Scan       ScanConfig       `yaml:"scan"`
	Storage    StorageConfig    `yaml:"storage"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	HTTP       HTTPConfig       `yaml:"http"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// ScanConfig contains scheduler and engine settings. Durations are Go
// duration strings.
type ScanConfig struct {
	Interval        string `yaml:"interval"`         // Time between runs (default: 1m)
	Timeout         string `yaml:"timeout"`          // Deadline per run (default: interval)
	IngestionDelay  string `yaml:"ingestion_delay"`  // Window end lag behind now (default: 2m)
	DefaultLookback string `yaml:"default_lookback"` // First window length (default: 5m)
	Concurrency     int    `yaml:"concurrency" validate:"gte=0,lte=64"`
	SkipInitialRun  bool   `yaml:"skip_initial_run"`
}

// StorageConfig contains state storage settings.
type StorageConfig struct {
	SQLitePath string      `yaml:"sqlite_path" validate:"required"`
	Redis      RedisConfig `yaml:"redis"`
	// HistoryRetention prunes notification history older than this.
	HistoryRetention string `yaml:"history_retention"`
}

// RedisConfig moves alarm states and checkpoints to Redis when Addr is set.
type RedisConfig struct {
	Addr      string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ClickHouseConfig contains log search backend settings.
type ClickHouseConfig struct {
	Addresses   []string `yaml:"addresses" validate:"required,min=1,dive,hostname_port"`
	Database    string   `yaml:"database"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Table       string   `yaml:"table"`
	PageSize    int      `yaml:"page_size" validate:"gte=0"`
	DialTimeout string   `yaml:"dial_timeout"`
	Compression bool     `yaml:"compression"`
}

// NotifierConfig contains notification channel settings. A channel is
// registered when its section is configured.
type NotifierConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Slack     SlackConfig     `yaml:"slack"`
	Teams     TeamsConfig     `yaml:"teams"`
	Email     EmailConfig     `yaml:"email"`
	Webhook   WebhookConfig   `yaml:"webhook"`
}

// RateLimitConfig bounds outgoing notifications.
type RateLimitConfig struct {
	Disabled     bool   `yaml:"disabled"`
	MaxPerWindow int    `yaml:"max_per_window" validate:"gte=0"`
	Window       string `yaml:"window"`
}

// SlackConfig configures the slack channel.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url,startswith=https://"`
	Username   string `yaml:"username"`
}

// TeamsConfig configures the teams channel.
type TeamsConfig struct {
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url,startswith=https://"`
}

// EmailConfig configures the email channel.
type EmailConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port" validate:"gte=0,lte=65535"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	From       string   `yaml:"from" validate:"required_with=Host"`
	Recipients []string `yaml:"recipients" validate:"dive,email"`
}

// WebhookConfig configures the generic webhook channel. With Enabled and
// no URL, every webhook destination must name its endpoint.
type WebhookConfig struct {
	Enabled    bool              `yaml:"enabled"`
	URL        string            `yaml:"url" validate:"omitempty,url"`
	Headers    map[string]string `yaml:"headers"`
	Timeout    string            `yaml:"timeout"`
	RetryCount int               `yaml:"retry_count" validate:"gte=0,lte=10"`
}

// HTTPConfig contains status API settings.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Verbose bool   `yaml:"verbose"`
}

// MetricsConfig runs a dedicated /metrics listener when Address is set.
// The status API serves /metrics as well.
type MetricsConfig struct {
	Address string `yaml:"address" validate:"omitempty,hostname_port"`
}

// LoadConfig loads configuration from a YAML file (sealed when it ends in
// .enc), then applies a .env
// file next to it (if any) and KEYWATCH_* environment overrides. path may
// be empty to configure from the environment alone.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := secrets.ReadFile(path, secrets.MasterKey())
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv loads variables from a .env file without overriding the
// process environment. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays KEYWATCH_* variables onto cfg. Only keys present in
// the environment are touched.
func applyEnv(cfg *Config) error {
	k := koanf.New(".")
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	if len(k.Keys()) == 0 {
		return nil
	}

	// Comma-separated lists for slice fields.
	for _, key := range []string{"clickhouse.addresses", "notifier.email.recipients"} {
		if v, ok := k.Get(key).(string); ok {
			if err := k.Set(key, splitList(v)); err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
		}
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return fmt.Errorf("apply environment: %w", err)
	}
	return nil
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

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Monitors == "" {
		c.Monitors = "configs/monitors.yaml"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Scan.Interval == "" {
		c.Scan.Interval = "1m"
	}
	if c.Scan.IngestionDelay == "" {
		c.Scan.IngestionDelay = "2m"
	}
	if c.Scan.DefaultLookback == "" {
		c.Scan.DefaultLookback = "5m"
	}
	if c.Scan.Concurrency == 0 {
		c.Scan.Concurrency = 4
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/keywatch.db"
	}
	if c.Storage.HistoryRetention == "" {
		c.Storage.HistoryRetention = "720h"
	}
	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "keywatch"
	}
	if len(c.ClickHouse.Addresses) == 0 {
		c.ClickHouse.Addresses = []string{"localhost:9000"}
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "default"
	}
	if c.ClickHouse.DialTimeout == "" {
		c.ClickHouse.DialTimeout = "5s"
	}
	if c.Notifier.RateLimit.MaxPerWindow == 0 {
		c.Notifier.RateLimit.MaxPerWindow = 100
	}
	if c.Notifier.RateLimit.Window == "" {
		c.Notifier.RateLimit.Window = "1m"
	}
	if c.Notifier.Webhook.Timeout == "" {
		c.Notifier.Webhook.Timeout = "10s"
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	durations := []struct {
		name  string
		value string
		min   time.Duration
	}{
		{"scan.interval", c.Scan.Interval, time.Second},
		{"scan.timeout", c.Scan.Timeout, 0},
		{"scan.ingestion_delay", c.Scan.IngestionDelay, 0},
		{"scan.default_lookback", c.Scan.DefaultLookback, time.Second},
		{"storage.history_retention", c.Storage.HistoryRetention, 0},
		{"clickhouse.dial_timeout", c.ClickHouse.DialTimeout, 0},
		{"notifier.rate_limit.window", c.Notifier.RateLimit.Window, time.Second},
		{"notifier.webhook.timeout", c.Notifier.Webhook.Timeout, 0},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", d.name, d.value)
		}
		if v < d.min {
			return fmt.Errorf("%s must be at least %s", d.name, d.min)
		}
	}

	if c.Notifier.Email.Host != "" && c.Notifier.Email.Port == 0 {
		return fmt.Errorf("notifier.email.port is required when host is set")
	}
	return nil
}

// duration parses a validated duration string. Empty means zero.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
