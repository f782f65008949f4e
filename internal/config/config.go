// Package config loads tracker configuration from a YAML file and
// environment variables. Env vars use the BUYBOX_ prefix with underscores
// for nesting, e.g. BUYBOX_STORAGE_KIND, and override file values.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"buybox/internal/storage"
)

// Config holds all configuration for the tracker.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
}

// TrackerConfig holds extraction behavior.
type TrackerConfig struct {
	Marketplace string        `mapstructure:"marketplace"`
	OwnSeller   string        `mapstructure:"own_seller"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Kind string `mapstructure:"kind"`
	DSN  string `mapstructure:"dsn"`
}

// SchedulerConfig holds the periodic refresh defaults. The persisted
// settings row, once written through the API, takes precedence.
type SchedulerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

// AlertsConfig holds delivery credentials. A channel with empty credentials
// is simply not registered.
type AlertsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID string `mapstructure:"chat_id"`
}

type WhatsAppConfig struct {
	Phone  string `mapstructure:"phone"`
	APIKey string `mapstructure:"api_key"`
}

// NotifyConfig toggles alerting per new state.
type NotifyConfig struct {
	Winning bool `mapstructure:"winning"`
	Losing  bool `mapstructure:"losing"`
	Amazon  bool `mapstructure:"amazon"`
	Unknown bool `mapstructure:"unknown"`
}

// MetricsConfig enables the Datadog backend.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Service string `mapstructure:"service"`
	Tags    string `mapstructure:"tags"`
}

// Load reads configuration from config.yaml (optional) and the environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/buybox/")

	v.SetEnvPrefix("BUYBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; environment variables and defaults apply.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 10.0)

	v.SetDefault("tracker.marketplace", "amazon.co.za")
	v.SetDefault("tracker.own_seller", "")
	v.SetDefault("tracker.max_attempts", 3)
	v.SetDefault("tracker.http_timeout", "15s")

	v.SetDefault("storage.kind", "sqlite")
	v.SetDefault("storage.dsn", "buybox.db")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval_minutes", 60)

	// Credential keys default to empty so AutomaticEnv binds them; viper
	// only sees env overrides for keys it already knows.
	v.SetDefault("alerts.telegram.token", "")
	v.SetDefault("alerts.telegram.chat_id", "")
	v.SetDefault("alerts.whatsapp.phone", "")
	v.SetDefault("alerts.whatsapp.api_key", "")

	v.SetDefault("alerts.notify.winning", true)
	v.SetDefault("alerts.notify.losing", true)
	v.SetDefault("alerts.notify.amazon", true)
	v.SetDefault("alerts.notify.unknown", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.service", "buybox-tracker")
	v.SetDefault("metrics.tags", "")
}

func validate(config *Config) error {
	kinds := storage.Kinds()
	found := false
	for _, k := range kinds {
		if k == config.Storage.Kind {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("storage kind %q is not registered (available: %v)", config.Storage.Kind, kinds)
	}
	if config.Storage.DSN == "" {
		return fmt.Errorf("storage DSN is required (set BUYBOX_STORAGE_DSN)")
	}
	if config.Tracker.Marketplace == "" {
		return fmt.Errorf("tracker marketplace is required")
	}
	if config.Tracker.MaxAttempts < 1 {
		return fmt.Errorf("tracker max_attempts must be >= 1, got %d", config.Tracker.MaxAttempts)
	}
	if config.Scheduler.IntervalMinutes < 1 {
		return fmt.Errorf("scheduler interval_minutes must be >= 1, got %d", config.Scheduler.IntervalMinutes)
	}
	if config.Alerts.Telegram.Token != "" && config.Alerts.Telegram.ChatID == "" {
		return fmt.Errorf("telegram chat_id is required when a token is set")
	}
	return nil
}
