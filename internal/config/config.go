package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full application configuration, populated by Viper from
// ./configs/config.yaml with environment-variable overrides.
type Config struct {
	Server struct {
		Port int `mapstructure:"port"`
		// BaseURL is the public origin used when building tracking URLs
		// for QR artifacts and CLI output.
		BaseURL string `mapstructure:"base_url"`
		// PrettyURLs controls the canonical tracking-URL form. When false,
		// tracking URLs use the ?tracking_code= query fallback.
		PrettyURLs bool `mapstructure:"pretty_urls"`
	} `mapstructure:"server"`

	Database struct {
		Name string `mapstructure:"name"` // SQLite database file
	} `mapstructure:"database"`

	Cache struct {
		// RedisAddr empty means the cache layer is disabled and every
		// lookup goes straight to the store.
		RedisAddr      string `mapstructure:"redis_addr"`
		LinkTTLSeconds int    `mapstructure:"link_ttl_seconds"`
		ListTTLSeconds int    `mapstructure:"list_ttl_seconds"`
	} `mapstructure:"cache"`

	QR struct {
		SizePx            int    `mapstructure:"size_px"`
		StorageDir        string `mapstructure:"storage_dir"`
		RemoteFallbackURL string `mapstructure:"remote_fallback_url"`
	} `mapstructure:"qr"`

	Analytics struct {
		BufferSize  int `mapstructure:"buffer_size"`
		WorkerCount int `mapstructure:"worker_count"`
	} `mapstructure:"analytics"`

	Verify struct {
		// DestinationsBeforeSave enables the HEAD reachability probe on
		// admin create/update. Never touches the redirect hot path.
		DestinationsBeforeSave bool `mapstructure:"destinations_before_save"`
		// IntervalMinutes > 0 enables the periodic destination monitor.
		IntervalMinutes int `mapstructure:"interval_minutes"`
	} `mapstructure:"verify"`

	DebugLoggingEnabled bool `mapstructure:"debug_logging_enabled"`
}

// LoadConfig loads configuration via Viper. A missing config file is not an
// error; defaults cover every key.
func LoadConfig() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.AddConfigPath("./configs")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.base_url", "http://localhost:8080")
	viper.SetDefault("server.pretty_urls", true)
	viper.SetDefault("database.name", "qrtrack.db")
	viper.SetDefault("cache.redis_addr", "")
	viper.SetDefault("cache.link_ttl_seconds", 300)
	viper.SetDefault("cache.list_ttl_seconds", 1800)
	viper.SetDefault("qr.size_px", 256)
	viper.SetDefault("qr.storage_dir", "./data/qr")
	viper.SetDefault("qr.remote_fallback_url", "https://api.qrserver.com/v1/create-qr-code/")
	viper.SetDefault("analytics.buffer_size", 1000)
	viper.SetDefault("analytics.worker_count", 4)
	viper.SetDefault("verify.destinations_before_save", false)
	viper.SetDefault("verify.interval_minutes", 0)
	viper.SetDefault("debug_logging_enabled", false)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Config file not found, using default values")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
