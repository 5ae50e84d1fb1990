// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Config is the bootstrap (file) configuration. Operational settings that can
// change at runtime live in the Registry instead.
type Config struct {
	DatabasePath      string `mapstructure:"database_path"`
	LogFile           string `mapstructure:"log_file"`
	DebugLogging      bool   `mapstructure:"debug_logging"`
	MarketDataBaseURL string `mapstructure:"market_data_base_url"`
	MetricsListen     string `mapstructure:"metrics_listen"`
}

const (
	DefaultDatabasePath      = "monitor.db"
	DefaultLogFile           = "monitor.log"
	DefaultMarketDataBaseURL = "https://public-api.birdeye.so"
	DefaultMetricsListen     = "127.0.0.1:9109"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"database_path":        DefaultDatabasePath,
		"log_file":             DefaultLogFile,
		"market_data_base_url": DefaultMarketDataBaseURL,
		"metrics_listen":       DefaultMetricsListen,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if cfg.DatabasePath == "" {
		return errors.New("missing database_path in configuration")
	}
	if err := validateURL(cfg.MarketDataBaseURL, "http"); err != nil {
		return errors.New("invalid market_data_base_url")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("SOLMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envDB := v.GetString("DATABASE_PATH"); envDB != "" {
		cfg.DatabasePath = envDB
	}
	if envBase := v.GetString("MARKET_DATA_BASE_URL"); envBase != "" {
		cfg.MarketDataBaseURL = envBase
	}
	return nil
}
