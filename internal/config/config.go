// Package config loads runtime settings from the environment with defaults
// that let the binary run with no arguments at all.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "TIBC"

type Config struct {
	SourceURL         string
	DBPath            string
	PageSize          int
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

// Load reads TIBC_* environment variables over built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("SOURCE_URL", "https://www.datos.gov.co/resource/pare-7x5i.json")
	v.SetDefault("DB_PATH", "tibc_data.db")
	v.SetDefault("PAGE_SIZE", 1000)
	v.SetDefault("MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BASE_DELAY", "500ms")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("REQUESTS_PER_SECOND", 2.0)

	cfg := &Config{
		SourceURL:         v.GetString("SOURCE_URL"),
		DBPath:            v.GetString("DB_PATH"),
		PageSize:          v.GetInt("PAGE_SIZE"),
		MaxAttempts:       v.GetInt("MAX_ATTEMPTS"),
		RetryBaseDelay:    v.GetDuration("RETRY_BASE_DELAY"),
		RequestTimeout:    v.GetDuration("REQUEST_TIMEOUT"),
		RequestsPerSecond: v.GetFloat64("REQUESTS_PER_SECOND"),
	}

	if cfg.SourceURL == "" {
		return nil, fmt.Errorf("source URL must not be empty")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path must not be empty")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", cfg.PageSize)
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", cfg.MaxAttempts)
	}
	return cfg, nil
}
