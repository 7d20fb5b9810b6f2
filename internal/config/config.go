// Package config loads appcache settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jwulff/appcache/internal/sections"
)

// Config holds every environment setting.
type Config struct {
	DBPath    string `env:"APPCACHE_DB_PATH"`
	APIURL    string `env:"APPCACHE_API_URL" envDefault:"https://flathub.org/api/v2"`
	LogLevel  string `env:"APPCACHE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"APPCACHE_LOG_FORMAT" envDefault:"console"`
	LogFile   string `env:"APPCACHE_LOG_FILE"`

	FetchTimeout time.Duration `env:"APPCACHE_FETCH_TIMEOUT" envDefault:"30s"`
	HTTPTimeout  time.Duration `env:"APPCACHE_HTTP_TIMEOUT" envDefault:"15s"`

	FeaturedMaxAgeDays   int `env:"APPCACHE_FEATURED_MAX_AGE_DAYS" envDefault:"0"`
	WeeklyMaxAgeDays     int `env:"APPCACHE_WEEKLY_MAX_AGE_DAYS" envDefault:"0"`
	CategoriesMaxAgeDays int `env:"APPCACHE_CATEGORIES_MAX_AGE_DAYS" envDefault:"7"`

	DetailConcurrency int `env:"APPCACHE_DETAIL_CONCURRENCY" envDefault:"4"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates a Config.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can work with.
func (c Config) Validate() error {
	var errs []error
	if c.FeaturedMaxAgeDays < 0 || c.WeeklyMaxAgeDays < 0 || c.CategoriesMaxAgeDays < 0 {
		errs = append(errs, errors.New("max age days must not be negative"))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("APPCACHE_FETCH_TIMEOUT must be positive"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("APPCACHE_HTTP_TIMEOUT must be positive"))
	}
	if c.DetailConcurrency < 1 {
		errs = append(errs, errors.New("APPCACHE_DETAIL_CONCURRENCY must be at least 1"))
	}
	return errors.Join(errs...)
}

// ResolveDBPath returns the database file path. Without APPCACHE_DB_PATH the
// file lives in the user cache directory.
func (c Config) ResolveDBPath() (string, error) {
	if c.DBPath != "" {
		return c.DBPath, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("no database path: %w", err)
	}
	return filepath.Join(dir, "appcache", "cache.db"), nil
}

// Windows returns the per-section freshness windows.
func (c Config) Windows() sections.Windows {
	return sections.Windows{
		AppOfTheDay:   c.FeaturedMaxAgeDays,
		AppsOfTheWeek: c.WeeklyMaxAgeDays,
		Categories:    c.CategoriesMaxAgeDays,
	}
}
