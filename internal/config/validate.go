package config

import (
	"fmt"
	"net/url"
	"time"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if err := ValidateURL(cfg.Source.URL); err != nil {
		return fmt.Errorf("source.url: %w", err)
	}
	if _, err := time.LoadLocation(cfg.Source.ReferenceZone); err != nil {
		return fmt.Errorf("source.reference_zone %q is not a known time zone: %w", cfg.Source.ReferenceZone, err)
	}

	if cfg.Fetcher.Type != "http" && cfg.Fetcher.Type != "browser" {
		return fmt.Errorf("fetcher.type must be 'http' or 'browser', got %q", cfg.Fetcher.Type)
	}
	if cfg.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if cfg.Fetcher.RenderWait < 0 {
		return fmt.Errorf("fetcher.render_wait must be >= 0")
	}
	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.ViewportWidth < 1 || cfg.Fetcher.ViewportHeight < 1 {
		return fmt.Errorf("fetcher viewport must be positive, got %dx%d", cfg.Fetcher.ViewportWidth, cfg.Fetcher.ViewportHeight)
	}

	if cfg.Scanner.Workers < 1 || cfg.Scanner.Workers > 64 {
		return fmt.Errorf("scanner.workers must be 1-64, got %d", cfg.Scanner.Workers)
	}
	if cfg.Reconcile.Workers < 1 || cfg.Reconcile.Workers > 64 {
		return fmt.Errorf("reconcile.workers must be 1-64, got %d", cfg.Reconcile.Workers)
	}

	if cfg.Engine.Duration < 0 {
		return fmt.Errorf("engine.duration must be >= 0")
	}
	if cfg.Engine.Interval <= 0 {
		return fmt.Errorf("engine.interval must be > 0")
	}

	switch cfg.Storage.Type {
	case "postgres":
		if cfg.Storage.Postgres.DSN == "" && !cfg.Engine.DryRun {
			return fmt.Errorf("storage.postgres.dsn (or DATABASE_URL) is required for the postgres store")
		}
	case "mongodb":
		if cfg.Storage.MongoDB.URI == "" && !cfg.Engine.DryRun {
			return fmt.Errorf("storage.mongodb.uri (or MONGODB_URI) is required for the mongodb store")
		}
		if cfg.Storage.MongoDB.Database == "" {
			return fmt.Errorf("storage.mongodb.database must not be empty")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.type %q is not supported (valid: postgres, mongodb, memory)", cfg.Storage.Type)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be 1-65535, got %d", cfg.API.Port)
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is usable as a poll source.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
