package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	// A missing .env is fine; real deployments inject the environment.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("KORASTALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("korastalk")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".korastalk"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyConventionalEnv(cfg)
	return cfg, nil
}

// applyConventionalEnv honours the unprefixed variables most hosting
// platforms set for database connections.
func applyConventionalEnv(cfg *Config) {
	if cfg.Storage.Postgres.DSN == "" {
		cfg.Storage.Postgres.DSN = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if cfg.Storage.MongoDB.URI == "" {
		cfg.Storage.MongoDB.URI = strings.TrimSpace(os.Getenv("MONGODB_URI"))
	}
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("source.url", cfg.Source.URL)
	v.SetDefault("source.reference_zone", cfg.Source.ReferenceZone)

	v.SetDefault("fetcher.type", cfg.Fetcher.Type)
	v.SetDefault("fetcher.timeout", cfg.Fetcher.Timeout)
	v.SetDefault("fetcher.render_wait", cfg.Fetcher.RenderWait)
	v.SetDefault("fetcher.user_agent", cfg.Fetcher.UserAgent)
	v.SetDefault("fetcher.locale", cfg.Fetcher.Locale)
	v.SetDefault("fetcher.viewport_width", cfg.Fetcher.ViewportWidth)
	v.SetDefault("fetcher.viewport_height", cfg.Fetcher.ViewportHeight)
	v.SetDefault("fetcher.headless", cfg.Fetcher.Headless)
	v.SetDefault("fetcher.stealth", cfg.Fetcher.Stealth)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.respect_robots", cfg.Fetcher.RespectRobots)

	v.SetDefault("scanner.workers", cfg.Scanner.Workers)
	v.SetDefault("scanner.drop_enclosing", cfg.Scanner.DropEnclosing)
	v.SetDefault("reconcile.workers", cfg.Reconcile.Workers)

	v.SetDefault("engine.duration", cfg.Engine.Duration)
	v.SetDefault("engine.interval", cfg.Engine.Interval)
	v.SetDefault("engine.dry_run", cfg.Engine.DryRun)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.postgres.dsn", cfg.Storage.Postgres.DSN)
	v.SetDefault("storage.postgres.max_open_conns", cfg.Storage.Postgres.MaxOpenConns)
	v.SetDefault("storage.postgres.max_idle_conns", cfg.Storage.Postgres.MaxIdleConns)
	v.SetDefault("storage.postgres.query_timeout", cfg.Storage.Postgres.QueryTimeout)
	v.SetDefault("storage.mongodb.uri", cfg.Storage.MongoDB.URI)
	v.SetDefault("storage.mongodb.database", cfg.Storage.MongoDB.Database)
	v.SetDefault("storage.migrations_dir", cfg.Storage.MigrationsDir)
	v.SetDefault("storage.export_path", cfg.Storage.ExportPath)

	v.SetDefault("api.port", cfg.API.Port)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
