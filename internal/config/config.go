package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// DefaultSourceURL is the match center page KoraStalk is tuned for.
const DefaultSourceURL = "https://www.yallakora.com/match-center/"

// Config is the root configuration for KoraStalk.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"    yaml:"source"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"   yaml:"fetcher"`
	Scanner   ScannerConfig   `mapstructure:"scanner"   yaml:"scanner"`
	Reconcile ReconcileConfig `mapstructure:"reconcile" yaml:"reconcile"`
	Engine    EngineConfig    `mapstructure:"engine"    yaml:"engine"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
}

// SourceConfig describes the page being polled.
type SourceConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// ReferenceZone is the IANA zone used for kickoff times and the
	// calendar date of the natural key.
	ReferenceZone string `mapstructure:"reference_zone" yaml:"reference_zone"`
}

// FetcherConfig controls how the rendered document is obtained.
type FetcherConfig struct {
	Type           string        `mapstructure:"type"            yaml:"type"` // browser, http
	Timeout        time.Duration `mapstructure:"timeout"         yaml:"timeout"`
	RenderWait     time.Duration `mapstructure:"render_wait"     yaml:"render_wait"`
	UserAgent      string        `mapstructure:"user_agent"      yaml:"user_agent"`
	Locale         string        `mapstructure:"locale"          yaml:"locale"`
	ViewportWidth  int           `mapstructure:"viewport_width"  yaml:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	Headless       bool          `mapstructure:"headless"        yaml:"headless"`
	Stealth        bool          `mapstructure:"stealth"         yaml:"stealth"`
	MaxBodySize    int64         `mapstructure:"max_body_size"   yaml:"max_body_size"`

	// RespectRobots skips cycles the source's robots.txt disallows and
	// raises the poll interval to its Crawl-delay.
	RespectRobots bool `mapstructure:"respect_robots" yaml:"respect_robots"`
}

// ScannerConfig controls candidate node extraction.
type ScannerConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
	// DropEnclosing discards candidates that wrap other real matches.
	DropEnclosing bool `mapstructure:"drop_enclosing" yaml:"drop_enclosing"`
}

// ReconcileConfig controls record reconciliation.
type ReconcileConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// EngineConfig controls the ingestion loop.
type EngineConfig struct {
	Duration time.Duration `mapstructure:"duration" yaml:"duration"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	DryRun   bool          `mapstructure:"dry_run"  yaml:"dry_run"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Type          string         `mapstructure:"type"           yaml:"type"` // postgres, mongodb, memory
	Postgres      PostgresConfig `mapstructure:"postgres"       yaml:"postgres"`
	MongoDB       MongoConfig    `mapstructure:"mongodb"        yaml:"mongodb"`
	MigrationsDir string         `mapstructure:"migrations_dir" yaml:"migrations_dir"`
	ExportPath    string         `mapstructure:"export_path"    yaml:"export_path"`
}

// PostgresConfig configures the SQL backend.
type PostgresConfig struct {
	DSN          string        `mapstructure:"dsn"            yaml:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"  yaml:"query_timeout"`
}

// MongoConfig configures the document backend.
type MongoConfig struct {
	URI      string `mapstructure:"uri"      yaml:"uri"`
	Database string `mapstructure:"database" yaml:"database"`
}

// APIConfig controls the read/update HTTP API.
type APIConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			URL:           DefaultSourceURL,
			ReferenceZone: "UTC",
		},
		Fetcher: FetcherConfig{
			Type:           "browser",
			Timeout:        30 * time.Second,
			RenderWait:     3 * time.Second,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			Locale:         "ar-SA",
			ViewportWidth:  1280,
			ViewportHeight: 720,
			Headless:       true,
			Stealth:        true,
			MaxBodySize:    10 * 1024 * 1024, // 10MB
		},
		Scanner: ScannerConfig{
			Workers:       1,
			DropEnclosing: true,
		},
		Reconcile: ReconcileConfig{
			Workers: 1,
		},
		Engine: EngineConfig{
			Duration: 280 * time.Second,
			Interval: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type: "postgres",
			Postgres: PostgresConfig{
				MaxOpenConns: 5,
				MaxIdleConns: 2,
				QueryTimeout: 10 * time.Second,
			},
			MongoDB: MongoConfig{
				Database: "korastalk",
			},
			MigrationsDir: "db/migrations",
		},
		API: APIConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Location resolves the configured reference zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Source.ReferenceZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Source.ReferenceZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
