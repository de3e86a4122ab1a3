package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/KoraStalk/internal/config"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "korastalk",
		Short: "KoraStalk: live football match ingester",
		Long: `KoraStalk polls a football match-center page, extracts every match on it
and keeps a relational store in step with what the page shows.

Each poll cycle renders the page, scans it for match cards, cleans the
records and upserts them keyed on home team, away team and match day.
Leagues and teams are resolved by name and created on first sight.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads, overrides and validates the configuration.
func loadConfig(override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if override != nil {
		override(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setupLogger creates a structured logger from the logging section.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("KoraStalk %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Source:\n")
			fmt.Printf("  URL:               %s\n", cfg.Source.URL)
			fmt.Printf("  Reference zone:    %s\n", cfg.Source.ReferenceZone)
			fmt.Printf("\nFetcher:\n")
			fmt.Printf("  Type:              %s\n", cfg.Fetcher.Type)
			fmt.Printf("  Timeout:           %s\n", cfg.Fetcher.Timeout)
			fmt.Printf("  Render wait:       %s\n", cfg.Fetcher.RenderWait)
			fmt.Printf("  Locale:            %s\n", cfg.Fetcher.Locale)
			fmt.Printf("  Viewport:          %dx%d\n", cfg.Fetcher.ViewportWidth, cfg.Fetcher.ViewportHeight)
			fmt.Printf("  Headless:          %v\n", cfg.Fetcher.Headless)
			fmt.Printf("  Respect robots:    %v\n", cfg.Fetcher.RespectRobots)
			fmt.Printf("\nEngine:\n")
			fmt.Printf("  Duration:          %s\n", cfg.Engine.Duration)
			fmt.Printf("  Interval:          %s\n", cfg.Engine.Interval)
			fmt.Printf("  Dry run:           %v\n", cfg.Engine.DryRun)
			fmt.Printf("  Scanner workers:   %d\n", cfg.Scanner.Workers)
			fmt.Printf("  Reconcile workers: %d\n", cfg.Reconcile.Workers)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:              %s\n", cfg.Storage.Type)
			fmt.Printf("  Postgres DSN set:  %v\n", cfg.Storage.Postgres.DSN != "")
			fmt.Printf("  MongoDB URI set:   %v\n", cfg.Storage.MongoDB.URI != "")
			fmt.Printf("  Migrations:        %s\n", cfg.Storage.MigrationsDir)
			fmt.Printf("  Export path:       %s\n", cfg.Storage.ExportPath)
			fmt.Printf("\nAPI:\n")
			fmt.Printf("  Port:              %d\n", cfg.API.Port)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:              %d\n", cfg.Metrics.Port)
			return nil
		},
	}
}
