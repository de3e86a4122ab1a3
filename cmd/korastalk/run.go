package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/KoraStalk/internal/config"
	"github.com/IshaanNene/KoraStalk/internal/engine"
	"github.com/IshaanNene/KoraStalk/internal/fetcher"
	"github.com/IshaanNene/KoraStalk/internal/observability"
	"github.com/IshaanNene/KoraStalk/internal/parser"
	"github.com/IshaanNene/KoraStalk/internal/pipeline"
	"github.com/IshaanNene/KoraStalk/internal/reconcile"
)

var (
	runOnce     bool
	runDryRun   bool
	runDuration time.Duration
	runInterval time.Duration
	runURL      string
	runFetcher  string
	runStore    string
	runExport   string
)

// runCmd creates the "run" subcommand.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the match center and keep the store in step",
		Long: `Poll the match center every interval until the duration elapses.

With --once a single cycle runs. With --dry-run records are logged and
exported but never written to the store.`,
		RunE: runIngest,
	}

	cmd.Flags().BoolVar(&runOnce, "once", false, "run a single cycle and exit")
	cmd.Flags().BoolVar(&runDryRun, "dry-run", false, "log and export records without touching the store")
	cmd.Flags().DurationVar(&runDuration, "duration", 0, "total run time (0 = use config)")
	cmd.Flags().DurationVar(&runInterval, "interval", 0, "delay between cycles (0 = use config)")
	cmd.Flags().StringVar(&runURL, "url", "", "match center URL")
	cmd.Flags().StringVar(&runFetcher, "fetcher", "", "fetcher type: browser, http")
	cmd.Flags().StringVar(&runStore, "store", "", "storage type: postgres, mongodb, memory")
	cmd.Flags().StringVar(&runExport, "export", "", "comma-separated export files (.jsonl, .csv)")

	return cmd
}

func applyRunOverrides(cfg *config.Config) {
	if runDryRun {
		cfg.Engine.DryRun = true
	}
	if runDuration > 0 {
		cfg.Engine.Duration = runDuration
	}
	if runInterval > 0 {
		cfg.Engine.Interval = runInterval
	}
	if runURL != "" {
		cfg.Source.URL = runURL
	}
	if runFetcher != "" {
		cfg.Fetcher.Type = runFetcher
	}
	if runStore != "" {
		cfg.Storage.Type = runStore
	}
	if runExport != "" {
		cfg.Storage.ExportPath = runExport
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(applyRunOverrides)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc := cfg.Location()
	extractor := parser.NewExtractor(parser.WithLocation(loc))
	scanner := parser.NewScanner(extractor, logger,
		parser.WithWorkers(cfg.Scanner.Workers),
		parser.WithDropEnclosing(cfg.Scanner.DropEnclosing),
	)
	pipe := pipeline.Default(logger, cfg.Source.URL, loc)

	f, err := fetcher.New(cfg.Fetcher, logger)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}
	defer f.Close()

	var opts []engine.Option

	sink, err := openSinks(cfg.Storage.ExportPath, logger)
	if err != nil {
		return err
	}
	if sink != nil {
		defer sink.Close()
		opts = append(opts, engine.WithSink(sink))
	}

	if !cfg.Engine.DryRun {
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		cache := reconcile.NewCache()
		resolver := reconcile.NewResolver(store, cache, logger)
		rec := reconcile.NewReconciler(store, resolver, logger,
			reconcile.WithWorkers(cfg.Reconcile.Workers),
			reconcile.WithLocation(loc),
		)
		opts = append(opts, engine.WithReconciler(rec), engine.WithCache(cache))
	}

	if cfg.Fetcher.RespectRobots {
		opts = append(opts, engine.WithRobots(fetcher.NewRobotsGuard("korastalk", cfg.Fetcher.Timeout, logger)))
	}

	if cfg.Metrics.Enabled {
		metrics := observability.NewMetrics(logger)
		opts = append(opts, engine.WithMetrics(metrics))
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	eng := engine.New(cfg, f, scanner, pipe, logger, opts...)

	if runOnce {
		res, err := eng.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("\nCycle complete in %s\n", res.Duration.Round(time.Millisecond))
		fmt.Printf("   Matches:  %d found (%d live), %d dropped\n", len(res.Records), res.Live, res.Dropped)
		fmt.Printf("   Store:    %d inserted, %d updated, %d skipped\n", res.Counts.Inserted, res.Counts.Updated, res.Counts.Skipped)
		if res.Err != nil {
			fmt.Printf("   Source:   %v\n", res.Err)
		}
		return nil
	}

	if err := eng.Run(ctx); err != nil {
		return err
	}
	stats := eng.Stats().Snapshot()
	fmt.Printf("\nRun complete after %v cycles\n", stats["cycles"])
	fmt.Printf("   Store:    %v inserted, %v updated, %v skipped\n", stats["inserted"], stats["updated"], stats["skipped"])
	return nil
}
