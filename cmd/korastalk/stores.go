package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IshaanNene/KoraStalk/internal/config"
	"github.com/IshaanNene/KoraStalk/internal/storage"
)

// backend is what the commands need from a store: the write gateway for
// reconciliation and the read side for the API.
type backend interface {
	storage.Store
	storage.Catalog
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return storage.NewPostgresStore(ctx, cfg.Storage.Postgres.DSN, storage.PostgresOptions{
			MaxOpenConns: cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Storage.Postgres.MaxIdleConns,
			QueryTimeout: cfg.Storage.Postgres.QueryTimeout,
		}, logger)
	case "mongodb":
		return storage.NewMongoStore(ctx, cfg.Storage.MongoDB.URI, cfg.Storage.MongoDB.Database, logger)
	case "memory":
		logger.Warn("using the in-memory store; nothing survives the process")
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// openSinks builds the export sink for a comma-separated list of paths.
// It returns nil when no path is configured.
func openSinks(paths string, logger *slog.Logger) (storage.Sink, error) {
	var sinks []storage.Sink
	for _, p := range strings.Split(paths, ",") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		sink, err := storage.NewSink(p, logger)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, fmt.Errorf("open export %s: %w", p, err)
		}
		sinks = append(sinks, sink)
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return storage.NewMultiSink(sinks, logger), nil
	}
}
