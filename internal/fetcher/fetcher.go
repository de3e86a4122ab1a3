package fetcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/KoraStalk/internal/config"
	"github.com/IshaanNene/KoraStalk/internal/types"
)

// Fetcher obtains the rendered document for a page.
type Fetcher interface {
	// Fetch returns the page at url. Failures are *types.FetchError.
	Fetch(ctx context.Context, url string) (*types.Response, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher type identifier.
	Type() string
}

// New builds the fetcher selected by cfg.Type.
func New(cfg config.FetcherConfig, logger *slog.Logger) (Fetcher, error) {
	switch cfg.Type {
	case "browser", "":
		return NewBrowserFetcher(cfg, logger)
	case "http":
		return NewHTTPFetcher(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown fetcher type %q", cfg.Type)
	}
}
