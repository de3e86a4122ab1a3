package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/KoraStalk/internal/config"
	"github.com/IshaanNene/KoraStalk/internal/types"
)

// BrowserFetcher renders the page in headless Chromium via Rod, so matches
// injected by client-side scripts are present in the returned markup.
type BrowserFetcher struct {
	browser *rod.Browser
	cfg     config.FetcherConfig
	logger  *slog.Logger
	// one page at a time; the engine never overlaps cycles
	mu sync.Mutex
}

// NewBrowserFetcher launches Chromium and connects to it.
func NewBrowserFetcher(cfg config.FetcherConfig, logger *slog.Logger) (*BrowserFetcher, error) {
	bf := &BrowserFetcher{
		cfg:    cfg,
		logger: logger.With("component", "browser_fetcher"),
	}

	launchURL, err := bf.launchBrowser()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	bf.browser = browser

	bf.logger.Info("browser fetcher ready",
		"headless", cfg.Headless,
		"stealth", cfg.Stealth,
		"locale", cfg.Locale,
	)
	return bf, nil
}

func (bf *BrowserFetcher) launchBrowser() (string, error) {
	l := launcher.New().
		Headless(bf.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	if bf.cfg.Locale != "" {
		l = l.Set("lang", bf.cfg.Locale)
	}
	if bf.cfg.ViewportWidth > 0 && bf.cfg.ViewportHeight > 0 {
		l = l.Set("window-size", strconv.Itoa(bf.cfg.ViewportWidth)+","+strconv.Itoa(bf.cfg.ViewportHeight))
	}
	return l.Launch()
}

// Fetch navigates to url, waits for the page to settle plus the configured
// render wait, and returns the rendered HTML.
func (bf *BrowserFetcher) Fetch(ctx context.Context, url string) (*types.Response, error) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	start := time.Now()
	page, err := bf.newPage()
	if err != nil {
		return nil, &types.FetchError{URL: url, Err: err, Retryable: true}
	}
	defer func() {
		if err := page.Close(); err != nil {
			bf.logger.Debug("page close failed", "error", err)
		}
	}()

	page = page.Context(ctx)
	if err := bf.emulate(page); err != nil {
		bf.logger.Warn("page emulation incomplete", "error", err)
	}

	timeout := bf.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if err := page.Timeout(timeout).Navigate(url); err != nil {
		return nil, &types.FetchError{URL: url, Err: err, Retryable: true}
	}
	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		bf.logger.Warn("page load timeout, continuing", "url", url, "error", err)
	}

	if bf.cfg.RenderWait > 0 {
		select {
		case <-time.After(bf.cfg.RenderWait):
		case <-ctx.Done():
			return nil, &types.FetchError{URL: url, Err: ctx.Err()}
		}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &types.FetchError{URL: url, Err: err, Retryable: true}
	}
	if html == "" {
		return nil, &types.FetchError{URL: url, Err: types.ErrEmptyResponse}
	}

	finalURL := url
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	duration := time.Since(start)
	bf.logger.Debug("browser fetch complete",
		"url", url,
		"final_url", finalURL,
		"size", len(html),
		"duration", duration,
	)
	return types.NewBrowserResponse(url, []byte(html), finalURL, duration), nil
}

func (bf *BrowserFetcher) newPage() (*rod.Page, error) {
	if bf.cfg.Stealth {
		page, err := stealth.Page(bf.browser)
		if err != nil {
			return nil, fmt.Errorf("stealth page: %w", err)
		}
		return page, nil
	}
	return bf.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
}

// emulate applies user agent, locale and viewport to page.
func (bf *BrowserFetcher) emulate(page *rod.Page) error {
	if bf.cfg.UserAgent != "" {
		err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      bf.cfg.UserAgent,
			AcceptLanguage: acceptLanguage(bf.cfg.Locale),
		})
		if err != nil {
			return fmt.Errorf("user agent: %w", err)
		}
	}
	if bf.cfg.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: bf.cfg.Locale}).Call(page); err != nil {
			return fmt.Errorf("locale: %w", err)
		}
	}
	if bf.cfg.ViewportWidth > 0 && bf.cfg.ViewportHeight > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             bf.cfg.ViewportWidth,
			Height:            bf.cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			return fmt.Errorf("viewport: %w", err)
		}
	}
	return nil
}

// Close shuts down the browser.
func (bf *BrowserFetcher) Close() error {
	if bf.browser != nil {
		return bf.browser.Close()
	}
	return nil
}

// Type returns the fetcher type identifier.
func (bf *BrowserFetcher) Type() string {
	return "browser"
}
