// Package korastalk lets other programs read a football match-center page
// the way the korastalk binary does, without a store.
//
// Example usage:
//
//	p := korastalk.NewParser(
//	    korastalk.WithLocation(cairo),
//	    korastalk.WithTimeout(20 * time.Second),
//	)
//
//	matches, err := p.Fetch(ctx, "https://www.yallakora.com/match-center/")
//	for _, m := range matches {
//	    fmt.Println(m.HomeTeam, m.HomeScore, "-", m.AwayScore, m.AwayTeam)
//	}
package korastalk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/IshaanNene/KoraStalk/internal/config"
	"github.com/IshaanNene/KoraStalk/internal/fetcher"
	"github.com/IshaanNene/KoraStalk/internal/parser"
	"github.com/IshaanNene/KoraStalk/internal/pipeline"
	"github.com/IshaanNene/KoraStalk/internal/types"
)

// Match is one cleaned match read from the page.
type Match = types.MatchRecord

// Status is the lifecycle state of a match.
type Status = types.Status

const (
	StatusUpcoming = types.StatusUpcoming
	StatusLive     = types.StatusLive
	StatusFinished = types.StatusFinished
)

// ErrNoMatches is returned when the page holds no match candidates at all.
var ErrNoMatches = types.ErrNoMatches

// Parser reads match-center pages.
type Parser struct {
	cfg     config.FetcherConfig
	loc     *time.Location
	now     func() time.Time
	workers int
	logger  *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithLocation sets the zone kickoff times are read in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithClock overrides the clock used for the reference date and for
// matches without a kickoff time.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// WithWorkers extracts candidates on n goroutines.
func WithWorkers(n int) Option {
	return func(p *Parser) { p.workers = n }
}

// WithTimeout bounds each Fetch.
func WithTimeout(d time.Duration) Option {
	return func(p *Parser) { p.cfg.Timeout = d }
}

// WithUserAgent sets the User-Agent sent by Fetch.
func WithUserAgent(ua string) Option {
	return func(p *Parser) { p.cfg.UserAgent = ua }
}

// WithLogger routes diagnostics to logger. By default they are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) { p.logger = logger }
}

// NewParser creates a Parser.
func NewParser(opts ...Option) *Parser {
	cfg := config.DefaultConfig().Fetcher
	cfg.Type = "http"

	p := &Parser{
		cfg:     cfg,
		loc:     time.UTC,
		now:     time.Now,
		workers: 1,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads matches from already rendered markup. pageURL resolves
// relative logo links and may be empty.
func (p *Parser) Parse(pageURL string, markup []byte) ([]*Match, error) {
	doc, err := parser.NewDocument(types.NewBrowserResponse(pageURL, markup, pageURL, 0))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	extractor := parser.NewExtractor(parser.WithLocation(p.loc), parser.WithClock(p.now))
	scanner := parser.NewScanner(extractor, p.logger,
		parser.WithWorkers(p.workers),
		parser.WithDropEnclosing(true),
	)
	scan := scanner.Scan(doc, types.DayOf(p.now(), p.loc))
	if scan.Nodes == 0 {
		return nil, ErrNoMatches
	}

	out, _ := pipeline.Default(p.logger, pageURL, p.loc).ProcessAll(scan.Records)
	return out, nil
}

// Fetch downloads pageURL without a browser and parses it. Pages that
// build their match list in JavaScript need the korastalk binary's
// browser fetcher instead.
func (p *Parser) Fetch(ctx context.Context, pageURL string) ([]*Match, error) {
	f, err := fetcher.NewHTTPFetcher(p.cfg, p.logger)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	resp, err := f.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	base := resp.FinalURL
	if base == "" {
		base = pageURL
	}
	return p.Parse(base, resp.Body)
}
