package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/KoraStalk/internal/config"
	"github.com/IshaanNene/KoraStalk/internal/fetcher"
	"github.com/IshaanNene/KoraStalk/internal/observability"
	"github.com/IshaanNene/KoraStalk/internal/parser"
	"github.com/IshaanNene/KoraStalk/internal/pipeline"
	"github.com/IshaanNene/KoraStalk/internal/reconcile"
	"github.com/IshaanNene/KoraStalk/internal/storage"
	"github.com/IshaanNene/KoraStalk/internal/types"
)

// State represents the engine's current lifecycle state.
type State int32

const (
	StateIdle     State = 0
	StateRunning  State = 1
	StateStopping State = 2
	StateStopped  State = 3
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats accumulates counters across cycles.
type Stats struct {
	Cycles       atomic.Int64
	CyclesFailed atomic.Int64
	Nodes        atomic.Int64
	Records      atomic.Int64
	Dropped      atomic.Int64
	Inserted     atomic.Int64
	Updated      atomic.Int64
	Skipped      atomic.Int64
	StartTime    time.Time
}

// Snapshot returns a copy of stats safe for reading.
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"cycles":        s.Cycles.Load(),
		"cycles_failed": s.CyclesFailed.Load(),
		"nodes":         s.Nodes.Load(),
		"records":       s.Records.Load(),
		"dropped":       s.Dropped.Load(),
		"inserted":      s.Inserted.Load(),
		"updated":       s.Updated.Load(),
		"skipped":       s.Skipped.Load(),
		"elapsed":       time.Since(s.StartTime).Round(time.Millisecond).String(),
	}
}

// Reconciler persists a cycle's records.
type Reconciler interface {
	ReconcileAll(ctx context.Context, recs []*types.MatchRecord) types.Counts
}

// RobotsPolicy decides whether the source may be polled.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) (bool, time.Duration)
}

// CycleResult is the outcome of one fetch, scan and reconcile pass.
type CycleResult struct {
	Started  time.Time
	Duration time.Duration
	Nodes    int
	Group    int
	Records  []*types.MatchRecord
	Dropped  int
	Live     int
	Counts   types.Counts
	// Err is set when the source could not be read; the cycle then has no
	// records.
	Err error
}

// Engine runs ingestion cycles against one source page.
type Engine struct {
	cfg        *config.Config
	loc        *time.Location
	fetcher    fetcher.Fetcher
	scanner    *parser.Scanner
	pipeline   *pipeline.Pipeline
	reconciler Reconciler
	sink       storage.Sink
	metrics    *observability.Metrics
	cache      *reconcile.Cache
	robots     RobotsPolicy
	now        func() time.Time
	logger     *slog.Logger

	state      atomic.Int32
	inCycle    atomic.Bool
	crawlDelay atomic.Int64
	stats      *Stats
}

// Option configures the Engine.
type Option func(*Engine)

// WithReconciler sets where records are persisted. Without one the engine
// only logs and exports.
func WithReconciler(r Reconciler) Option {
	return func(e *Engine) { e.reconciler = r }
}

// WithSink appends every cycle's records to s.
func WithSink(s storage.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithMetrics reports cycles to m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCache publishes the resolver cache counters after each cycle.
func WithCache(c *reconcile.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithRobots consults p before every fetch.
func WithRobots(p RobotsPolicy) Option {
	return func(e *Engine) { e.robots = p }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(cfg *config.Config, f fetcher.Fetcher, s *parser.Scanner, p *pipeline.Pipeline, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		loc:      cfg.Location(),
		fetcher:  f,
		scanner:  s,
		pipeline: p,
		now:      time.Now,
		logger:   logger.With("component", "engine"),
		stats:    &Stats{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DryRun reports whether cycles skip the store.
func (e *Engine) DryRun() bool {
	return e.cfg.Engine.DryRun || e.reconciler == nil
}

// RunCycle performs one cycle. It returns types.ErrCycleRunning if another
// cycle is in flight; source failures are reported in the result.
func (e *Engine) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !e.inCycle.CompareAndSwap(false, true) {
		return nil, types.ErrCycleRunning
	}
	defer e.inCycle.Store(false)

	res := &CycleResult{Started: e.now(), Group: -1}
	defer func() {
		res.Duration = e.now().Sub(res.Started)
		e.record(res)
	}()

	if e.robots != nil {
		allowed, delay := e.robots.Allowed(ctx, e.cfg.Source.URL)
		e.crawlDelay.Store(int64(delay))
		if !allowed {
			res.Err = types.ErrDisallowed
			e.logger.Warn("source unavailable", "url", e.cfg.Source.URL, "error", res.Err)
			return res, nil
		}
	}

	resp, err := e.fetcher.Fetch(ctx, e.cfg.Source.URL)
	if err != nil {
		res.Err = err
		e.logger.Warn("source unavailable", "url", e.cfg.Source.URL, "error", err)
		return res, nil
	}
	doc, err := parser.NewDocument(resp)
	if err != nil {
		res.Err = err
		e.logger.Warn("document unreadable", "url", e.cfg.Source.URL, "error", err)
		return res, nil
	}

	scan := e.scanner.Scan(doc, types.DayOf(res.Started, e.loc))
	res.Nodes, res.Group = scan.Nodes, scan.Group
	if scan.Nodes == 0 {
		e.logger.Warn("no match candidates on page", "url", e.cfg.Source.URL, "error", types.ErrNoMatches)
	}

	res.Records, res.Dropped = e.pipeline.ProcessAll(scan.Records)
	sortLiveFirst(res.Records)
	for _, rec := range res.Records {
		if rec.IsLive() {
			res.Live++
		}
	}

	if e.sink != nil && len(res.Records) > 0 {
		if err := e.sink.Write(res.Records); err != nil {
			e.logger.Error("export failed", "sink", e.sink.Name(), "error", err)
		}
	}

	if e.DryRun() {
		for _, rec := range res.Records {
			e.logger.Info("match",
				"home", rec.HomeTeam,
				"away", rec.AwayTeam,
				"score", formatScore(rec),
				"status", rec.Status,
				"minute", rec.Minute,
				"league", rec.League,
			)
		}
		return res, nil
	}

	res.Counts = e.reconciler.ReconcileAll(ctx, res.Records)
	return res, nil
}

func (e *Engine) record(res *CycleResult) {
	e.stats.Cycles.Add(1)
	if res.Err != nil {
		e.stats.CyclesFailed.Add(1)
	}
	e.stats.Nodes.Add(int64(res.Nodes))
	e.stats.Records.Add(int64(len(res.Records)))
	e.stats.Dropped.Add(int64(res.Dropped))
	e.stats.Inserted.Add(int64(res.Counts.Inserted))
	e.stats.Updated.Add(int64(res.Counts.Updated))
	e.stats.Skipped.Add(int64(res.Counts.Skipped))

	e.logger.Info("cycle complete",
		"nodes", res.Nodes,
		"records", len(res.Records),
		"dropped", res.Dropped,
		"live", res.Live,
		"inserted", res.Counts.Inserted,
		"updated", res.Counts.Updated,
		"skipped", res.Counts.Skipped,
		"dry_run", e.DryRun(),
		"duration", res.Duration.Round(time.Millisecond),
	)

	if e.metrics != nil {
		e.metrics.ObserveCycle(observability.CycleReport{
			Nodes:    res.Nodes,
			Live:     res.Live,
			Counts:   res.Counts,
			Duration: res.Duration,
			Err:      res.Err,
		})
		if e.cache != nil {
			cs := e.cache.Stats()
			e.metrics.SetCacheLookups(cs.LeagueHits, cs.LeagueMisses, cs.TeamHits, cs.TeamMisses)
		}
	}
}

// RunOnce runs a single cycle.
func (e *Engine) RunOnce(ctx context.Context) (*CycleResult, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, fmt.Errorf("engine is in state %s, cannot start", e.GetState())
	}
	e.stats.StartTime = e.now()
	defer e.state.Store(int32(StateStopped))
	return e.RunCycle(ctx)
}

// Run polls the source every engine.interval until engine.duration elapses
// or ctx is done. A zero duration runs until ctx is done. The duration only
// decides whether another cycle starts; a cycle in flight always finishes.
func (e *Engine) Run(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("engine is in state %s, cannot start", e.GetState())
	}
	defer e.state.Store(int32(StateStopped))

	e.stats.StartTime = e.now()
	started := time.Now()
	budget := e.cfg.Engine.Duration
	remaining := func() time.Duration { return budget - time.Since(started) }

	interval := e.cfg.Engine.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	e.logger.Info("engine starting",
		"url", e.cfg.Source.URL,
		"fetcher", e.fetcher.Type(),
		"interval", interval,
		"duration", budget,
		"dry_run", e.DryRun(),
	)

	stop := func(reason string) error {
		e.state.Store(int32(StateStopping))
		e.logger.Info("engine stopped", "reason", reason, "stats", e.stats.Snapshot())
		return nil
	}

	for {
		if budget > 0 && remaining() <= 0 {
			return stop("duration elapsed")
		}
		if _, err := e.RunCycle(ctx); err != nil {
			e.logger.Warn("cycle not started", "error", err)
		}
		if d := time.Duration(e.crawlDelay.Load()); d > interval {
			e.logger.Info("interval raised to crawl delay", "from", interval, "to", d)
			interval = d
		}

		wait := interval
		if budget > 0 {
			left := remaining()
			if left <= 0 {
				return stop("duration elapsed")
			}
			wait = min(wait, left)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return stop("cancelled")
		case <-timer.C:
		}
	}
}

// Stats returns the accumulated statistics.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// GetState returns the current engine state.
func (e *Engine) GetState() State {
	return State(e.state.Load())
}

func sortLiveFirst(recs []*types.MatchRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].IsLive() && !recs[j].IsLive()
	})
}

func formatScore(rec *types.MatchRecord) string {
	if rec.Status == types.StatusUpcoming {
		return "-"
	}
	return fmt.Sprintf("%d-%d", rec.HomeScore, rec.AwayScore)
}
