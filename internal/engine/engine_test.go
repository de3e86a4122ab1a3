package engine

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IshaanNene/KoraStalk/internal/config"
	"github.com/IshaanNene/KoraStalk/internal/observability"
	"github.com/IshaanNene/KoraStalk/internal/parser"
	"github.com/IshaanNene/KoraStalk/internal/pipeline"
	"github.com/IshaanNene/KoraStalk/internal/reconcile"
	"github.com/IshaanNene/KoraStalk/internal/storage"
	"github.com/IshaanNene/KoraStalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

var testNow = time.Date(2025, 3, 1, 18, 5, 0, 0, time.UTC)

const matchCenterHTML = `<html><body>
<div id="matchesContainer">
  <div class="matchCard">
    <div class="title"><h2>الدوري المصري الممتاز</h2></div>
    <ul>
      <li class="item">
        <div class="teamA"><p>بيراميدز</p></div>
        <div class="matchStatus">لم تبدأ</div>
        <div class="matchTime">20:30</div>
        <div class="teamB"><p>المصري</p></div>
      </li>
      <li class="item live">
        <div class="teamA"><p>الزمالك</p></div>
        <div class="result">1 - 0</div>
        <div class="matchStatus"><span>الشوط الثاني</span></div>
        <div class="teamB"><p>الأهلي</p></div>
      </li>
    </ul>
  </div>
</div>
</body></html>`

// stubFetcher serves fixed markup, or err when set.
type stubFetcher struct {
	mu    sync.Mutex
	body  string
	err   error
	calls atomic.Int64
	// gate, when set, blocks Fetch until closed.
	gate    chan struct{}
	entered chan struct{}
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (*types.Response, error) {
	f.calls.Add(1)
	if f.gate != nil {
		close(f.entered)
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, &types.FetchError{URL: url, Err: f.err}
	}
	return types.NewBrowserResponse(url, []byte(f.body), url, time.Millisecond), nil
}

func (f *stubFetcher) Close() error { return nil }
func (f *stubFetcher) Type() string { return "stub" }

type fixture struct {
	cfg     *config.Config
	fetcher *stubFetcher
	store   *storage.MemoryStore
	cache   *reconcile.Cache
}

func newFixture() *fixture {
	cfg := config.DefaultConfig()
	cfg.Source.URL = "https://www.yallakora.com/match-center/"
	return &fixture{
		cfg:     cfg,
		fetcher: &stubFetcher{body: matchCenterHTML},
		store:   storage.NewMemoryStore(),
		cache:   reconcile.NewCache(),
	}
}

func (fx *fixture) engine(opts ...Option) *Engine {
	clock := func() time.Time { return testNow }
	scanner := parser.NewScanner(
		parser.NewExtractor(parser.WithClock(clock)),
		testLogger,
		parser.WithDropEnclosing(true),
	)
	pipe := pipeline.Default(testLogger, "https://www.yallakora.com", time.UTC)
	rec := reconcile.NewReconciler(fx.store, reconcile.NewResolver(fx.store, fx.cache, testLogger), testLogger)

	opts = append([]Option{WithReconciler(rec), WithClock(clock), WithCache(fx.cache)}, opts...)
	return New(fx.cfg, fx.fetcher, scanner, pipe, testLogger, opts...)
}

func TestRunCycleInsertsThenUpdates(t *testing.T) {
	fx := newFixture()
	e := fx.engine()

	res, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("unexpected source error: %v", res.Err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(res.Records))
	}
	if !res.Records[0].IsLive() {
		t.Error("live match should be ordered first")
	}
	if res.Live != 1 {
		t.Errorf("expected 1 live, got %d", res.Live)
	}
	if res.Counts != (types.Counts{Inserted: 2}) {
		t.Errorf("first cycle counts %+v", res.Counts)
	}

	res, err = e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if res.Counts != (types.Counts{Updated: 2}) {
		t.Errorf("second cycle counts %+v", res.Counts)
	}

	if _, _, matches := fx.store.Counts(); matches != 2 {
		t.Errorf("expected 2 stored matches, got %d", matches)
	}
	if got := e.Stats().Cycles.Load(); got != 2 {
		t.Errorf("expected 2 cycles, got %d", got)
	}
}

func TestRunCycleSourceUnavailable(t *testing.T) {
	fx := newFixture()
	fx.fetcher.err = errors.New("connection refused")
	e := fx.engine()

	res, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("source failure must not fail the cycle: %v", err)
	}
	var fe *types.FetchError
	if !errors.As(res.Err, &fe) {
		t.Fatalf("expected FetchError, got %v", res.Err)
	}
	if len(res.Records) != 0 || res.Counts.Total() != 0 {
		t.Errorf("expected empty cycle, got %+v", res)
	}
	if e.Stats().CyclesFailed.Load() != 1 {
		t.Error("failed cycle not counted")
	}
}

func TestRunCycleEmptyPage(t *testing.T) {
	fx := newFixture()
	fx.fetcher.body = "<html><body><p>لا توجد مباريات</p></body></html>"

	res, err := fx.engine().RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if res.Group != -1 || len(res.Records) != 0 {
		t.Errorf("expected no candidates, got %+v", res)
	}
}

func TestRunCycleRejectsOverlap(t *testing.T) {
	fx := newFixture()
	fx.fetcher.gate = make(chan struct{})
	fx.fetcher.entered = make(chan struct{})
	e := fx.engine()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.RunCycle(context.Background())
	}()
	<-fx.fetcher.entered

	if _, err := e.RunCycle(context.Background()); !errors.Is(err, types.ErrCycleRunning) {
		t.Errorf("expected ErrCycleRunning, got %v", err)
	}
	close(fx.fetcher.gate)
	<-done
}

func TestDryRunExportsWithoutStoring(t *testing.T) {
	fx := newFixture()
	fx.cfg.Engine.DryRun = true
	path := filepath.Join(t.TempDir(), "records.jsonl")
	sink, err := storage.NewSink(path, testLogger)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	e := fx.engine(WithSink(sink))

	res, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if res.Counts.Total() != 0 {
		t.Errorf("dry run reconciled records: %+v", res.Counts)
	}
	if _, _, matches := fx.store.Counts(); matches != 0 {
		t.Errorf("dry run stored %d matches", matches)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close sink: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	lines := 0
	for sc := bufio.NewScanner(f); sc.Scan(); {
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 exported lines, got %d", lines)
	}
}

func TestRunContinuousUntilDuration(t *testing.T) {
	fx := newFixture()
	fx.cfg.Engine.Duration = 120 * time.Millisecond
	fx.cfg.Engine.Interval = 20 * time.Millisecond
	metrics := observability.NewMetrics(testLogger)
	e := fx.engine(WithMetrics(metrics))

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if e.GetState() != StateStopped {
		t.Errorf("expected stopped, got %s", e.GetState())
	}
	if n := fx.fetcher.calls.Load(); n < 2 {
		t.Errorf("expected several cycles, got %d", n)
	}
	if _, _, matches := fx.store.Counts(); matches != 2 {
		t.Errorf("repeated polls must not duplicate matches, got %d", matches)
	}

	if err := e.Run(context.Background()); err == nil {
		t.Error("a stopped engine must not restart")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fx := newFixture()
	fx.cfg.Engine.Duration = 0
	fx.cfg.Engine.Interval = time.Hour
	e := fx.engine()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for fx.fetcher.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on cancel")
	}
}

func TestFormatScore(t *testing.T) {
	if got := formatScore(&types.MatchRecord{Status: types.StatusUpcoming}); got != "-" {
		t.Errorf("upcoming score %q", got)
	}
	if got := formatScore(&types.MatchRecord{Status: types.StatusFinished, HomeScore: 3, AwayScore: 1}); got != "3-1" {
		t.Errorf("finished score %q", got)
	}
}

type denyAll struct{ delay time.Duration }

func (d denyAll) Allowed(context.Context, string) (bool, time.Duration) { return false, d.delay }

func TestRunCycleRespectsRobots(t *testing.T) {
	fx := newFixture()
	e := fx.engine(WithRobots(denyAll{delay: time.Minute}))

	res, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !errors.Is(res.Err, types.ErrDisallowed) {
		t.Fatalf("expected ErrDisallowed, got %v", res.Err)
	}
	if n := fx.fetcher.calls.Load(); n != 0 {
		t.Errorf("fetcher called %d times for a disallowed source", n)
	}
	if got := time.Duration(e.crawlDelay.Load()); got != time.Minute {
		t.Errorf("crawl delay = %v, want 1m", got)
	}
	if failed := e.Stats().CyclesFailed.Load(); failed != 1 {
		t.Errorf("expected 1 failed cycle, got %d", failed)
	}
}

func TestRunFinishesCycleStartedInsideDuration(t *testing.T) {
	fx := newFixture()
	fx.cfg.Engine.Duration = 50 * time.Millisecond
	fx.cfg.Engine.Interval = time.Hour
	fx.fetcher.gate = make(chan struct{})
	fx.fetcher.entered = make(chan struct{})
	e := fx.engine()

	go func() {
		<-fx.fetcher.entered
		time.Sleep(100 * time.Millisecond)
		close(fx.fetcher.gate)
	}()

	errc := make(chan error, 1)
	go func() { errc <- e.Run(context.Background()) }()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after the duration")
	}

	if n := fx.fetcher.calls.Load(); n != 1 {
		t.Errorf("expected exactly 1 cycle, got %d", n)
	}
	if inserted, skipped := e.Stats().Inserted.Load(), e.Stats().Skipped.Load(); inserted != 2 || skipped != 0 {
		t.Errorf("late cycle should still reconcile: inserted=%d skipped=%d", inserted, skipped)
	}
	if _, _, matches := fx.store.Counts(); matches != 2 {
		t.Errorf("expected 2 stored matches, got %d", matches)
	}
}
