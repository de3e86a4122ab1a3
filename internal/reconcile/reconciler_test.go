package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/KoraStalk/internal/parser"
	"github.com/IshaanNene/KoraStalk/internal/pipeline"
	"github.com/IshaanNene/KoraStalk/internal/storage"
	"github.com/IshaanNene/KoraStalk/internal/types"
)

var (
	day     = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	fixedAt = time.Date(2025, 3, 1, 18, 5, 0, 0, time.UTC)
)

func newReconciler(store storage.Store, opts ...Option) *Reconciler {
	opts = append([]Option{WithClock(func() time.Time { return fixedAt })}, opts...)
	return NewReconciler(store, NewResolver(store, NewCache(), testLogger), testLogger, opts...)
}

func record(home, away string, start time.Time) *types.MatchRecord {
	return &types.MatchRecord{
		HomeTeam:       home,
		AwayTeam:       away,
		League:         "Egyptian Premier League",
		Status:         types.StatusUpcoming,
		StartTime:      start,
		StartTimeKnown: true,
		Channel:        "beIN Sports 1",
		Round:          "Week 12",
	}
}

func matchesOn(t *testing.T, store *storage.MemoryStore, d time.Time) []storage.Match {
	t.Helper()
	matches, err := store.MatchesBetween(context.Background(), d, d.Add(24*time.Hour))
	require.NoError(t, err)
	return matches
}

func TestReconcileInsertThenUpdate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := newReconciler(store)

	rec := record("Zamalek", "Al Ahly", day.Add(19*time.Hour))
	assert.Equal(t, types.OutcomeInserted, r.Reconcile(ctx, rec))

	live := *rec
	live.Status = types.StatusLive
	live.HomeScore = 2
	live.Minute = 61
	live.Channel = "On Time Sports"
	assert.Equal(t, types.OutcomeUpdated, r.Reconcile(ctx, &live))

	matches := matchesOn(t, store, day)
	require.Len(t, matches, 1)
	m := matches[0]
	assert.Equal(t, types.StatusLive, m.Status)
	assert.Equal(t, 2, m.HomeScore)
	assert.Equal(t, 61, m.Minute)
	assert.Equal(t, "beIN Sports 1", m.Channel, "updates never touch channel")
	assert.Equal(t, "Week 12", m.Round)
	assert.Equal(t, "Egyptian Premier League", m.LeagueName)
	assert.True(t, m.UpdatedAt.Equal(fixedAt))

	leagues, teams, _ := store.Counts()
	assert.Equal(t, 1, leagues)
	assert.Equal(t, 2, teams)
}

func TestReconcileDifferentDayInserts(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := newReconciler(store)

	assert.Equal(t, types.OutcomeInserted, r.Reconcile(ctx, record("Zamalek", "Al Ahly", day.Add(19*time.Hour))))
	assert.Equal(t, types.OutcomeInserted, r.Reconcile(ctx, record("Zamalek", "Al Ahly", day.Add(43*time.Hour))))
	// Reversed fixture is a different match.
	assert.Equal(t, types.OutcomeInserted, r.Reconcile(ctx, record("Al Ahly", "Zamalek", day.Add(19*time.Hour))))

	_, _, matches := store.Counts()
	assert.Equal(t, 3, matches)
}

func TestReconcileDayInReferenceZone(t *testing.T) {
	ctx := context.Background()
	cairo := time.FixedZone("EET", 2*60*60)

	late := record("Pyramids", "Al Masry", time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC))
	next := record("Pyramids", "Al Masry", time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC))

	store := storage.NewMemoryStore()
	r := newReconciler(store, WithLocation(cairo))
	assert.Equal(t, types.OutcomeInserted, r.Reconcile(ctx, late))
	assert.Equal(t, types.OutcomeUpdated, r.Reconcile(ctx, next), "both fall on 2 March in +02:00")

	utc := storage.NewMemoryStore()
	r = newReconciler(utc)
	assert.Equal(t, types.OutcomeInserted, r.Reconcile(ctx, late))
	assert.Equal(t, types.OutcomeInserted, r.Reconcile(ctx, next))
}

func TestReconcileMissingTeamSkipped(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newReconciler(store)

	rec := record("Zamalek", "  ", day.Add(19*time.Hour))
	assert.Equal(t, types.OutcomeSkipped, r.Reconcile(context.Background(), rec))

	_, _, matches := store.Counts()
	assert.Zero(t, matches)
}

func TestReconcileWithoutLeague(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newReconciler(store)

	rec := record("Zamalek", "Al Ahly", day.Add(19*time.Hour))
	rec.League = ""
	assert.Equal(t, types.OutcomeInserted, r.Reconcile(context.Background(), rec))

	leagues, _, _ := store.Counts()
	assert.Zero(t, leagues)
	matches := matchesOn(t, store, day)
	require.Len(t, matches, 1)
	assert.Empty(t, matches[0].LeagueID)
}

func TestReconcileAllConcurrentDuplicates(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newReconciler(store, WithWorkers(8))

	recs := make([]*types.MatchRecord, 16)
	for i := range recs {
		recs[i] = record("Zamalek", "Al Ahly", day.Add(19*time.Hour))
	}
	counts := r.ReconcileAll(context.Background(), recs)

	assert.Equal(t, 1, counts.Inserted)
	assert.Equal(t, 15, counts.Updated)
	_, teams, matches := store.Counts()
	assert.Equal(t, 2, teams)
	assert.Equal(t, 1, matches)
}

func TestReconcileAllCancelled(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newReconciler(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	counts := r.ReconcileAll(ctx, []*types.MatchRecord{
		record("A", "B", day),
		record("C", "D", day),
	})
	assert.Equal(t, types.Counts{Skipped: 2}, counts)
}

// flakyStore fails or panics on selected inserts.
type flakyStore struct {
	*storage.MemoryStore
	mock.Mock
}

func (f *flakyStore) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := f.MemoryStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyTx{Tx: tx, m: &f.Mock}, nil
}

type flakyTx struct {
	storage.Tx
	m *mock.Mock
}

func (tx *flakyTx) InsertMatch(ctx context.Context, row *storage.MatchRow) (string, error) {
	args := tx.m.MethodCalled("InsertMatch", row.StartTime)
	if err := args.Error(0); err != nil {
		return "", err
	}
	return tx.Tx.InsertMatch(ctx, row)
}

func batch() []*types.MatchRecord {
	recs := make([]*types.MatchRecord, 5)
	for i := range recs {
		recs[i] = record(
			fmt.Sprintf("Home %d", i),
			fmt.Sprintf("Away %d", i),
			day.Add(time.Duration(12+i)*time.Hour),
		)
	}
	return recs
}

func TestReconcileAllIsolatesFailure(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			recs := batch()
			store := &flakyStore{MemoryStore: storage.NewMemoryStore()}
			store.On("InsertMatch", recs[2].StartTime).Return(errors.New("disk full"))
			store.On("InsertMatch", mock.Anything).Return(nil)

			counts := newReconciler(store, WithWorkers(workers)).ReconcileAll(context.Background(), recs)

			assert.Equal(t, types.Counts{Inserted: 4, Skipped: 1}, counts)
			_, _, matches := store.Counts()
			assert.Equal(t, 4, matches)
			store.AssertNumberOfCalls(t, "InsertMatch", 5)
		})
	}
}

func TestReconcileAllRecoversPanic(t *testing.T) {
	recs := batch()
	store := &flakyStore{MemoryStore: storage.NewMemoryStore()}
	store.On("InsertMatch", recs[0].StartTime).Run(func(mock.Arguments) { panic("boom") }).Return(nil)
	store.On("InsertMatch", mock.Anything).Return(nil)

	r := newReconciler(store, WithWorkers(2))
	counts := r.ReconcileAll(context.Background(), recs)
	assert.Equal(t, types.Counts{Inserted: 4, Skipped: 1}, counts)

	// The natural-key lock was released by the panicking record.
	store.ExpectedCalls = nil
	store.On("InsertMatch", mock.Anything).Return(nil)
	assert.Equal(t, types.OutcomeInserted, r.Reconcile(context.Background(), recs[0]))
}

const matchCenterHTML = `<html><body>
<div id="matchesContainer">
  <div class="matchCard">
    <div class="title"><a href="/egypt"><h2>الدوري المصري الممتاز</h2></a></div>
    <ul>
      <li class="item live">
        <div class="teamA"><img src="/logos/zamalek.png"><p>الزمالك</p></div>
        <div class="result">1 - 0</div>
        <div class="matchStatus"><span>مباشر 37'</span></div>
        <div class="teamB"><img src="/logos/ahly.png"><p>الأهلي</p></div>
        <div class="channel">beIN Sports 1</div>
      </li>
    </ul>
  </div>
</div>
</body></html>`

// TestPollTwice runs the whole ingest path twice over the same page, as two
// consecutive cycles would.
func TestPollTwice(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := newReconciler(store)
	scanner := parser.NewScanner(
		parser.NewExtractor(parser.WithClock(func() time.Time { return fixedAt })),
		testLogger,
		parser.WithDropEnclosing(true),
	)
	pipe := pipeline.Default(testLogger, "https://www.yallakora.com", time.UTC)

	poll := func(markup string) types.Counts {
		doc, err := parser.ParseHTML(markup)
		require.NoError(t, err)
		res := scanner.Scan(doc, day)
		recs, _ := pipe.ProcessAll(res.Records)
		require.Len(t, recs, 1)
		return r.ReconcileAll(ctx, recs)
	}

	first := poll(matchCenterHTML)
	assert.Equal(t, types.Counts{Inserted: 1}, first)
	got := matchesOn(t, store, day)
	require.Len(t, got, 1)
	assert.Equal(t, 37, got[0].Minute)
	before := r.resolver.Cache().Stats()
	leagues, teams, _ := store.Counts()

	second := poll(strings.NewReplacer("1 - 0", "2 - 0", "37'", "52'").Replace(matchCenterHTML))
	assert.Equal(t, types.Counts{Updated: 1}, second)

	after := r.resolver.Cache().Stats()
	assert.EqualValues(t, 2, after.TeamHits-before.TeamHits)
	assert.EqualValues(t, 1, after.LeagueHits-before.LeagueHits)
	assert.Equal(t, before.TeamMisses, after.TeamMisses)

	l2, t2, matches := store.Counts()
	assert.Equal(t, leagues, l2, "no new leagues")
	assert.Equal(t, teams, t2, "no new teams")
	assert.Equal(t, 1, matches)

	got = matchesOn(t, store, day)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].HomeScore)
	assert.Equal(t, 0, got[0].AwayScore)
	assert.Equal(t, types.StatusLive, got[0].Status)
	assert.Equal(t, 52, got[0].Minute)
	assert.Equal(t, "https://www.yallakora.com/logos/zamalek.png", got[0].HomeTeamLogo)
	assert.Equal(t, "الدوري المصري الممتاز", got[0].LeagueName)
}
