package reconcile

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/KoraStalk/internal/storage"
	"github.com/IshaanNene/KoraStalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Al Ahly", NormalizeName("  Al \n\t Ahly "))
	assert.Equal(t, "", NormalizeName(" \n "))
}

func TestResolveTeamIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := NewResolver(store, NewCache(), testLogger)

	first, err := r.ResolveTeam(ctx, "Zamalek", "/z.png", "")
	require.NoError(t, err)
	second, err := r.ResolveTeam(ctx, " Zamalek ", "", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A cold cache still finds the stored row.
	r.Cache().Reset()
	third, err := r.ResolveTeam(ctx, "Zamalek", "", "")
	require.NoError(t, err)
	assert.Equal(t, first, third)

	_, teams, _ := store.Counts()
	assert.Equal(t, 1, teams)

	stats := r.Cache().Stats()
	assert.EqualValues(t, 1, stats.TeamHits)
	assert.EqualValues(t, 2, stats.TeamMisses)
}

func TestResolveFuzzyFallback(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	existing, err := store.CreateEntity(ctx, storage.KindTeam, storage.EntityFields{Name: "Al Ahly SC"})
	require.NoError(t, err)

	r := NewResolver(store, NewCache(), testLogger)
	got, err := r.ResolveTeam(ctx, "ahly", "", "")
	require.NoError(t, err)
	assert.Equal(t, existing, got)

	_, teams, _ := store.Counts()
	assert.Equal(t, 1, teams, "fuzzy hit must not create")
}

func TestResolveLeagueEmpty(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := NewResolver(store, NewCache(), testLogger)

	id, ok, err := r.ResolveLeague(ctx, "  ")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)

	leagues, _, _ := store.Counts()
	assert.Zero(t, leagues)
}

func TestResolveTeamEmptyName(t *testing.T) {
	r := NewResolver(storage.NewMemoryStore(), nil, testLogger)
	_, err := r.ResolveTeam(context.Background(), "", "", "")
	assert.ErrorIs(t, err, types.ErrMissingTeams)
}

func TestResolveNamespacesSeparate(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(storage.NewMemoryStore(), NewCache(), testLogger)

	league, ok, err := r.ResolveLeague(ctx, "Ahly")
	require.NoError(t, err)
	require.True(t, ok)
	team, err := r.ResolveTeam(ctx, "Ahly", "", league)
	require.NoError(t, err)
	assert.NotEqual(t, league, team)
}

func TestResolveConcurrentMissesCollapse(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := NewResolver(store, NewCache(), testLogger)

	const workers = 32
	ids := make([]string, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			id, err := r.ResolveTeam(ctx, "Pyramids", "", "")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	close(start)
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	_, teams, _ := store.Counts()
	assert.Equal(t, 1, teams)
}

func BenchmarkResolveCached(b *testing.B) {
	ctx := context.Background()
	r := NewResolver(storage.NewMemoryStore(), NewCache(), testLogger)
	_, _ = r.ResolveTeam(ctx, "Zamalek", "", "")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.ResolveTeam(ctx, "Zamalek", "", "")
	}
}
