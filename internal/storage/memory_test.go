package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

var day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func seedMatch(t *testing.T, s *MemoryStore, status types.Status, start time.Time) (matchID, leagueID string) {
	t.Helper()
	ctx := context.Background()

	leagueID, err := s.CreateEntity(ctx, KindLeague, EntityFields{Name: "Egyptian Premier League"})
	require.NoError(t, err)
	home, err := s.CreateEntity(ctx, KindTeam, EntityFields{Name: "Zamalek", LeagueID: leagueID})
	require.NoError(t, err)
	away, err := s.CreateEntity(ctx, KindTeam, EntityFields{Name: "Al Ahly", LeagueID: leagueID})
	require.NoError(t, err)

	matchID, err = s.InsertMatch(ctx, &MatchRow{
		LeagueID:   leagueID,
		HomeTeamID: home,
		AwayTeamID: away,
		StartTime:  start,
		Status:     status,
		UpdatedAt:  start,
	})
	require.NoError(t, err)
	return matchID, leagueID
}

func TestMemoryEntityLookup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.CreateEntity(ctx, KindTeam, EntityFields{Name: "Al Ahly SC"})
	require.NoError(t, err)

	got, found, err := s.FindEntityByExactName(ctx, KindTeam, "Al Ahly SC")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)

	_, found, err = s.FindEntityByExactName(ctx, KindTeam, "al ahly sc")
	require.NoError(t, err)
	assert.False(t, found, "exact lookup is case-sensitive")

	got, found, err = s.FindEntityByFuzzyName(ctx, KindTeam, "ahly")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)

	_, found, err = s.FindEntityByExactName(ctx, KindLeague, "Al Ahly SC")
	require.NoError(t, err)
	assert.False(t, found, "kinds do not share a namespace")
}

func TestMemoryFuzzyReturnsFirstCreated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, _ := s.CreateEntity(ctx, KindTeam, EntityFields{Name: "Al Ahly"})
	_, _ = s.CreateEntity(ctx, KindTeam, EntityFields{Name: "Al Ahly Benghazi"})

	got, found, err := s.FindEntityByFuzzyName(ctx, KindTeam, "ahly")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first, got)
}

func TestMemoryMatchByDay(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, _ := seedMatch(t, s, types.StatusUpcoming, day.Add(20*time.Hour))

	m, err := s.MatchByID(ctx, id)
	require.NoError(t, err)

	got, found, err := s.FindMatchByTeamsAndDate(ctx, m.HomeTeamID, m.AwayTeamID, day)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)

	_, found, err = s.FindMatchByTeamsAndDate(ctx, m.HomeTeamID, m.AwayTeamID, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.False(t, found)

	_, found, _ = s.FindMatchByTeamsAndDate(ctx, m.AwayTeamID, m.HomeTeamID, day)
	assert.False(t, found, "home and away are ordered")
}

func TestMemoryTxCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	home, _ := tx.CreateEntity(ctx, KindTeam, EntityFields{Name: "Pyramids"})
	away, _ := tx.CreateEntity(ctx, KindTeam, EntityFields{Name: "Al Masry"})
	id, err := tx.InsertMatch(ctx, &MatchRow{HomeTeamID: home, AwayTeamID: away, StartTime: day.Add(time.Hour), Status: types.StatusUpcoming})
	require.NoError(t, err)

	// Visible inside the tx, not outside.
	got, found, _ := tx.FindMatchByTeamsAndDate(ctx, home, away, day)
	assert.True(t, found)
	assert.Equal(t, id, got)
	_, found, _ = s.FindMatchByTeamsAndDate(ctx, home, away, day)
	assert.False(t, found)

	require.NoError(t, tx.UpdateMatch(ctx, id, MatchUpdate{Status: types.StatusLive, HomeScore: 1, Minute: 12}))
	require.NoError(t, tx.Commit())

	m, err := s.MatchByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusLive, m.Status)
	assert.Equal(t, 1, m.HomeScore)
	assert.Equal(t, "Pyramids", m.HomeTeamName)

	_, err = tx.InsertMatch(ctx, &MatchRow{})
	assert.Error(t, err, "finished tx rejects writes")
}

func TestMemoryTxRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, _ = tx.CreateEntity(ctx, KindLeague, EntityFields{Name: "Saudi Pro League"})
	_, _ = tx.InsertMatch(ctx, &MatchRow{HomeTeamID: "a", AwayTeamID: "b", StartTime: day})
	require.NoError(t, tx.Rollback())

	leagues, teams, matches := s.Counts()
	assert.Zero(t, leagues+teams+matches)
	assert.NoError(t, tx.Rollback(), "rollback is idempotent")
}

func TestMemoryTxCommitUnknownUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, _ := s.Begin(ctx)
	_, _ = tx.InsertMatch(ctx, &MatchRow{HomeTeamID: "a", AwayTeamID: "b", StartTime: day})
	_ = tx.UpdateMatch(ctx, "missing", MatchUpdate{Status: types.StatusLive})

	err := tx.Commit()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	_, _, matches := s.Counts()
	assert.Zero(t, matches, "failed commit applies nothing")
}

func TestMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	upcoming, leagueID := seedMatch(t, s, types.StatusUpcoming, day.Add(18*time.Hour))
	live, _ := seedMatch(t, s, types.StatusLive, day.Add(20*time.Hour))
	seedMatch(t, s, types.StatusFinished, day.AddDate(0, 0, -1))

	matches, err := s.MatchesBetween(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, live, matches[0].ID, "live first")
	assert.Equal(t, upcoming, matches[1].ID)
	assert.Equal(t, DefaultFormation, matches[0].HomeFormation)
	assert.Equal(t, "Egyptian Premier League", matches[1].LeagueName)

	league, err := s.LeagueByID(ctx, leagueID)
	require.NoError(t, err)
	assert.Equal(t, DefaultCountry, league.Country)
	assert.Equal(t, DefaultSeason, league.Season)
	assert.True(t, league.IsActive)

	recent, err := s.RecentMatchesByLeague(ctx, leagueID, 20)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, upcoming, recent[0].ID)

	_, err = s.LeagueByID(ctx, "nope")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestMemoryApplyLiveUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, _ := seedMatch(t, s, types.StatusUpcoming, day.Add(18*time.Hour))

	score, minute := 2, 67
	live := types.StatusLive
	stamp := day.Add(19 * time.Hour)
	err := s.ApplyLiveUpdate(ctx, id, LiveUpdate{HomeScore: &score, Minute: &minute, Status: &live, UpdatedAt: stamp},
		&MatchEvent{Minute: 67, EventType: "goal", PlayerName: "Zizo"})
	require.NoError(t, err)

	m, err := s.MatchByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, m.HomeScore)
	assert.Equal(t, 0, m.AwayScore, "absent fields untouched")
	assert.Equal(t, 67, m.Minute)
	assert.Equal(t, types.StatusLive, m.Status)
	assert.True(t, m.UpdatedAt.Equal(stamp))

	events, err := s.EventsByMatch(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].MatchID)
	assert.NotEmpty(t, events[0].ID)

	err = s.ApplyLiveUpdate(ctx, "missing", LiveUpdate{UpdatedAt: stamp}, nil)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestMemoryClosed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.CreateEntity(ctx, KindTeam, EntityFields{Name: "x"})
	require.Error(t, err)

	var pErr *types.PersistenceError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, "memory", pErr.Backend)
	assert.True(t, errors.Is(err, types.ErrStoreClosed))
}
