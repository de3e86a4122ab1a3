package storage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

// EntityKind selects the entity table a lookup or create targets.
type EntityKind string

const (
	KindLeague EntityKind = "league"
	KindTeam   EntityKind = "team"
)

// Defaults applied to implicitly created leagues and matches.
const (
	DefaultCountry   = "Unknown"
	DefaultSeason    = "2025-2026"
	DefaultFormation = "4-3-3"
)

// EntityFields carries the columns written when an entity is created.
// LeagueID is only meaningful for teams.
type EntityFields struct {
	Name     string
	LogoURL  string
	LeagueID string
}

// MatchRow is the insert shape of a match. An empty LeagueID is stored as NULL.
type MatchRow struct {
	LeagueID   string
	HomeTeamID string
	AwayTeamID string
	StartTime  time.Time
	Status     types.Status
	HomeScore  int
	AwayScore  int
	Minute     int
	Channel    string
	Round      string
	UpdatedAt  time.Time
}

// MatchUpdate is the subset of columns a re-observed match may change.
type MatchUpdate struct {
	Status    types.Status
	HomeScore int
	AwayScore int
	Minute    int
	UpdatedAt time.Time
}

// Gateway is the persistence surface reconciliation runs against.
type Gateway interface {
	FindEntityByExactName(ctx context.Context, kind EntityKind, name string) (id string, found bool, err error)
	FindEntityByFuzzyName(ctx context.Context, kind EntityKind, name string) (id string, found bool, err error)
	CreateEntity(ctx context.Context, kind EntityKind, fields EntityFields) (id string, err error)
	FindMatchByTeamsAndDate(ctx context.Context, homeID, awayID string, day time.Time) (id string, found bool, err error)
	InsertMatch(ctx context.Context, m *MatchRow) (id string, err error)
	UpdateMatch(ctx context.Context, id string, u MatchUpdate) error
}

// Tx is a Gateway whose writes become visible on Commit.
type Tx interface {
	Gateway
	Commit() error
	Rollback() error
}

// Store is a persistence backend.
type Store interface {
	Gateway
	Begin(ctx context.Context) (Tx, error)
	Name() string
	Close() error
}

// --- Read side ---

// League is a stored league row.
type League struct {
	ID        string    `json:"id" db:"id" bson:"_id"`
	Name      string    `json:"name" db:"name" bson:"name"`
	LogoURL   string    `json:"logo_url" db:"logo_url" bson:"logo_url"`
	Country   string    `json:"country" db:"country" bson:"country"`
	Season    string    `json:"season" db:"season" bson:"season"`
	IsActive  bool      `json:"is_active" db:"is_active" bson:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at" bson:"created_at"`
}

// Team is a stored team row.
type Team struct {
	ID        string    `json:"id" db:"id" bson:"_id"`
	LeagueID  string    `json:"league_id,omitempty" db:"league_id" bson:"league_id,omitempty"`
	Name      string    `json:"name" db:"name" bson:"name"`
	ShortName string    `json:"short_name" db:"short_name" bson:"short_name"`
	LogoURL   string    `json:"logo_url" db:"logo_url" bson:"logo_url"`
	CreatedAt time.Time `json:"created_at" db:"created_at" bson:"created_at"`
}

// Match is a stored match joined with its team and league names.
type Match struct {
	ID            string       `json:"id"`
	LeagueID      string       `json:"league_id,omitempty"`
	LeagueName    string       `json:"league_name,omitempty"`
	HomeTeamID    string       `json:"home_team_id"`
	HomeTeamName  string       `json:"home_team_name"`
	HomeTeamLogo  string       `json:"home_team_logo"`
	AwayTeamID    string       `json:"away_team_id"`
	AwayTeamName  string       `json:"away_team_name"`
	AwayTeamLogo  string       `json:"away_team_logo"`
	StartTime     time.Time    `json:"start_time"`
	Status        types.Status `json:"status"`
	HomeScore     int          `json:"home_score"`
	AwayScore     int          `json:"away_score"`
	Minute        int          `json:"minute"`
	Venue         string       `json:"venue"`
	Referee       string       `json:"referee"`
	Channel       string       `json:"channel"`
	Commentator   string       `json:"commentator"`
	Round         string       `json:"round"`
	HomeFormation string       `json:"home_formation"`
	AwayFormation string       `json:"away_formation"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// MatchEvent is a goal, card or substitution recorded against a match.
type MatchEvent struct {
	ID          string    `json:"id" db:"id" bson:"_id"`
	MatchID     string    `json:"match_id" db:"match_id" bson:"match_id"`
	Minute      int       `json:"minute" db:"minute" bson:"minute"`
	EventType   string    `json:"event_type" db:"event_type" bson:"event_type"`
	PlayerName  string    `json:"player_name" db:"player_name" bson:"player_name"`
	TeamID      string    `json:"team_id,omitempty" db:"team_id" bson:"team_id,omitempty"`
	Description string    `json:"description" db:"description" bson:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at" bson:"created_at"`
}

// LiveUpdate is a partial match update pushed by an operator. Nil fields
// are left unchanged; UpdatedAt is always written.
type LiveUpdate struct {
	HomeScore *int
	AwayScore *int
	Minute    *int
	Status    *types.Status
	UpdatedAt time.Time
}

// Catalog serves stored data to the HTTP API. Lookups of unknown ids
// return an error wrapping types.ErrNotFound.
type Catalog interface {
	MatchesBetween(ctx context.Context, from, to time.Time) ([]Match, error)
	MatchByID(ctx context.Context, id string) (Match, error)
	EventsByMatch(ctx context.Context, matchID string) ([]MatchEvent, error)
	LeagueByID(ctx context.Context, id string) (League, error)
	RecentMatchesByLeague(ctx context.Context, leagueID string, limit int) ([]Match, error)
	ApplyLiveUpdate(ctx context.Context, matchID string, u LiveUpdate, event *MatchEvent) error
}

// SortLiveFirst orders live matches first, then by kickoff.
func SortLiveFirst(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		li, lj := matches[i].Status == types.StatusLive, matches[j].Status == types.StatusLive
		if li != lj {
			return li
		}
		return matches[i].StartTime.Before(matches[j].StartTime)
	})
}

func tableFor(kind EntityKind) string {
	if kind == KindLeague {
		return "leagues"
	}
	return "teams"
}

// fuzzyMatch is the case-insensitive substring rule shared by the in-process
// backends.
func fuzzyMatch(candidate, name string) bool {
	return strings.Contains(strings.ToLower(candidate), strings.ToLower(name))
}
