package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

const postgresBackend = "postgres"

// PostgresOptions tunes the connection pool.
type PostgresOptions struct {
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
}

type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// pgGateway runs the Gateway queries against either the pool or a tx.
type pgGateway struct {
	q       queryer
	timeout time.Duration
}

// PostgresStore persists to PostgreSQL through sqlx.
type PostgresStore struct {
	pgGateway
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore connects and pings the database.
func NewPostgresStore(ctx context.Context, dsn string, opts PostgresOptions, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, &types.PersistenceError{Backend: postgresBackend, Op: "connect", Err: crerr.Wrap(err, "connect postgres")}
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresStore{
		pgGateway: pgGateway{q: db, timeout: opts.QueryTimeout},
		db:        db,
		logger:    logger.With("component", "postgres_store"),
	}, nil
}

func (s *PostgresStore) Name() string { return postgresBackend }

func (s *PostgresStore) Close() error {
	s.logger.Info("postgres store closing")
	return s.db.Close()
}

// Begin opens a database transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fail("begin", crerr.Wrap(err, "begin tx"))
	}
	return &pgTx{pgGateway: pgGateway{q: tx, timeout: s.timeout}, tx: tx}, nil
}

type pgTx struct {
	pgGateway
	tx *sqlx.Tx
}

func (t *pgTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fail("commit", crerr.Wrap(err, "commit tx"))
	}
	return nil
}

func (t *pgTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !crerr.Is(err, sql.ErrTxDone) {
		return fail("rollback", crerr.Wrap(err, "rollback tx"))
	}
	return nil
}

func fail(op string, err error) error {
	return &types.PersistenceError{Backend: postgresBackend, Op: op, Err: err}
}

func (g pgGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

// getID runs a single-column id lookup; no row is not an error.
func (g pgGateway) getID(ctx context.Context, op, query string, args ...any) (string, bool, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	var id string
	if err := sqlx.GetContext(ctx, g.q, &id, query, args...); err != nil {
		if crerr.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fail(op, crerr.Wrapf(err, "query %s", op))
	}
	return id, true, nil
}

func (g pgGateway) FindEntityByExactName(ctx context.Context, kind EntityKind, name string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE name = $1 ORDER BY created_at LIMIT 1`, tableFor(kind))
	return g.getID(ctx, "find_entity_exact", query, name)
}

func (g pgGateway) FindEntityByFuzzyName(ctx context.Context, kind EntityKind, name string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE name ILIKE $1 ESCAPE '\' ORDER BY created_at LIMIT 1`, tableFor(kind))
	return g.getID(ctx, "find_entity_fuzzy", query, likePattern(name))
}

func (g pgGateway) CreateEntity(ctx context.Context, kind EntityKind, fields EntityFields) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	id := uuid.NewString()
	var err error
	if kind == KindLeague {
		_, err = g.q.ExecContext(ctx,
			`INSERT INTO leagues (id, name, logo_url, country, season, is_active) VALUES ($1, $2, $3, $4, $5, TRUE)`,
			id, fields.Name, fields.LogoURL, DefaultCountry, DefaultSeason)
	} else {
		_, err = g.q.ExecContext(ctx,
			`INSERT INTO teams (id, league_id, name, logo_url) VALUES ($1, $2, $3, $4)`,
			id, nullString(fields.LeagueID), fields.Name, fields.LogoURL)
	}
	if err != nil {
		return "", fail("create_entity", crerr.Wrapf(err, "insert %s %q", kind, fields.Name))
	}
	return id, nil
}

func (g pgGateway) FindMatchByTeamsAndDate(ctx context.Context, homeID, awayID string, day time.Time) (string, bool, error) {
	return g.getID(ctx, "find_match",
		`SELECT id FROM matches
		 WHERE home_team_id = $1 AND away_team_id = $2 AND start_time >= $3 AND start_time < $4
		 ORDER BY created_at LIMIT 1`,
		homeID, awayID, day, day.Add(24*time.Hour))
}

func (g pgGateway) InsertMatch(ctx context.Context, m *MatchRow) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	id := uuid.NewString()
	_, err := g.q.ExecContext(ctx,
		`INSERT INTO matches (id, league_id, home_team_id, away_team_id, start_time, status,
			home_score, away_score, minute, channel, round, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, nullString(m.LeagueID), m.HomeTeamID, m.AwayTeamID, m.StartTime, string(m.Status),
		m.HomeScore, m.AwayScore, m.Minute, m.Channel, m.Round, m.UpdatedAt)
	if err != nil {
		return "", fail("insert_match", crerr.Wrapf(err, "insert match %s vs %s", m.HomeTeamID, m.AwayTeamID))
	}
	return id, nil
}

func (g pgGateway) UpdateMatch(ctx context.Context, id string, u MatchUpdate) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	res, err := g.q.ExecContext(ctx,
		`UPDATE matches SET status = $1, home_score = $2, away_score = $3, minute = $4, updated_at = $5 WHERE id = $6`,
		string(u.Status), u.HomeScore, u.AwayScore, u.Minute, u.UpdatedAt, id)
	if err != nil {
		return fail("update_match", crerr.Wrapf(err, "update match %s", id))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fail("update_match", fmt.Errorf("match %s: %w", id, types.ErrNotFound))
	}
	return nil
}

// --- Catalog ---

const matchSelect = `SELECT m.id, m.league_id, l.name AS league_name,
	m.home_team_id, ht.name AS home_team_name, ht.logo_url AS home_team_logo,
	m.away_team_id, awt.name AS away_team_name, awt.logo_url AS away_team_logo,
	m.start_time, m.status, m.home_score, m.away_score, m.minute,
	m.venue, m.referee, m.channel, m.commentator, m.round,
	m.home_formation, m.away_formation, m.created_at, m.updated_at
FROM matches m
JOIN teams ht ON ht.id = m.home_team_id
JOIN teams awt ON awt.id = m.away_team_id
LEFT JOIN leagues l ON l.id = m.league_id`

type matchModel struct {
	ID            string         `db:"id"`
	LeagueID      sql.NullString `db:"league_id"`
	LeagueName    sql.NullString `db:"league_name"`
	HomeTeamID    string         `db:"home_team_id"`
	HomeTeamName  string         `db:"home_team_name"`
	HomeTeamLogo  string         `db:"home_team_logo"`
	AwayTeamID    string         `db:"away_team_id"`
	AwayTeamName  string         `db:"away_team_name"`
	AwayTeamLogo  string         `db:"away_team_logo"`
	StartTime     time.Time      `db:"start_time"`
	Status        string         `db:"status"`
	HomeScore     int            `db:"home_score"`
	AwayScore     int            `db:"away_score"`
	Minute        int            `db:"minute"`
	Venue         string         `db:"venue"`
	Referee       string         `db:"referee"`
	Channel       string         `db:"channel"`
	Commentator   string         `db:"commentator"`
	Round         string         `db:"round"`
	HomeFormation string         `db:"home_formation"`
	AwayFormation string         `db:"away_formation"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (m matchModel) toMatch() Match {
	return Match{
		ID:            m.ID,
		LeagueID:      m.LeagueID.String,
		LeagueName:    m.LeagueName.String,
		HomeTeamID:    m.HomeTeamID,
		HomeTeamName:  m.HomeTeamName,
		HomeTeamLogo:  m.HomeTeamLogo,
		AwayTeamID:    m.AwayTeamID,
		AwayTeamName:  m.AwayTeamName,
		AwayTeamLogo:  m.AwayTeamLogo,
		StartTime:     m.StartTime,
		Status:        types.Status(m.Status),
		HomeScore:     m.HomeScore,
		AwayScore:     m.AwayScore,
		Minute:        m.Minute,
		Venue:         m.Venue,
		Referee:       m.Referee,
		Channel:       m.Channel,
		Commentator:   m.Commentator,
		Round:         m.Round,
		HomeFormation: m.HomeFormation,
		AwayFormation: m.AwayFormation,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

type eventModel struct {
	ID          string         `db:"id"`
	MatchID     string         `db:"match_id"`
	Minute      int            `db:"minute"`
	EventType   string         `db:"event_type"`
	PlayerName  string         `db:"player_name"`
	TeamID      sql.NullString `db:"team_id"`
	Description string         `db:"description"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (s *PostgresStore) selectMatches(ctx context.Context, op, query string, args ...any) ([]Match, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []matchModel
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fail(op, crerr.Wrapf(err, "select %s", op))
	}
	out := make([]Match, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toMatch())
	}
	return out, nil
}

func (s *PostgresStore) MatchesBetween(ctx context.Context, from, to time.Time) ([]Match, error) {
	return s.selectMatches(ctx, "matches_between",
		matchSelect+` WHERE m.start_time >= $1 AND m.start_time < $2
		ORDER BY (m.status = 'live') DESC, m.start_time`, from, to)
}

func (s *PostgresStore) MatchByID(ctx context.Context, id string) (Match, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Match{}, fail("match_by_id", fmt.Errorf("match %s: %w", id, types.ErrNotFound))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row matchModel
	if err := s.db.GetContext(ctx, &row, matchSelect+` WHERE m.id = $1`, id); err != nil {
		if crerr.Is(err, sql.ErrNoRows) {
			return Match{}, fail("match_by_id", fmt.Errorf("match %s: %w", id, types.ErrNotFound))
		}
		return Match{}, fail("match_by_id", crerr.Wrapf(err, "select match %s", id))
	}
	return row.toMatch(), nil
}

func (s *PostgresStore) EventsByMatch(ctx context.Context, matchID string) ([]MatchEvent, error) {
	if _, err := uuid.Parse(matchID); err != nil {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []eventModel
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, match_id, minute, event_type, player_name, team_id, description, created_at
		 FROM match_events WHERE match_id = $1 ORDER BY minute, created_at`, matchID); err != nil {
		return nil, fail("events_by_match", crerr.Wrapf(err, "select events of match %s", matchID))
	}
	out := make([]MatchEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, MatchEvent{
			ID:          row.ID,
			MatchID:     row.MatchID,
			Minute:      row.Minute,
			EventType:   row.EventType,
			PlayerName:  row.PlayerName,
			TeamID:      row.TeamID.String,
			Description: row.Description,
			CreatedAt:   row.CreatedAt,
		})
	}
	return out, nil
}

func (s *PostgresStore) LeagueByID(ctx context.Context, id string) (League, error) {
	if _, err := uuid.Parse(id); err != nil {
		return League{}, fail("league_by_id", fmt.Errorf("league %s: %w", id, types.ErrNotFound))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var l League
	if err := s.db.GetContext(ctx, &l,
		`SELECT id, name, logo_url, country, season, is_active, created_at FROM leagues WHERE id = $1`, id); err != nil {
		if crerr.Is(err, sql.ErrNoRows) {
			return League{}, fail("league_by_id", fmt.Errorf("league %s: %w", id, types.ErrNotFound))
		}
		return League{}, fail("league_by_id", crerr.Wrapf(err, "select league %s", id))
	}
	return l, nil
}

func (s *PostgresStore) RecentMatchesByLeague(ctx context.Context, leagueID string, limit int) ([]Match, error) {
	return s.selectMatches(ctx, "recent_matches",
		matchSelect+` WHERE m.league_id = $1 ORDER BY m.start_time DESC LIMIT $2`, leagueID, limit)
}

// ApplyLiveUpdate writes the provided columns and the optional event in one
// transaction.
func (s *PostgresStore) ApplyLiveUpdate(ctx context.Context, matchID string, u LiveUpdate, event *MatchEvent) error {
	if _, err := uuid.Parse(matchID); err != nil {
		return fail("live_update", fmt.Errorf("match %s: %w", matchID, types.ErrNotFound))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fail("live_update", crerr.Wrap(err, "begin tx live update"))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.HomeScore != nil {
		set("home_score", *u.HomeScore)
	}
	if u.AwayScore != nil {
		set("away_score", *u.AwayScore)
	}
	if u.Minute != nil {
		set("minute", *u.Minute)
	}
	if u.Status != nil {
		set("status", string(*u.Status))
	}
	set("updated_at", u.UpdatedAt)
	args = append(args, matchID)

	query := fmt.Sprintf(`UPDATE matches SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fail("live_update", crerr.Wrapf(err, "update match %s", matchID))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fail("live_update", fmt.Errorf("match %s: %w", matchID, types.ErrNotFound))
	}

	if event != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO match_events (id, match_id, minute, event_type, player_name, team_id, description)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.NewString(), matchID, event.Minute, event.EventType, event.PlayerName,
			nullString(event.TeamID), event.Description); err != nil {
			return fail("live_update", crerr.Wrapf(err, "insert event for match %s", matchID))
		}
	}

	if err := tx.Commit(); err != nil {
		return fail("live_update", crerr.Wrap(err, "commit live update"))
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// likePattern escapes LIKE metacharacters and wraps name for a substring match.
func likePattern(name string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(name) + "%"
}
