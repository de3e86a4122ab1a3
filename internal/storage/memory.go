package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

var errTxDone = errors.New("transaction already finished")

type memMatch struct {
	id        string
	row       MatchRow
	createdAt time.Time
}

// MemoryStore keeps every table in process. It backs dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	leagues []League
	teams   []Team
	matches []memMatch
	events  []MatchEvent
	closed  bool
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) fail(op string, err error) error {
	return &types.PersistenceError{Backend: s.Name(), Op: op, Err: err}
}

func (s *MemoryStore) checkOpen(op string) error {
	if s.closed {
		return s.fail(op, types.ErrStoreClosed)
	}
	return nil
}

// Counts returns the number of leagues, teams and matches stored.
func (s *MemoryStore) Counts() (leagues, teams, matches int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leagues), len(s.teams), len(s.matches)
}

func (s *MemoryStore) FindEntityByExactName(_ context.Context, kind EntityKind, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("find_entity_exact"); err != nil {
		return "", false, err
	}
	id, ok := s.findEntity(kind, func(n string) bool { return n == name })
	return id, ok, nil
}

func (s *MemoryStore) FindEntityByFuzzyName(_ context.Context, kind EntityKind, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("find_entity_fuzzy"); err != nil {
		return "", false, err
	}
	id, ok := s.findEntity(kind, func(n string) bool { return fuzzyMatch(n, name) })
	return id, ok, nil
}

// findEntity scans in creation order; callers hold the lock.
func (s *MemoryStore) findEntity(kind EntityKind, match func(string) bool) (string, bool) {
	if kind == KindLeague {
		for _, l := range s.leagues {
			if match(l.Name) {
				return l.ID, true
			}
		}
		return "", false
	}
	for _, t := range s.teams {
		if match(t.Name) {
			return t.ID, true
		}
	}
	return "", false
}

func (s *MemoryStore) CreateEntity(_ context.Context, kind EntityKind, fields EntityFields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("create_entity"); err != nil {
		return "", err
	}
	return s.createEntity(uuid.NewString(), kind, fields), nil
}

func (s *MemoryStore) createEntity(id string, kind EntityKind, fields EntityFields) string {
	now := s.now()
	if kind == KindLeague {
		s.leagues = append(s.leagues, League{
			ID:        id,
			Name:      fields.Name,
			LogoURL:   fields.LogoURL,
			Country:   DefaultCountry,
			Season:    DefaultSeason,
			IsActive:  true,
			CreatedAt: now,
		})
		return id
	}
	s.teams = append(s.teams, Team{
		ID:        id,
		LeagueID:  fields.LeagueID,
		Name:      fields.Name,
		LogoURL:   fields.LogoURL,
		CreatedAt: now,
	})
	return id
}

func (s *MemoryStore) FindMatchByTeamsAndDate(_ context.Context, homeID, awayID string, day time.Time) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("find_match"); err != nil {
		return "", false, err
	}
	id, ok := s.findMatch(homeID, awayID, day)
	return id, ok, nil
}

func (s *MemoryStore) findMatch(homeID, awayID string, day time.Time) (string, bool) {
	end := day.Add(24 * time.Hour)
	for _, m := range s.matches {
		if m.row.HomeTeamID != homeID || m.row.AwayTeamID != awayID {
			continue
		}
		if !m.row.StartTime.Before(day) && m.row.StartTime.Before(end) {
			return m.id, true
		}
	}
	return "", false
}

func (s *MemoryStore) InsertMatch(_ context.Context, m *MatchRow) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("insert_match"); err != nil {
		return "", err
	}
	return s.insertMatch(uuid.NewString(), *m), nil
}

func (s *MemoryStore) insertMatch(id string, row MatchRow) string {
	s.matches = append(s.matches, memMatch{id: id, row: row, createdAt: s.now()})
	return id
}

func (s *MemoryStore) UpdateMatch(_ context.Context, id string, u MatchUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("update_match"); err != nil {
		return err
	}
	return s.updateMatch(id, u)
}

func (s *MemoryStore) updateMatch(id string, u MatchUpdate) error {
	for i := range s.matches {
		if s.matches[i].id == id {
			row := &s.matches[i].row
			row.Status, row.HomeScore, row.AwayScore, row.Minute = u.Status, u.HomeScore, u.AwayScore, u.Minute
			row.UpdatedAt = u.UpdatedAt
			return nil
		}
	}
	return s.fail("update_match", fmt.Errorf("match %s: %w", id, types.ErrNotFound))
}

// Begin starts a transaction whose writes are staged until Commit.
func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("begin"); err != nil {
		return nil, err
	}
	return &memTx{store: s}, nil
}

// --- Transaction ---

type stagedEntity struct {
	kind   EntityKind
	fields EntityFields
	id     string
}

type stagedUpdate struct {
	id string
	u  MatchUpdate
}

type memTx struct {
	store    *MemoryStore
	mu       sync.Mutex
	done     bool
	entities []stagedEntity
	inserts  []memMatch
	updates  []stagedUpdate
}

func (tx *memTx) check(op string) error {
	if tx.done {
		return tx.store.fail(op, errTxDone)
	}
	return nil
}

func (tx *memTx) FindEntityByExactName(ctx context.Context, kind EntityKind, name string) (string, bool, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check("find_entity_exact"); err != nil {
		return "", false, err
	}
	for _, e := range tx.entities {
		if e.kind == kind && e.fields.Name == name {
			return e.id, true, nil
		}
	}
	return tx.store.FindEntityByExactName(ctx, kind, name)
}

func (tx *memTx) FindEntityByFuzzyName(ctx context.Context, kind EntityKind, name string) (string, bool, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check("find_entity_fuzzy"); err != nil {
		return "", false, err
	}
	if id, found, err := tx.store.FindEntityByFuzzyName(ctx, kind, name); err != nil || found {
		return id, found, err
	}
	for _, e := range tx.entities {
		if e.kind == kind && fuzzyMatch(e.fields.Name, name) {
			return e.id, true, nil
		}
	}
	return "", false, nil
}

func (tx *memTx) CreateEntity(_ context.Context, kind EntityKind, fields EntityFields) (string, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check("create_entity"); err != nil {
		return "", err
	}
	id := uuid.NewString()
	tx.entities = append(tx.entities, stagedEntity{kind: kind, fields: fields, id: id})
	return id, nil
}

func (tx *memTx) FindMatchByTeamsAndDate(ctx context.Context, homeID, awayID string, day time.Time) (string, bool, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check("find_match"); err != nil {
		return "", false, err
	}
	end := day.Add(24 * time.Hour)
	for _, m := range tx.inserts {
		if m.row.HomeTeamID == homeID && m.row.AwayTeamID == awayID &&
			!m.row.StartTime.Before(day) && m.row.StartTime.Before(end) {
			return m.id, true, nil
		}
	}
	return tx.store.FindMatchByTeamsAndDate(ctx, homeID, awayID, day)
}

func (tx *memTx) InsertMatch(_ context.Context, m *MatchRow) (string, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check("insert_match"); err != nil {
		return "", err
	}
	id := uuid.NewString()
	tx.inserts = append(tx.inserts, memMatch{id: id, row: *m})
	return id, nil
}

func (tx *memTx) UpdateMatch(_ context.Context, id string, u MatchUpdate) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check("update_match"); err != nil {
		return err
	}
	tx.updates = append(tx.updates, stagedUpdate{id: id, u: u})
	return nil
}

// Commit applies staged writes in order: entities, inserts, then updates.
// An update of an unknown match fails the commit without applying anything.
func (tx *memTx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check("commit"); err != nil {
		return err
	}
	tx.done = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("commit"); err != nil {
		return err
	}

	known := make(map[string]bool, len(tx.inserts))
	for _, m := range tx.inserts {
		known[m.id] = true
	}
	for _, up := range tx.updates {
		if known[up.id] {
			continue
		}
		found := false
		for _, m := range s.matches {
			if m.id == up.id {
				found = true
				break
			}
		}
		if !found {
			return s.fail("commit", fmt.Errorf("match %s: %w", up.id, types.ErrNotFound))
		}
	}

	for _, e := range tx.entities {
		s.createEntity(e.id, e.kind, e.fields)
	}
	for _, m := range tx.inserts {
		s.insertMatch(m.id, m.row)
	}
	for _, up := range tx.updates {
		if err := s.updateMatch(up.id, up.u); err != nil {
			return err
		}
	}
	return nil
}

func (tx *memTx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil
	}
	tx.done = true
	tx.entities, tx.inserts, tx.updates = nil, nil, nil
	return nil
}

// --- Catalog ---

func (s *MemoryStore) view(m memMatch) Match {
	out := Match{
		ID:            m.id,
		LeagueID:      m.row.LeagueID,
		HomeTeamID:    m.row.HomeTeamID,
		AwayTeamID:    m.row.AwayTeamID,
		StartTime:     m.row.StartTime,
		Status:        m.row.Status,
		HomeScore:     m.row.HomeScore,
		AwayScore:     m.row.AwayScore,
		Minute:        m.row.Minute,
		Channel:       m.row.Channel,
		Round:         m.row.Round,
		HomeFormation: DefaultFormation,
		AwayFormation: DefaultFormation,
		CreatedAt:     m.createdAt,
		UpdatedAt:     m.row.UpdatedAt,
	}
	for _, t := range s.teams {
		switch t.ID {
		case m.row.HomeTeamID:
			out.HomeTeamName, out.HomeTeamLogo = t.Name, t.LogoURL
		case m.row.AwayTeamID:
			out.AwayTeamName, out.AwayTeamLogo = t.Name, t.LogoURL
		}
	}
	for _, l := range s.leagues {
		if l.ID == m.row.LeagueID {
			out.LeagueName = l.Name
			break
		}
	}
	return out
}

func (s *MemoryStore) MatchesBetween(_ context.Context, from, to time.Time) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("matches_between"); err != nil {
		return nil, err
	}
	var out []Match
	for _, m := range s.matches {
		if !m.row.StartTime.Before(from) && m.row.StartTime.Before(to) {
			out = append(out, s.view(m))
		}
	}
	SortLiveFirst(out)
	return out, nil
}

func (s *MemoryStore) MatchByID(_ context.Context, id string) (Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("match_by_id"); err != nil {
		return Match{}, err
	}
	for _, m := range s.matches {
		if m.id == id {
			return s.view(m), nil
		}
	}
	return Match{}, s.fail("match_by_id", fmt.Errorf("match %s: %w", id, types.ErrNotFound))
}

func (s *MemoryStore) EventsByMatch(_ context.Context, matchID string) ([]MatchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("events_by_match"); err != nil {
		return nil, err
	}
	var out []MatchEvent
	for _, e := range s.events {
		if e.MatchID == matchID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Minute < out[j].Minute })
	return out, nil
}

func (s *MemoryStore) LeagueByID(_ context.Context, id string) (League, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("league_by_id"); err != nil {
		return League{}, err
	}
	for _, l := range s.leagues {
		if l.ID == id {
			return l, nil
		}
	}
	return League{}, s.fail("league_by_id", fmt.Errorf("league %s: %w", id, types.ErrNotFound))
}

func (s *MemoryStore) RecentMatchesByLeague(_ context.Context, leagueID string, limit int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("recent_matches"); err != nil {
		return nil, err
	}
	var out []Match
	for _, m := range s.matches {
		if m.row.LeagueID == leagueID {
			out = append(out, s.view(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ApplyLiveUpdate(_ context.Context, matchID string, u LiveUpdate, event *MatchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("live_update"); err != nil {
		return err
	}
	for i := range s.matches {
		if s.matches[i].id != matchID {
			continue
		}
		row := &s.matches[i].row
		if u.HomeScore != nil {
			row.HomeScore = *u.HomeScore
		}
		if u.AwayScore != nil {
			row.AwayScore = *u.AwayScore
		}
		if u.Minute != nil {
			row.Minute = *u.Minute
		}
		if u.Status != nil {
			row.Status = *u.Status
		}
		row.UpdatedAt = u.UpdatedAt

		if event != nil {
			e := *event
			e.ID = uuid.NewString()
			e.MatchID = matchID
			e.CreatedAt = s.now()
			s.events = append(s.events, e)
		}
		return nil
	}
	return s.fail("live_update", fmt.Errorf("match %s: %w", matchID, types.ErrNotFound))
}
