package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/IshaanNene/KoraStalk/internal/storage"
	"github.com/IshaanNene/KoraStalk/internal/types"
)

// NormalizeName trims a display name and collapses inner whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// CacheStats is a snapshot of the cache counters.
type CacheStats struct {
	LeagueHits   int64 `json:"league_hits"`
	LeagueMisses int64 `json:"league_misses"`
	TeamHits     int64 `json:"team_hits"`
	TeamMisses   int64 `json:"team_misses"`
	Leagues      int   `json:"leagues"`
	Teams        int   `json:"teams"`
}

// Cache maps normalized names to committed entity ids, one namespace per
// kind. It only speeds up resolution; an empty cache resolves the same ids.
type Cache struct {
	mu      sync.RWMutex
	leagues map[string]string
	teams   map[string]string

	leagueHits, leagueMisses atomic.Int64
	teamHits, teamMisses     atomic.Int64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		leagues: make(map[string]string),
		teams:   make(map[string]string),
	}
}

func (c *Cache) namespace(kind storage.EntityKind) map[string]string {
	if kind == storage.KindLeague {
		return c.leagues
	}
	return c.teams
}

// Get looks up a name and counts the hit or miss.
func (c *Cache) Get(kind storage.EntityKind, name string) (string, bool) {
	id, ok := c.peek(kind, name)
	switch {
	case kind == storage.KindLeague && ok:
		c.leagueHits.Add(1)
	case kind == storage.KindLeague:
		c.leagueMisses.Add(1)
	case ok:
		c.teamHits.Add(1)
	default:
		c.teamMisses.Add(1)
	}
	return id, ok
}

func (c *Cache) peek(kind storage.EntityKind, name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.namespace(kind)[name]
	return id, ok
}

// Put stores a committed id.
func (c *Cache) Put(kind storage.EntityKind, name, id string) {
	c.mu.Lock()
	c.namespace(kind)[name] = id
	c.mu.Unlock()
}

// Reset drops every entry. Counters are kept.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.leagues = make(map[string]string)
	c.teams = make(map[string]string)
	c.mu.Unlock()
}

// Stats returns the current counters and sizes.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	leagues, teams := len(c.leagues), len(c.teams)
	c.mu.RUnlock()
	return CacheStats{
		LeagueHits:   c.leagueHits.Load(),
		LeagueMisses: c.leagueMisses.Load(),
		TeamHits:     c.teamHits.Load(),
		TeamMisses:   c.teamMisses.Load(),
		Leagues:      leagues,
		Teams:        teams,
	}
}

// Resolver maps free-text league and team names to stable entity ids:
// cache, then exact lookup, then fuzzy lookup, then create.
type Resolver struct {
	store  storage.Gateway
	cache  *Cache
	group  singleflight.Group
	logger *slog.Logger
}

// NewResolver creates a Resolver. Entity writes go straight to store and
// commit on their own, so cached ids never point at rolled-back rows.
func NewResolver(store storage.Gateway, cache *Cache, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	return &Resolver{
		store:  store,
		cache:  cache,
		logger: logger.With("component", "resolver"),
	}
}

// Cache returns the resolver's cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// ResolveLeague returns the league id for name. An empty name is absent and
// creates nothing.
func (r *Resolver) ResolveLeague(ctx context.Context, name string) (string, bool, error) {
	name = NormalizeName(name)
	if name == "" {
		return "", false, nil
	}
	id, err := r.resolve(ctx, storage.KindLeague, name, storage.EntityFields{Name: name})
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// ResolveTeam returns the team id for name, creating the team under leagueID
// with logo when it does not exist yet.
func (r *Resolver) ResolveTeam(ctx context.Context, name, logo, leagueID string) (string, error) {
	name = NormalizeName(name)
	if name == "" {
		return "", fmt.Errorf("resolve team: %w", types.ErrMissingTeams)
	}
	return r.resolve(ctx, storage.KindTeam, name, storage.EntityFields{
		Name:     name,
		LogoURL:  strings.TrimSpace(logo),
		LeagueID: leagueID,
	})
}

func (r *Resolver) resolve(ctx context.Context, kind storage.EntityKind, name string, fields storage.EntityFields) (string, error) {
	if id, ok := r.cache.Get(kind, name); ok {
		return id, nil
	}

	v, err, shared := r.group.Do(string(kind)+"\x00"+name, func() (any, error) {
		if id, ok := r.cache.peek(kind, name); ok {
			return id, nil
		}
		id, err := r.lookupOrCreate(ctx, kind, name, fields)
		if err != nil {
			return "", err
		}
		r.cache.Put(kind, name, id)
		return id, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolve %s %q: %w", kind, name, err)
	}
	if shared {
		r.logger.Debug("resolution shared", "kind", kind, "name", name)
	}
	return v.(string), nil
}

func (r *Resolver) lookupOrCreate(ctx context.Context, kind storage.EntityKind, name string, fields storage.EntityFields) (string, error) {
	id, found, err := r.store.FindEntityByExactName(ctx, kind, name)
	if err != nil {
		return "", err
	}
	if found {
		return id, nil
	}

	id, found, err = r.store.FindEntityByFuzzyName(ctx, kind, name)
	if err != nil {
		return "", err
	}
	if found {
		r.logger.Debug("fuzzy match", "kind", kind, "name", name, "id", id)
		return id, nil
	}

	id, err = r.store.CreateEntity(ctx, kind, fields)
	if err != nil {
		return "", err
	}
	r.logger.Info("entity created", "kind", kind, "name", name, "id", id)
	return id, nil
}
