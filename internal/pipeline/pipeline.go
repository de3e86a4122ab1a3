package pipeline

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

// Middleware processes a record and returns the (possibly modified) record.
// Return nil to drop the record from the pipeline.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms a record. Return nil to drop it.
	Process(rec *types.MatchRecord) (*types.MatchRecord, error)
}

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Default returns the pipeline every cycle runs: sanitize, trim, required and
// distinct teams, clock consistency, logo resolution and in-cycle dedup.
func Default(logger *slog.Logger, baseURL string, loc *time.Location) *Pipeline {
	p := New(logger)
	p.Use(NewSanitizeMiddleware())
	p.Use(&TrimMiddleware{})
	p.Use(&RequiredTeamsMiddleware{})
	p.Use(&DistinctTeamsMiddleware{})
	p.Use(&ClockMiddleware{})
	if baseURL != "" {
		if mw, err := NewLogoResolveMiddleware(baseURL); err == nil {
			p.Use(mw)
		} else {
			p.logger.Warn("logo resolution disabled", "error", err)
		}
	}
	p.Use(NewDedupMiddleware(loc))
	return p
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the record through all middleware in order.
func (p *Pipeline) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	current := rec

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage:  mw.Name(),
				Record: current,
				Err:    err,
			}
		}
		if result == nil {
			p.logger.Debug("record dropped", "stage", mw.Name(), "home", rec.HomeTeam, "away", rec.AwayTeam)
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// ProcessAll runs every record through the chain and returns the survivors
// in input order. Records that error are logged and dropped.
func (p *Pipeline) ProcessAll(recs []*types.MatchRecord) (out []*types.MatchRecord, dropped int) {
	p.reset()
	out = make([]*types.MatchRecord, 0, len(recs))
	for _, rec := range recs {
		result, err := p.Process(rec)
		if err != nil {
			p.logger.Warn("record rejected", "error", err)
		}
		if result == nil {
			dropped++
			continue
		}
		out = append(out, result)
	}
	return out, dropped
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

type resetter interface {
	Reset()
}

func (p *Pipeline) reset() {
	for _, mw := range p.middlewares {
		if r, ok := mw.(resetter); ok {
			r.Reset()
		}
	}
}

// --- Built-in Middleware ---

// TrimMiddleware trims whitespace from all string fields.
type TrimMiddleware struct{}

func (m *TrimMiddleware) Name() string { return "trim" }

func (m *TrimMiddleware) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	for _, f := range stringFields(rec) {
		*f = strings.TrimSpace(*f)
	}
	return rec, nil
}

// RequiredTeamsMiddleware drops records missing either team name.
type RequiredTeamsMiddleware struct{}

func (m *RequiredTeamsMiddleware) Name() string { return "required_teams" }

func (m *RequiredTeamsMiddleware) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	if rec.HomeTeam == "" || rec.AwayTeam == "" {
		return nil, nil
	}
	return rec, nil
}

// DistinctTeamsMiddleware drops records pairing a team with itself. Those come
// from candidate nodes too small to hold a match, such as a bare status cell.
type DistinctTeamsMiddleware struct{}

func (m *DistinctTeamsMiddleware) Name() string { return "distinct_teams" }

func (m *DistinctTeamsMiddleware) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	if rec.HomeTeam == rec.AwayTeam {
		return nil, nil
	}
	return rec, nil
}

// DedupMiddleware drops records whose natural key was already seen in the
// current cycle. The first occurrence wins.
type DedupMiddleware struct {
	mu   sync.Mutex
	seen map[string]struct{}
	loc  *time.Location
}

func NewDedupMiddleware(loc *time.Location) *DedupMiddleware {
	return &DedupMiddleware{
		seen: make(map[string]struct{}),
		loc:  loc,
	}
}

func (m *DedupMiddleware) Name() string { return "dedup" }

func (m *DedupMiddleware) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	key := rec.NaturalKey(m.loc)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.seen[key]; exists {
		return nil, nil
	}
	m.seen[key] = struct{}{}
	return rec, nil
}

// Reset forgets every key seen so far.
func (m *DedupMiddleware) Reset() {
	m.mu.Lock()
	m.seen = make(map[string]struct{})
	m.mu.Unlock()
}

func stringFields(rec *types.MatchRecord) []*string {
	return []*string{
		&rec.HomeTeam, &rec.HomeLogo, &rec.AwayTeam, &rec.AwayLogo,
		&rec.League, &rec.Channel, &rec.Round,
	}
}
