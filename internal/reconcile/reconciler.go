package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/IshaanNene/KoraStalk/internal/storage"
	"github.com/IshaanNene/KoraStalk/internal/types"
)

// Reconciler merges observed match records into the store, keeping at most
// one row per home team, away team and calendar day.
type Reconciler struct {
	store    storage.Store
	resolver *Resolver
	loc      *time.Location
	workers  int
	now      func() time.Time
	locks    keyLocks
	logger   *slog.Logger
}

// Option configures the Reconciler.
type Option func(*Reconciler)

// WithWorkers reconciles batches on an ants pool of size n.
func WithWorkers(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLocation sets the zone the natural-key date is taken in.
func WithLocation(loc *time.Location) Option {
	return func(r *Reconciler) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithClock overrides the clock used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler creates a Reconciler over store.
func NewReconciler(store storage.Store, resolver *Resolver, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		resolver: resolver,
		loc:      time.UTC,
		workers:  1,
		now:      time.Now,
		locks:    keyLocks{m: make(map[string]*keyLock)},
		logger:   logger.With("component", "reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile upserts one record. Any failure is logged and reported as
// skipped.
func (r *Reconciler) Reconcile(ctx context.Context, rec *types.MatchRecord) types.Outcome {
	outcome, err := r.reconcile(ctx, rec)
	if err != nil {
		r.logger.Warn("record skipped",
			"home", rec.HomeTeam,
			"away", rec.AwayTeam,
			"error", err,
		)
		return types.OutcomeSkipped
	}
	r.logger.Debug("record reconciled", "home", rec.HomeTeam, "away", rec.AwayTeam, "outcome", outcome)
	return outcome
}

func (r *Reconciler) reconcile(ctx context.Context, rec *types.MatchRecord) (types.Outcome, error) {
	leagueID, _, err := r.resolver.ResolveLeague(ctx, rec.League)
	if err != nil {
		return types.OutcomeSkipped, err
	}
	homeID, err := r.resolver.ResolveTeam(ctx, rec.HomeTeam, rec.HomeLogo, leagueID)
	if err != nil {
		return types.OutcomeSkipped, err
	}
	awayID, err := r.resolver.ResolveTeam(ctx, rec.AwayTeam, rec.AwayLogo, leagueID)
	if err != nil {
		return types.OutcomeSkipped, err
	}
	if homeID == "" || awayID == "" {
		return types.OutcomeSkipped, fmt.Errorf("empty team id: %w", types.ErrMissingTeams)
	}

	day := types.DayOf(rec.StartTime, r.loc)
	unlock := r.locks.lock(homeID + "|" + awayID + "|" + day.Format("2006-01-02"))
	defer unlock()

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return types.OutcomeSkipped, err
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Warn("rollback failed", "error", rbErr)
			}
		}
	}()

	now := r.now()
	outcome := types.OutcomeInserted
	matchID, found, err := tx.FindMatchByTeamsAndDate(ctx, homeID, awayID, day)
	if err != nil {
		return types.OutcomeSkipped, err
	}
	if found {
		outcome = types.OutcomeUpdated
		err = tx.UpdateMatch(ctx, matchID, storage.MatchUpdate{
			Status:    rec.Status,
			HomeScore: rec.HomeScore,
			AwayScore: rec.AwayScore,
			Minute:    rec.Minute,
			UpdatedAt: now,
		})
	} else {
		_, err = tx.InsertMatch(ctx, &storage.MatchRow{
			LeagueID:   leagueID,
			HomeTeamID: homeID,
			AwayTeamID: awayID,
			StartTime:  rec.StartTime,
			Status:     rec.Status,
			HomeScore:  rec.HomeScore,
			AwayScore:  rec.AwayScore,
			Minute:     rec.Minute,
			Channel:    rec.Channel,
			Round:      rec.Round,
			UpdatedAt:  now,
		})
	}
	if err != nil {
		return types.OutcomeSkipped, err
	}

	if err := tx.Commit(); err != nil {
		return types.OutcomeSkipped, err
	}
	committed = true
	return outcome, nil
}

// ReconcileAll reconciles a batch. A record that fails or panics is counted
// as skipped and never affects the others.
func (r *Reconciler) ReconcileAll(ctx context.Context, recs []*types.MatchRecord) types.Counts {
	outcomes := make([]types.Outcome, len(recs))

	if r.workers <= 1 || len(recs) <= 1 {
		for i, rec := range recs {
			outcomes[i] = r.safeReconcile(ctx, i, rec)
		}
		return tally(outcomes)
	}

	pool, err := ants.NewPool(r.workers)
	if err != nil {
		r.logger.Warn("worker pool unavailable, reconciling serially", "error", err)
		for i, rec := range recs {
			outcomes[i] = r.safeReconcile(ctx, i, rec)
		}
		return tally(outcomes)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, rec := range recs {
		i, rec := i, rec
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			outcomes[i] = r.safeReconcile(ctx, i, rec)
		}); err != nil {
			wg.Done()
			outcomes[i] = r.safeReconcile(ctx, i, rec)
		}
	}
	wg.Wait()
	return tally(outcomes)
}

func (r *Reconciler) safeReconcile(ctx context.Context, index int, rec *types.MatchRecord) (outcome types.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("reconcile panicked, record skipped", "index", index, "panic", fmt.Sprint(p))
			outcome = types.OutcomeSkipped
		}
	}()

	if err := ctx.Err(); err != nil {
		return types.OutcomeSkipped
	}
	return r.Reconcile(ctx, rec)
}

func tally(outcomes []types.Outcome) types.Counts {
	var c types.Counts
	for _, o := range outcomes {
		c.Add(o)
	}
	return c
}

// keyLocks serializes find-or-create per natural key within one process.
// No store has a unique index on the key, so a second writer is not covered.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &keyLock{}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
