package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/IshaanNene/KoraStalk/internal/config"
	"github.com/IshaanNene/KoraStalk/internal/storage"
	"github.com/IshaanNene/KoraStalk/internal/types"
)

// RecentMatchesLimit is how many matches a league detail response carries.
const RecentMatchesLimit = 20

// Server exposes stored matches and accepts operator live updates.
type Server struct {
	mux     *http.ServeMux
	catalog storage.Catalog
	port    int
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
}

// NewServer creates a new API server over catalog. Dates are interpreted
// in loc.
func NewServer(catalog storage.Catalog, port int, loc *time.Location, logger *slog.Logger) *Server {
	if loc == nil {
		loc = time.UTC
	}
	s := &Server{
		mux:     http.NewServeMux(),
		catalog: catalog,
		port:    port,
		loc:     loc,
		now:     time.Now,
		logger:  logger.With("component", "api_server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/matches", s.handleMatchesByDay)
	s.mux.HandleFunc("GET /api/matches/{id}", s.handleMatchDetails)
	s.mux.HandleFunc("POST /api/matches/{id}/live", s.handleLiveUpdate)
	s.mux.HandleFunc("GET /api/leagues/{id}", s.handleLeagueDetails)
}

// Handler returns the routed handler with logging, CORS and panic recovery.
func (s *Server) Handler() http.Handler {
	return s.logRequests(cors(s.recoverPanic(s.mux)))
}

// Serve listens on the configured port until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("API server shutdown", "error", err)
		}
	}()

	s.logger.Info("API server starting", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": config.Version,
	})
}

func (s *Server) handleMatchesByDay(w http.ResponseWriter, r *http.Request) {
	day := types.DayOf(s.now(), s.loc)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, s.loc)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	matches, err := s.catalog.MatchesBetween(r.Context(), day, day.AddDate(0, 0, 1))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if matches == nil {
		matches = []storage.Match{}
	}
	storage.SortLiveFirst(matches)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"date":    day.Format("2006-01-02"),
		"matches": matches,
	})
}

func (s *Server) handleMatchDetails(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var (
		match  storage.Match
		events []storage.MatchEvent
	)
	p := pool.New().WithContext(r.Context()).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		m, err := s.catalog.MatchByID(ctx, id)
		match = m
		return err
	})
	p.Go(func(ctx context.Context) error {
		ev, err := s.catalog.EventsByMatch(ctx, id)
		events = ev
		return err
	})
	if err := p.Wait(); err != nil {
		s.storeError(w, r, err)
		return
	}
	if events == nil {
		events = []storage.MatchEvent{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"match":  match,
		"events": events,
	})
}

func (s *Server) handleLeagueDetails(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var (
		league  storage.League
		matches []storage.Match
	)
	p := pool.New().WithContext(r.Context()).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		l, err := s.catalog.LeagueByID(ctx, id)
		league = l
		return err
	})
	p.Go(func(ctx context.Context) error {
		m, err := s.catalog.RecentMatchesByLeague(ctx, id, RecentMatchesLimit)
		matches = m
		return err
	})
	if err := p.Wait(); err != nil {
		s.storeError(w, r, err)
		return
	}
	if matches == nil {
		matches = []storage.Match{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"league":  league,
		"matches": matches,
	})
}

type liveEvent struct {
	Minute      int    `json:"minute"`
	EventType   string `json:"event_type"`
	PlayerName  string `json:"player_name"`
	TeamID      string `json:"team_id"`
	Description string `json:"description"`
}

type liveUpdateRequest struct {
	HomeScore *int       `json:"home_score"`
	AwayScore *int       `json:"away_score"`
	Minute    *int       `json:"minute"`
	Status    *string    `json:"status"`
	Event     *liveEvent `json:"event"`
}

func (req *liveUpdateRequest) validate() (storage.LiveUpdate, error) {
	var u storage.LiveUpdate
	for _, v := range []*int{req.HomeScore, req.AwayScore, req.Minute} {
		if v != nil && *v < 0 {
			return u, errors.New("scores and minute must not be negative")
		}
	}
	u.HomeScore, u.AwayScore, u.Minute = req.HomeScore, req.AwayScore, req.Minute
	if req.Status != nil {
		st, ok := types.ParseStatus(*req.Status)
		if !ok {
			return u, fmt.Errorf("%w: %q", types.ErrInvalidStatus, *req.Status)
		}
		u.Status = &st
	}
	if req.Event != nil && req.Event.EventType == "" {
		return u, errors.New("event.event_type is required")
	}
	return u, nil
}

func (s *Server) handleLiveUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body liveUpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			s.errorResponse(w, http.StatusBadRequest, "request body is required")
			return
		}
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	update, err := body.validate()
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	update.UpdatedAt = s.now()

	var event *storage.MatchEvent
	if body.Event != nil {
		event = &storage.MatchEvent{
			MatchID:     id,
			Minute:      body.Event.Minute,
			EventType:   body.Event.EventType,
			PlayerName:  body.Event.PlayerName,
			TeamID:      body.Event.TeamID,
			Description: body.Event.Description,
		}
	}

	if err := s.catalog.ApplyLiveUpdate(r.Context(), id, update, event); err != nil {
		s.storeError(w, r, err)
		return
	}
	s.logger.Info("live update applied", "match_id", id, "event", event != nil)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Match updated",
	})
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, types.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.ErrorContext(r.Context(), "store request failed", "path", r.URL.Path, "error", err)
	s.errorResponse(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, msg string) {
	s.jsonResponse(w, status, map[string]string{"error": msg})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}
