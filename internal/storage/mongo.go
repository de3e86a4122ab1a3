package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

const mongoBackend = "mongodb"

type matchDoc struct {
	ID            string    `bson:"_id"`
	LeagueID      string    `bson:"league_id,omitempty"`
	HomeTeamID    string    `bson:"home_team_id"`
	AwayTeamID    string    `bson:"away_team_id"`
	StartTime     time.Time `bson:"start_time"`
	Status        string    `bson:"status"`
	HomeScore     int       `bson:"home_score"`
	AwayScore     int       `bson:"away_score"`
	Minute        int       `bson:"minute"`
	Venue         string    `bson:"venue"`
	Referee       string    `bson:"referee"`
	Channel       string    `bson:"channel"`
	Commentator   string    `bson:"commentator"`
	Round         string    `bson:"round"`
	HomeFormation string    `bson:"home_formation"`
	AwayFormation string    `bson:"away_formation"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

// MongoStore writes leagues, teams, matches and events to MongoDB
// collections of the same names.
type MongoStore struct {
	client  *mongo.Client
	leagues *mongo.Collection
	teams   *mongo.Collection
	matches *mongo.Collection
	events  *mongo.Collection
	logger  *slog.Logger
}

// NewMongoStore connects, pings and ensures the lookup indexes exist.
func NewMongoStore(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, mongoFail("connect", fmt.Errorf("mongodb connect: %w", err))
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, mongoFail("connect", fmt.Errorf("mongodb ping: %w", err))
	}

	db := client.Database(database)
	s := &MongoStore{
		client:  client,
		leagues: db.Collection("leagues"),
		teams:   db.Collection("teams"),
		matches: db.Collection("matches"),
		events:  db.Collection("match_events"),
		logger:  logger.With("component", "mongo_store"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	byName := []mongo.IndexModel{{Keys: bson.D{{Key: "name", Value: 1}}}}
	if _, err := s.leagues.Indexes().CreateMany(ctx, byName); err != nil {
		return mongoFail("ensure_indexes", fmt.Errorf("leagues index: %w", err))
	}
	if _, err := s.teams.Indexes().CreateMany(ctx, byName); err != nil {
		return mongoFail("ensure_indexes", fmt.Errorf("teams index: %w", err))
	}
	if _, err := s.matches.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "home_team_id", Value: 1}, {Key: "away_team_id", Value: 1}, {Key: "start_time", Value: 1}}},
		{Keys: bson.D{{Key: "league_id", Value: 1}, {Key: "start_time", Value: -1}}},
	}); err != nil {
		return mongoFail("ensure_indexes", fmt.Errorf("matches index: %w", err))
	}
	if _, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "match_id", Value: 1}, {Key: "minute", Value: 1}}},
	}); err != nil {
		return mongoFail("ensure_indexes", fmt.Errorf("events index: %w", err))
	}
	return nil
}

func mongoFail(op string, err error) error {
	return &types.PersistenceError{Backend: mongoBackend, Op: op, Err: err}
}

func (s *MongoStore) Name() string { return mongoBackend }

func (s *MongoStore) Close() error {
	s.logger.Info("mongodb store closing")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) entities(kind EntityKind) *mongo.Collection {
	if kind == KindLeague {
		return s.leagues
	}
	return s.teams
}

func (s *MongoStore) findID(ctx context.Context, op string, coll *mongo.Collection, filter bson.M) (string, bool, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetProjection(bson.M{"_id": 1})

	var doc struct {
		ID string `bson:"_id"`
	}
	if err := coll.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, mongoFail(op, fmt.Errorf("mongodb find: %w", err))
	}
	return doc.ID, true, nil
}

func (s *MongoStore) FindEntityByExactName(ctx context.Context, kind EntityKind, name string) (string, bool, error) {
	return s.findID(ctx, "find_entity_exact", s.entities(kind), bson.M{"name": name})
}

func (s *MongoStore) FindEntityByFuzzyName(ctx context.Context, kind EntityKind, name string) (string, bool, error) {
	filter := bson.M{"name": bson.M{"$regex": regexp.QuoteMeta(name), "$options": "i"}}
	return s.findID(ctx, "find_entity_fuzzy", s.entities(kind), filter)
}

func (s *MongoStore) CreateEntity(ctx context.Context, kind EntityKind, fields EntityFields) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	var doc any
	if kind == KindLeague {
		doc = League{
			ID:        id,
			Name:      fields.Name,
			LogoURL:   fields.LogoURL,
			Country:   DefaultCountry,
			Season:    DefaultSeason,
			IsActive:  true,
			CreatedAt: now,
		}
	} else {
		doc = Team{ID: id, LeagueID: fields.LeagueID, Name: fields.Name, LogoURL: fields.LogoURL, CreatedAt: now}
	}

	if _, err := s.entities(kind).InsertOne(ctx, doc); err != nil {
		return "", mongoFail("create_entity", fmt.Errorf("mongodb insert %s %q: %w", kind, fields.Name, err))
	}
	return id, nil
}

func (s *MongoStore) FindMatchByTeamsAndDate(ctx context.Context, homeID, awayID string, day time.Time) (string, bool, error) {
	return s.findID(ctx, "find_match", s.matches, bson.M{
		"home_team_id": homeID,
		"away_team_id": awayID,
		"start_time":   bson.M{"$gte": day, "$lt": day.Add(24 * time.Hour)},
	})
}

func (s *MongoStore) InsertMatch(ctx context.Context, m *MatchRow) (string, error) {
	doc := matchDoc{
		ID:            uuid.NewString(),
		LeagueID:      m.LeagueID,
		HomeTeamID:    m.HomeTeamID,
		AwayTeamID:    m.AwayTeamID,
		StartTime:     m.StartTime,
		Status:        string(m.Status),
		HomeScore:     m.HomeScore,
		AwayScore:     m.AwayScore,
		Minute:        m.Minute,
		Channel:       m.Channel,
		Round:         m.Round,
		HomeFormation: DefaultFormation,
		AwayFormation: DefaultFormation,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     m.UpdatedAt,
	}
	if _, err := s.matches.InsertOne(ctx, doc); err != nil {
		return "", mongoFail("insert_match", fmt.Errorf("mongodb insert match: %w", err))
	}
	return doc.ID, nil
}

func (s *MongoStore) UpdateMatch(ctx context.Context, id string, u MatchUpdate) error {
	res, err := s.matches.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":     string(u.Status),
		"home_score": u.HomeScore,
		"away_score": u.AwayScore,
		"minute":     u.Minute,
		"updated_at": u.UpdatedAt,
	}})
	if err != nil {
		return mongoFail("update_match", fmt.Errorf("mongodb update match %s: %w", id, err))
	}
	if res.MatchedCount == 0 {
		return mongoFail("update_match", fmt.Errorf("match %s: %w", id, types.ErrNotFound))
	}
	return nil
}

// Begin returns a pass-through transaction: every reconciliation step writes
// a single document, so each write is already atomic.
func (s *MongoStore) Begin(_ context.Context) (Tx, error) {
	return &mongoTx{MongoStore: s}, nil
}

type mongoTx struct {
	*MongoStore
}

func (t *mongoTx) Commit() error   { return nil }
func (t *mongoTx) Rollback() error { return nil }

// --- Catalog ---

func (s *MongoStore) findMatches(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]Match, error) {
	cur, err := s.matches.Find(ctx, filter, opts)
	if err != nil {
		return nil, mongoFail(op, fmt.Errorf("mongodb find matches: %w", err))
	}
	var docs []matchDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mongoFail(op, fmt.Errorf("mongodb decode matches: %w", err))
	}
	return s.hydrate(ctx, op, docs)
}

// hydrate joins team and league names onto match documents.
func (s *MongoStore) hydrate(ctx context.Context, op string, docs []matchDoc) ([]Match, error) {
	teamIDs := make([]string, 0, 2*len(docs))
	leagueIDs := make([]string, 0, len(docs))
	for _, d := range docs {
		teamIDs = append(teamIDs, d.HomeTeamID, d.AwayTeamID)
		if d.LeagueID != "" {
			leagueIDs = append(leagueIDs, d.LeagueID)
		}
	}

	teams := make(map[string]Team)
	if len(teamIDs) > 0 {
		var rows []Team
		if err := s.findAll(ctx, s.teams, bson.M{"_id": bson.M{"$in": teamIDs}}, &rows); err != nil {
			return nil, mongoFail(op, err)
		}
		for _, t := range rows {
			teams[t.ID] = t
		}
	}
	leagues := make(map[string]League)
	if len(leagueIDs) > 0 {
		var rows []League
		if err := s.findAll(ctx, s.leagues, bson.M{"_id": bson.M{"$in": leagueIDs}}, &rows); err != nil {
			return nil, mongoFail(op, err)
		}
		for _, l := range rows {
			leagues[l.ID] = l
		}
	}

	out := make([]Match, 0, len(docs))
	for _, d := range docs {
		home, away := teams[d.HomeTeamID], teams[d.AwayTeamID]
		out = append(out, Match{
			ID:            d.ID,
			LeagueID:      d.LeagueID,
			LeagueName:    leagues[d.LeagueID].Name,
			HomeTeamID:    d.HomeTeamID,
			HomeTeamName:  home.Name,
			HomeTeamLogo:  home.LogoURL,
			AwayTeamID:    d.AwayTeamID,
			AwayTeamName:  away.Name,
			AwayTeamLogo:  away.LogoURL,
			StartTime:     d.StartTime,
			Status:        types.Status(d.Status),
			HomeScore:     d.HomeScore,
			AwayScore:     d.AwayScore,
			Minute:        d.Minute,
			Venue:         d.Venue,
			Referee:       d.Referee,
			Channel:       d.Channel,
			Commentator:   d.Commentator,
			Round:         d.Round,
			HomeFormation: d.HomeFormation,
			AwayFormation: d.AwayFormation,
			CreatedAt:     d.CreatedAt,
			UpdatedAt:     d.UpdatedAt,
		})
	}
	return out, nil
}

func (s *MongoStore) findAll(ctx context.Context, coll *mongo.Collection, filter bson.M, out any) error {
	cur, err := coll.Find(ctx, filter)
	if err != nil {
		return fmt.Errorf("mongodb find %s: %w", coll.Name(), err)
	}
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("mongodb decode %s: %w", coll.Name(), err)
	}
	return nil
}

func (s *MongoStore) MatchesBetween(ctx context.Context, from, to time.Time) ([]Match, error) {
	out, err := s.findMatches(ctx, "matches_between",
		bson.M{"start_time": bson.M{"$gte": from, "$lt": to}},
		options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}}))
	if err != nil {
		return nil, err
	}
	SortLiveFirst(out)
	return out, nil
}

func (s *MongoStore) MatchByID(ctx context.Context, id string) (Match, error) {
	out, err := s.findMatches(ctx, "match_by_id", bson.M{"_id": id}, options.Find().SetLimit(1))
	if err != nil {
		return Match{}, err
	}
	if len(out) == 0 {
		return Match{}, mongoFail("match_by_id", fmt.Errorf("match %s: %w", id, types.ErrNotFound))
	}
	return out[0], nil
}

func (s *MongoStore) EventsByMatch(ctx context.Context, matchID string) ([]MatchEvent, error) {
	cur, err := s.events.Find(ctx, bson.M{"match_id": matchID},
		options.Find().SetSort(bson.D{{Key: "minute", Value: 1}, {Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, mongoFail("events_by_match", fmt.Errorf("mongodb find events: %w", err))
	}
	var out []MatchEvent
	if err := cur.All(ctx, &out); err != nil {
		return nil, mongoFail("events_by_match", fmt.Errorf("mongodb decode events: %w", err))
	}
	return out, nil
}

func (s *MongoStore) LeagueByID(ctx context.Context, id string) (League, error) {
	var l League
	if err := s.leagues.FindOne(ctx, bson.M{"_id": id}).Decode(&l); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return League{}, mongoFail("league_by_id", fmt.Errorf("league %s: %w", id, types.ErrNotFound))
		}
		return League{}, mongoFail("league_by_id", fmt.Errorf("mongodb find league: %w", err))
	}
	return l, nil
}

func (s *MongoStore) RecentMatchesByLeague(ctx context.Context, leagueID string, limit int) ([]Match, error) {
	return s.findMatches(ctx, "recent_matches", bson.M{"league_id": leagueID},
		options.Find().SetSort(bson.D{{Key: "start_time", Value: -1}}).SetLimit(int64(limit)))
}

func (s *MongoStore) ApplyLiveUpdate(ctx context.Context, matchID string, u LiveUpdate, event *MatchEvent) error {
	set := bson.M{"updated_at": u.UpdatedAt}
	if u.HomeScore != nil {
		set["home_score"] = *u.HomeScore
	}
	if u.AwayScore != nil {
		set["away_score"] = *u.AwayScore
	}
	if u.Minute != nil {
		set["minute"] = *u.Minute
	}
	if u.Status != nil {
		set["status"] = string(*u.Status)
	}

	res, err := s.matches.UpdateOne(ctx, bson.M{"_id": matchID}, bson.M{"$set": set})
	if err != nil {
		return mongoFail("live_update", fmt.Errorf("mongodb update match %s: %w", matchID, err))
	}
	if res.MatchedCount == 0 {
		return mongoFail("live_update", fmt.Errorf("match %s: %w", matchID, types.ErrNotFound))
	}

	if event != nil {
		e := *event
		e.ID = uuid.NewString()
		e.MatchID = matchID
		e.CreatedAt = time.Now().UTC()
		if _, err := s.events.InsertOne(ctx, e); err != nil {
			return mongoFail("live_update", fmt.Errorf("mongodb insert event: %w", err))
		}
	}
	return nil
}
