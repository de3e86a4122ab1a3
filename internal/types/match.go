package types

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a match as shown by the source.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusLive     Status = "live"
	StatusFinished Status = "finished"
)

// ParseStatus validates a status string coming from an external caller.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusUpcoming, StatusLive, StatusFinished:
		return st, true
	default:
		return "", false
	}
}

// MatchRecord is one match as observed on the source page during a cycle.
type MatchRecord struct {
	HomeTeam  string `json:"home_team_name"`
	HomeLogo  string `json:"home_team_logo,omitempty"`
	AwayTeam  string `json:"away_team_name"`
	AwayLogo  string `json:"away_team_logo,omitempty"`
	League    string `json:"league_name,omitempty"`
	HomeScore int    `json:"home_score"`
	AwayScore int    `json:"away_score"`
	Status    Status `json:"status"`
	Minute    int    `json:"minute"`

	// StartTime falls back to the observation time when the page shows no
	// kickoff; StartTimeKnown is false in that case.
	StartTime      time.Time `json:"start_time"`
	StartTimeKnown bool      `json:"start_time_known"`

	Channel string `json:"channel,omitempty"`
	Round   string `json:"round,omitempty"`
}

// IsLive reports whether the match is currently being played.
func (r *MatchRecord) IsLive() bool {
	return r.Status == StatusLive
}

// MatchDay returns midnight of the record's start date in loc.
func (r *MatchRecord) MatchDay(loc *time.Location) time.Time {
	return DayOf(r.StartTime, loc)
}

// NaturalKey identifies the real-world fixture: home, away and calendar date.
func (r *MatchRecord) NaturalKey(loc *time.Location) string {
	return r.HomeTeam + "|" + r.AwayTeam + "|" + r.MatchDay(loc).Format("2006-01-02")
}

// DayOf truncates t to the start of its calendar day in loc.
func DayOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Outcome is the result of reconciling one record.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeInserted
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	default:
		return "skipped"
	}
}

// Counts aggregates outcomes over a batch.
type Counts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Add records one outcome.
func (c *Counts) Add(o Outcome) {
	switch o {
	case OutcomeInserted:
		c.Inserted++
	case OutcomeUpdated:
		c.Updated++
	default:
		c.Skipped++
	}
}

// Merge adds other into c.
func (c *Counts) Merge(other Counts) {
	c.Inserted += other.Inserted
	c.Updated += other.Updated
	c.Skipped += other.Skipped
}

// Total returns the number of records counted.
func (c Counts) Total() int {
	return c.Inserted + c.Updated + c.Skipped
}
