package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

var (
	kickoffRe   = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	minuteToken = regexp.MustCompile(`\d{1,3}(?:\s*\+\s*\d{1,2})?\s*['′]`)
)

// Extractor turns one match candidate node into a MatchRecord.
type Extractor struct {
	chains FieldChains
	loc    *time.Location
	now    func() time.Time
}

// ExtractorOption configures the Extractor.
type ExtractorOption func(*Extractor)

// WithChains replaces the default selector chains.
func WithChains(c FieldChains) ExtractorOption {
	return func(e *Extractor) { e.chains = c }
}

// WithLocation sets the zone kickoff times are interpreted in.
func WithLocation(loc *time.Location) ExtractorOption {
	return func(e *Extractor) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) { e.now = now }
}

// NewExtractor creates an Extractor with the default chains in UTC.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		chains: DefaultChains(),
		loc:    time.UTC,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the reference zone.
func (e *Extractor) Location() *time.Location { return e.loc }

// Extract reads a match record from node. referenceDate is the poll day and
// anchors HH:MM kickoff times. A node without two team names yields an
// *types.ExtractError.
func (e *Extractor) Extract(node Node, referenceDate time.Time) (*types.MatchRecord, error) {
	rec := &types.MatchRecord{}

	rec.HomeTeam, rec.HomeLogo, rec.AwayTeam, rec.AwayLogo = e.teams(node)
	if rec.HomeTeam == "" || rec.AwayTeam == "" {
		return nil, &types.ExtractError{Field: "teams", Err: types.ErrMissingTeams}
	}

	rec.HomeScore, rec.AwayScore = ParseScore(e.chains.Score.Text(node))

	statusText := e.chains.Status.Text(node)
	rec.Status = MapStatus(statusText)
	if rec.Status == types.StatusLive {
		rec.Minute = liveMinute(statusText)
	}

	rec.StartTime = e.now().In(e.loc)
	if rec.Status == types.StatusUpcoming {
		if kickoff, ok := e.kickoff(referenceDate, e.chains.Time.Text(node), statusText); ok {
			rec.StartTime = kickoff
			rec.StartTimeKnown = true
		}
	}

	rec.League = e.chains.League.Text(node)
	rec.Channel = e.chains.Channel.Text(node)
	rec.Round = e.chains.Round.Text(node)

	return rec, nil
}

// teams finds home and away names and logos. The first chain entry matching
// two or more nodes wins; otherwise the first and last text lines are used.
func (e *Extractor) teams(node Node) (home, homeLogo, away, awayLogo string) {
	for _, sel := range e.chains.Teams {
		if sel.CSS == "" {
			continue
		}
		found := node.QuerySelectorAll(sel.CSS)
		if len(found) < 2 {
			continue
		}
		first, last := found[0], found[len(found)-1]
		home, homeLogo = e.team(first)
		away, awayLogo = e.team(last)
		if home != "" && away != "" {
			return home, homeLogo, away, awayLogo
		}
	}

	var lines []string
	for _, line := range strings.Split(node.InnerText(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "", "", "", ""
	}
	return lines[0], "", lines[len(lines)-1], ""
}

func (e *Extractor) team(n Node) (name, logo string) {
	name = e.chains.TeamName.Text(n)
	if name == "" {
		name = collapse(n.InnerText())
	}
	if img, ok := n.QuerySelector("img"); ok {
		if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
			logo = strings.TrimSpace(src)
		} else if src, ok := img.Attr("data-src"); ok {
			logo = strings.TrimSpace(src)
		}
	}
	return name, logo
}

// kickoff finds the first valid HH:MM in texts and places it on the
// reference date in the extractor's zone.
func (e *Extractor) kickoff(ref time.Time, texts ...string) (time.Time, bool) {
	ref = ref.In(e.loc)
	for _, text := range texts {
		for _, m := range kickoffRe.FindAllStringSubmatch(text, -1) {
			hour, _ := strconv.Atoi(m[1])
			minute, _ := strconv.Atoi(m[2])
			if hour > 23 || minute > 59 {
				continue
			}
			return time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, e.loc), true
		}
	}
	return time.Time{}, false
}

// liveMinute reads the clock from live status text, which is either the bare
// clock ("45+2'", "ش.أ") or a label carrying one ("مباشر 37'").
func liveMinute(text string) int {
	if m, ok := ParseMinuteOK(text); ok {
		return m
	}
	if tok := minuteToken.FindString(text); tok != "" {
		return ParseMinute(tok)
	}
	return 0
}
