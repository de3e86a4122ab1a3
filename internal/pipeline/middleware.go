package pipeline

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

// --- Advanced Middleware ---

// SanitizeMiddleware strips stray markup and entities from text fields and
// collapses whitespace.
type SanitizeMiddleware struct {
	stripRe *regexp.Regexp
}

func NewSanitizeMiddleware() *SanitizeMiddleware {
	return &SanitizeMiddleware{
		stripRe: regexp.MustCompile(`<[^>]*>`),
	}
}

func (m *SanitizeMiddleware) Name() string { return "sanitize" }

func (m *SanitizeMiddleware) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	for _, f := range []*string{&rec.HomeTeam, &rec.AwayTeam, &rec.League, &rec.Channel, &rec.Round} {
		if *f == "" {
			continue
		}
		cleaned := m.stripRe.ReplaceAllString(*f, "")
		cleaned = html.UnescapeString(cleaned)
		*f = strings.Join(strings.Fields(cleaned), " ")
	}
	return rec, nil
}

// ClockMiddleware keeps the minute and scores consistent with the status:
// only live matches carry a running minute, and nothing goes negative.
type ClockMiddleware struct{}

func (m *ClockMiddleware) Name() string { return "clock" }

func (m *ClockMiddleware) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	if rec.Status != types.StatusLive || rec.Minute < 0 {
		rec.Minute = 0
	}
	if rec.HomeScore < 0 {
		rec.HomeScore = 0
	}
	if rec.AwayScore < 0 {
		rec.AwayScore = 0
	}
	return rec, nil
}

// LogoResolveMiddleware turns relative logo paths into absolute URLs against
// the page they were scraped from.
type LogoResolveMiddleware struct {
	base *url.URL
}

func NewLogoResolveMiddleware(baseURL string) (*LogoResolveMiddleware, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q is not absolute", baseURL)
	}
	return &LogoResolveMiddleware{base: base}, nil
}

func (m *LogoResolveMiddleware) Name() string { return "logo_resolve" }

func (m *LogoResolveMiddleware) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	for _, f := range []*string{&rec.HomeLogo, &rec.AwayLogo} {
		if *f == "" || strings.HasPrefix(*f, "data:") {
			continue
		}
		ref, err := url.Parse(*f)
		if err != nil {
			*f = ""
			continue
		}
		*f = m.base.ResolveReference(ref).String()
	}
	return rec, nil
}
