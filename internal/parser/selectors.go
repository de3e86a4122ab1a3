package parser

import "strings"

// Selector locates one node relative to a match candidate. Exactly one of
// CSS or XPath is set.
type Selector struct {
	CSS   string
	XPath string
}

// Chain is an ordered list of selectors; the first one yielding non-empty
// text wins. New fallbacks are added as rows, not code.
type Chain []Selector

// CSS builds a chain from plain CSS selectors.
func CSS(selectors ...string) Chain {
	c := make(Chain, 0, len(selectors))
	for _, s := range selectors {
		c = append(c, Selector{CSS: s})
	}
	return c
}

// WithXPath appends XPath fallbacks to the chain.
func (c Chain) WithXPath(exprs ...string) Chain {
	out := append(Chain(nil), c...)
	for _, e := range exprs {
		out = append(out, Selector{XPath: e})
	}
	return out
}

// Find returns the first node along the chain.
func (c Chain) Find(n Node) (Node, bool) {
	for _, s := range c {
		if found, ok := s.find(n); ok {
			return found, true
		}
	}
	return nil, false
}

// Text returns the first non-empty text along the chain, whitespace collapsed.
func (c Chain) Text(n Node) string {
	for _, s := range c {
		found, ok := s.find(n)
		if !ok {
			continue
		}
		if text := collapse(found.InnerText()); text != "" {
			return text
		}
	}
	return ""
}

func (s Selector) find(n Node) (Node, bool) {
	if s.XPath != "" {
		return n.XPath(s.XPath)
	}
	return n.QuerySelector(s.CSS)
}

// FieldChains holds the selector chain for every extracted field.
type FieldChains struct {
	Teams    Chain // each entry must match at least two nodes
	TeamName Chain
	Score    Chain
	Status   Chain
	League   Chain
	Time     Chain
	Channel  Chain
	Round    Chain
}

// DefaultChains returns the chains tuned for the yallakora match center.
func DefaultChains() FieldChains {
	return FieldChains{
		Teams:    CSS(".teamName", ".team-name", ".teamA, .teamB", ".team", "[class*='team']"),
		TeamName: CSS(".name", "span", "strong"),
		Score:    CSS(".score", ".result", ".matchResult", "[class*='score']", "[class*='result']"),
		Status:   CSS(".matchStatus", ".status", ".time", ".matchTime", "[class*='status']", "[class*='live']"),
		League: CSS(".championship", ".league", ".tournamentName", ".tourName", "[class*='champ']", "[class*='league']").
			WithXPath(
				"ancestor::*[contains(@class,'matchCard')][1]//*[contains(@class,'title')]//h2",
				"ancestor::*[contains(@class,'matchCard')][1]//*[contains(@class,'title')]",
			),
		Time:    CSS(".matchTime", ".time", "[class*='time']"),
		Channel: CSS(".channel", "[class*='channel']", "[class*='broadcaster']"),
		Round:   CSS(".round", ".matchRound", "[class*='round']", "[class*='week']"),
	}
}

// Container selector groups, tried in order; the first group with any hit wins.
var DefaultContainerGroups = []string{
	".matchCard, .match-card, .liItem, .item, [class*='match']",
	"#matchesContainer .item, .allData .item, .matchesList .item",
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
