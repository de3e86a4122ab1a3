package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	robotsTTL     = time.Hour
	robotsMaxSize = 512 * 1024
)

// RobotsGuard reports whether the source page may be polled according to
// the host's robots.txt. Rules are cached per host for an hour; an
// unreachable or missing robots.txt allows everything.
type RobotsGuard struct {
	client *http.Client
	agent  string
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*robotsRules
}

type robotsRules struct {
	disallowed []string
	allowed    []string
	crawlDelay time.Duration
	fetchedAt  time.Time
}

// NewRobotsGuard creates a guard that matches rule groups for agent (the
// product token, e.g. "korastalk") and "*".
func NewRobotsGuard(agent string, timeout time.Duration, logger *slog.Logger) *RobotsGuard {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RobotsGuard{
		client: &http.Client{Timeout: timeout},
		agent:  strings.ToLower(agent),
		now:    time.Now,
		logger: logger.With("component", "robots"),
		cache:  make(map[string]*robotsRules),
	}
}

// Allowed reports whether rawURL may be fetched and the crawl delay the
// host asks for.
func (g *RobotsGuard) Allowed(ctx context.Context, rawURL string) (bool, time.Duration) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true, 0
	}
	rules := g.rules(ctx, u.Scheme+"://"+u.Host)
	if rules == nil {
		return true, 0
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return rules.allows(path), rules.crawlDelay
}

func (g *RobotsGuard) rules(ctx context.Context, origin string) *robotsRules {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.cache[origin]; ok && g.now().Sub(r.fetchedAt) < robotsTTL {
		return r
	}
	r, err := g.fetch(ctx, origin)
	if err != nil {
		g.logger.Debug("robots.txt unavailable", "origin", origin, "error", err)
		r = &robotsRules{}
	}
	r.fetchedAt = g.now()
	g.cache[origin] = r
	return r
}

func (g *RobotsGuard) fetch(ctx context.Context, origin string) (*robotsRules, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxSize))
	if err != nil {
		return nil, err
	}
	return parseRobots(string(body), g.agent), nil
}

// parseRobots collects the rules of every group addressed to agent or "*".
// A group naming agent explicitly replaces the "*" rules.
func parseRobots(content, agent string) *robotsRules {
	var generic, specific robotsRules
	var sawSpecific bool

	var current []*robotsRules
	lastWasAgent := false
	for _, line := range strings.Split(content, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if key == "user-agent" {
			if !lastWasAgent {
				current = current[:0]
			}
			lastWasAgent = true
			ua := strings.ToLower(value)
			switch {
			case ua == "*":
				current = append(current, &generic)
			case agent != "" && strings.Contains(ua, agent):
				sawSpecific = true
				current = append(current, &specific)
			}
			continue
		}
		lastWasAgent = false

		for _, r := range current {
			switch key {
			case "disallow":
				if value != "" {
					r.disallowed = append(r.disallowed, value)
				}
			case "allow":
				if value != "" {
					r.allowed = append(r.allowed, value)
				}
			case "crawl-delay":
				var secs float64
				if _, err := fmt.Sscanf(value, "%f", &secs); err == nil && secs > 0 {
					r.crawlDelay = time.Duration(secs * float64(time.Second))
				}
			}
		}
	}

	if sawSpecific {
		return &specific
	}
	return &generic
}

// allows applies the longest matching rule; Allow wins ties.
func (r *robotsRules) allows(path string) bool {
	best, allowed := -1, true
	for _, p := range r.allowed {
		if matchRobotsPattern(p, path) && len(p) >= best {
			best, allowed = len(p), true
		}
	}
	for _, p := range r.disallowed {
		if matchRobotsPattern(p, path) && len(p) > best {
			best, allowed = len(p), false
		}
	}
	return allowed
}

// matchRobotsPattern supports the * and trailing $ wildcards.
func matchRobotsPattern(pattern, path string) bool {
	if pattern == "" {
		return false
	}
	anchored := strings.HasSuffix(pattern, "$")
	pattern = strings.TrimSuffix(pattern, "$")

	if !strings.Contains(pattern, "*") {
		if anchored {
			return path == pattern
		}
		return strings.HasPrefix(path, pattern)
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	pos := len(parts[0])
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		i := strings.Index(path[pos:], part)
		if i < 0 {
			return false
		}
		pos += i + len(part)
	}
	if anchored {
		last := parts[len(parts)-1]
		return last == "" || strings.HasSuffix(path, last)
	}
	return true
}
