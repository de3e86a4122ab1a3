package parser

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

// ScanResult is the outcome of scanning one document.
type ScanResult struct {
	Records []*types.MatchRecord
	// Nodes is the number of candidate nodes found.
	Nodes int
	// Group is the index of the container group that produced the nodes, -1 if none.
	Group  int
	Failed int
}

// Scanner locates match candidate nodes and extracts a record from each.
type Scanner struct {
	extractor     *Extractor
	groups        []string
	workers       int
	dropEnclosing bool
	logger        *slog.Logger
}

// ScannerOption configures the Scanner.
type ScannerOption func(*Scanner)

// WithContainerGroups replaces the candidate container selector groups.
func WithContainerGroups(groups ...string) ScannerOption {
	return func(s *Scanner) { s.groups = groups }
}

// WithWorkers extracts nodes on a worker pool of size n.
func WithWorkers(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithDropEnclosing discards a record when its node encloses another
// candidate that produced a record for two distinct teams. Broad container
// selectors otherwise pair the first and last team of a whole section.
func WithDropEnclosing(enabled bool) ScannerOption {
	return func(s *Scanner) { s.dropEnclosing = enabled }
}

// NewScanner creates a Scanner over the default container groups.
func NewScanner(extractor *Extractor, logger *slog.Logger, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		extractor: extractor,
		groups:    DefaultContainerGroups,
		workers:   1,
		logger:    logger.With("component", "scanner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan extracts every match it can find. A node that fails is skipped; an
// empty result is not an error.
func (s *Scanner) Scan(doc Document, referenceDate time.Time) ScanResult {
	res := ScanResult{Group: -1}

	var nodes []Node
	for i, group := range s.groups {
		nodes = doc.QuerySelectorAll(group)
		if len(nodes) > 0 {
			res.Group = i
			break
		}
	}
	res.Nodes = len(nodes)
	if len(nodes) == 0 {
		s.logger.Warn("no match candidates found", "groups", len(s.groups))
		return res
	}

	records := s.extractAll(nodes, referenceDate)
	if s.dropEnclosing {
		s.discardEnclosing(nodes, records)
	}

	for _, rec := range records {
		if rec == nil {
			res.Failed++
			continue
		}
		res.Records = append(res.Records, rec)
	}

	s.logger.Debug("scan complete",
		"group", res.Group,
		"nodes", res.Nodes,
		"records", len(res.Records),
		"failed", res.Failed,
	)
	return res
}

// extractAll returns one slot per node, nil where extraction failed.
func (s *Scanner) extractAll(nodes []Node, ref time.Time) []*types.MatchRecord {
	records := make([]*types.MatchRecord, len(nodes))

	if s.workers <= 1 || len(nodes) == 1 {
		for i, n := range nodes {
			records[i] = s.extractOne(i, n, ref)
		}
		return records
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		s.logger.Warn("worker pool unavailable, extracting serially", "error", err)
		for i, n := range nodes {
			records[i] = s.extractOne(i, n, ref)
		}
		return records
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, n := range nodes {
		i, n := i, n
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			records[i] = s.extractOne(i, n, ref)
		}); err != nil {
			wg.Done()
			records[i] = s.extractOne(i, n, ref)
		}
	}
	wg.Wait()
	return records
}

// extractOne isolates a single node: errors and panics are logged and
// reported as a nil record.
func (s *Scanner) extractOne(index int, n Node, ref time.Time) (rec *types.MatchRecord) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("extraction panicked, node skipped", "index", index, "panic", fmt.Sprint(r))
			rec = nil
		}
	}()

	rec, err := s.extractor.Extract(n, ref)
	if err != nil {
		s.logger.Debug("node skipped", "index", index, "error", err)
		return nil
	}
	return rec
}

type container interface {
	Contains(other Node) bool
}

func (s *Scanner) discardEnclosing(nodes []Node, records []*types.MatchRecord) {
	for i, outer := range nodes {
		if records[i] == nil {
			continue
		}
		c, ok := outer.(container)
		if !ok {
			continue
		}
		for j, inner := range nodes {
			if i == j || records[j] == nil || records[j].HomeTeam == records[j].AwayTeam {
				continue
			}
			if c.Contains(inner) {
				s.logger.Debug("enclosing candidate discarded", "index", i, "inner", j)
				records[i] = nil
				break
			}
		}
	}
}
