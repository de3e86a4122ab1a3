package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

// Sink receives every cycle's records, independent of the Store.
type Sink interface {
	// Write appends a batch of records.
	Write(recs []*types.MatchRecord) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the sink identifier.
	Name() string
}

// NewSink picks a sink by file extension: .csv writes CSV, anything else JSONL.
func NewSink(path string, logger *slog.Logger) (Sink, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return NewCSVSink(path, logger)
	}
	return NewJSONLSink(path, logger)
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return f, nil
}

// --- JSONL ---

type exportLine struct {
	*types.MatchRecord
	ObservedAt time.Time `json:"observed_at"`
}

// JSONLSink appends records as newline-delimited JSON, one object per line.
type JSONLSink struct {
	path   string
	file   *os.File
	enc    *json.Encoder
	mu     sync.Mutex
	count  int
	now    func() time.Time
	logger *slog.Logger
}

// NewJSONLSink opens path for appending.
func NewJSONLSink(path string, logger *slog.Logger) (*JSONLSink, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &JSONLSink{
		path:   path,
		file:   f,
		enc:    enc,
		now:    time.Now,
		logger: logger.With("component", "jsonl_sink"),
	}, nil
}

func (s *JSONLSink) Name() string { return "jsonl" }

func (s *JSONLSink) Write(recs []*types.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	observed := s.now().UTC()
	for _, rec := range recs {
		if err := s.enc.Encode(exportLine{MatchRecord: rec, ObservedAt: observed}); err != nil {
			return fmt.Errorf("encode JSONL: %w", err)
		}
		s.count++
	}
	return nil
}

func (s *JSONLSink) Close() error {
	s.logger.Info("JSONL written", "path", s.path, "records", s.count)
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// --- CSV ---

var csvHeader = []string{
	"observed_at", "home_team_name", "away_team_name", "league_name", "home_score", "away_score",
	"status", "minute", "start_time", "start_time_known", "channel", "round", "home_team_logo", "away_team_logo",
}

// CSVSink appends records as CSV rows with a fixed header.
type CSVSink struct {
	path   string
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
	count  int
	now    func() time.Time
	logger *slog.Logger
}

// NewCSVSink opens path for appending and writes the header to a new file.
func NewCSVSink(path string, logger *slog.Logger) (*CSVSink, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write CSV header: %w", err)
		}
		w.Flush()
	}

	return &CSVSink{
		path:   path,
		file:   f,
		writer: w,
		now:    time.Now,
		logger: logger.With("component", "csv_sink"),
	}, nil
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Write(recs []*types.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	observed := s.now().UTC().Format(time.RFC3339)
	for _, rec := range recs {
		row := []string{
			observed,
			rec.HomeTeam,
			rec.AwayTeam,
			rec.League,
			strconv.Itoa(rec.HomeScore),
			strconv.Itoa(rec.AwayScore),
			string(rec.Status),
			strconv.Itoa(rec.Minute),
			rec.StartTime.Format(time.RFC3339),
			strconv.FormatBool(rec.StartTimeKnown),
			rec.Channel,
			rec.Round,
			rec.HomeLogo,
			rec.AwayLogo,
		}
		if err := s.writer.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
		s.count++
	}
	s.writer.Flush()
	return s.writer.Error()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writer.Flush()
	s.logger.Info("CSV written", "path", s.path, "records", s.count)
	return s.file.Close()
}

// --- Multi-Sink Fan-Out ---

// MultiSink writes records to several sinks.
type MultiSink struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMultiSink creates a sink that fans out to every given sink.
func NewMultiSink(sinks []Sink, logger *slog.Logger) *MultiSink {
	return &MultiSink{
		sinks:  sinks,
		logger: logger.With("component", "multi_sink"),
	}
}

func (s *MultiSink) Name() string { return "multi" }

func (s *MultiSink) Write(recs []*types.MatchRecord) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Write(recs); err != nil {
			s.logger.Error("sink write failed", "sink", sink.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *MultiSink) Close() error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
