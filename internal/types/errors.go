package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrEmptyResponse = errors.New("empty response body")
	ErrNoMatches     = errors.New("no match candidates found")
	ErrMissingTeams  = errors.New("both team names are required")
	ErrCycleRunning  = errors.New("an ingestion cycle is already running")
	ErrStoreClosed   = errors.New("store is closed")
	ErrNotFound      = errors.New("not found")
	ErrInvalidStatus = errors.New("invalid match status")
	ErrDisallowed    = errors.New("source disallowed by robots.txt")
)

// FetchError wraps errors that occur while obtaining the rendered document.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
	RetryAfter time.Duration // populated from Retry-After header on HTTP 429
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// ExtractError describes a match candidate node that could not be turned into a record.
type ExtractError struct {
	Field string
	Err   error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract error (field=%q): %v", e.Field, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// PersistenceError wraps any failure reported by a store backend.
type PersistenceError struct {
	Backend string
	Op      string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error (%s, %s): %v", e.Backend, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PipelineError wraps errors that occur in the record pipeline.
type PipelineError struct {
	Stage  string
	Record *MatchRecord
	Err    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at stage %q: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
