package fetcher

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/IshaanNene/KoraStalk/internal/config"
	"github.com/IshaanNene/KoraStalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const page = `<html><body><div class="item"><p class="team">الزمالك</p><p class="team">الأهلي</p></div></body></html>`

func testFetcher(t *testing.T) *HTTPFetcher {
	t.Helper()
	cfg := config.DefaultConfig().Fetcher
	cfg.Type = "http"
	cfg.Timeout = 5 * time.Second
	f, err := NewHTTPFetcher(cfg, testLogger)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestHTTPFetchBrotli(t *testing.T) {
	var gotLang, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLang = r.Header.Get("Accept-Language")
		gotUA = r.Header.Get("User-Agent")

		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		_, _ = bw.Write([]byte(page))
		_ = bw.Close()

		w.Header().Set("Content-Encoding", "br")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	resp, err := testFetcher(t).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(resp.Body) != page {
		t.Errorf("body not decoded: %q", resp.Body)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if gotLang != "ar-SA,ar;q=0.9,en;q=0.8" {
		t.Errorf("unexpected Accept-Language %q", gotLang)
	}
	if gotUA != config.DefaultConfig().Fetcher.UserAgent {
		t.Errorf("unexpected User-Agent %q", gotUA)
	}
}

func TestHTTPFetchStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    string
		retryable bool
		after     time.Duration
	}{
		{"server error", http.StatusServiceUnavailable, "", true, 0},
		{"not found", http.StatusNotFound, "", false, 0},
		{"rate limited", http.StatusTooManyRequests, "7", true, 7 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := testFetcher(t).Fetch(context.Background(), srv.URL)
			var fe *types.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FetchError, got %v", err)
			}
			if fe.StatusCode != tt.status || fe.Retryable != tt.retryable || fe.RetryAfter != tt.after {
				t.Errorf("unexpected error %+v", fe)
			}
		})
	}
}

func TestHTTPFetchEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := testFetcher(t).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, types.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 5 * time.Second},
		{"3", 3 * time.Second},
		{"600", 2 * time.Minute},
		{"soon", 5 * time.Second},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestAcceptLanguage(t *testing.T) {
	for in, want := range map[string]string{
		"":      "en-US,en;q=0.9",
		"ar":    "ar,en;q=0.8",
		"ar-SA": "ar-SA,ar;q=0.9,en;q=0.8",
	} {
		if got := acceptLanguage(in); got != want {
			t.Errorf("acceptLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewUnknownType(t *testing.T) {
	cfg := config.DefaultConfig().Fetcher
	cfg.Type = "carrier-pigeon"
	if _, err := New(cfg, testLogger); err == nil {
		t.Fatal("expected error for unknown fetcher type")
	}
}
