package storage

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

func exportRecords() []*types.MatchRecord {
	return []*types.MatchRecord{
		{HomeTeam: "الزمالك", AwayTeam: "الأهلي", HomeScore: 1, Status: types.StatusLive, Minute: 37, StartTime: day},
		{HomeTeam: "Pyramids", AwayTeam: "Al Masry", Status: types.StatusUpcoming, StartTime: day.Add(20 * time.Hour), StartTimeKnown: true},
	}
}

func TestJSONLSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.jsonl")

	for i := 0; i < 2; i++ {
		sink, err := NewSink(path, testLogger)
		require.NoError(t, err)
		assert.Equal(t, "jsonl", sink.Name())
		require.NoError(t, sink.Write(exportRecords()))
		require.NoError(t, sink.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 4, "second open appends")
	assert.Equal(t, "الزمالك", lines[0]["home_team_name"])
	assert.Equal(t, "live", lines[0]["status"])
	assert.Contains(t, lines[0], "observed_at")
}

func TestCSVSinkHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.csv")

	for i := 0; i < 2; i++ {
		sink, err := NewSink(path, testLogger)
		require.NoError(t, err)
		assert.Equal(t, "csv", sink.Name())
		require.NoError(t, sink.Write(exportRecords()))
		require.NoError(t, sink.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "Pyramids", rows[2][1])
	assert.Equal(t, "true", rows[2][9])
}

type failingSink struct{ writes int }

func (f *failingSink) Name() string { return "failing" }
func (f *failingSink) Write([]*types.MatchRecord) error {
	f.writes++
	return os.ErrClosed
}
func (f *failingSink) Close() error { return nil }

func TestMultiSinkContinuesPastFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	jsonl, err := NewJSONLSink(path, testLogger)
	require.NoError(t, err)
	bad := &failingSink{}

	multi := NewMultiSink([]Sink{bad, jsonl}, testLogger)
	err = multi.Write(exportRecords())
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.Equal(t, 1, bad.writes)
	require.NoError(t, multi.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data, "healthy sink still written")
}
