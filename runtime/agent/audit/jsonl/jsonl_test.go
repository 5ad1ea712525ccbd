package jsonl

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexterhq/dexter/runtime/agent/audit"
)

func TestRecordAppendsNDJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	rec, err := New(path)
	require.NoError(t, err)

	ctx := context.Background()
	rec.Record(ctx, &audit.Entry{
		Timestamp:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Tool:          "webSearch",
		Args:          map[string]any{"query": "earnings"},
		ResultSummary: "two filings",
		SourceURLs:    []string{"https://a.example"},
		ToolCallID:    "call-1",
		Duration:      1200 * time.Millisecond,
	})
	rec.Record(ctx, &audit.Entry{
		Timestamp:     time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC),
		Tool:          "secFilings",
		ResultSummary: "10-K",
		SourceURLs:    []string{},
	})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)

	var first audit.Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "webSearch", first.Tool)
	assert.Equal(t, "two filings", first.ResultSummary)
	assert.Equal(t, []string{"https://a.example"}, first.SourceURLs)
	assert.Equal(t, "call-1", first.ToolCallID)

	var second audit.Entry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "secFilings", second.Tool)
}

func TestRecordNeverRewrites(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	rec, err := New(path)
	require.NoError(t, err)

	ctx := context.Background()
	rec.Record(ctx, &audit.Entry{Timestamp: time.Now(), Tool: "a", ResultSummary: "1"})
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	rec.Record(ctx, &audit.Entry{Timestamp: time.Now(), Tool: "b", ResultSummary: "2"})
	after, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(after), string(before)))
}

func TestRecordContainsIOFailures(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Point the log file inside a path blocked by an existing regular file
	// so directory creation fails.
	blocker := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	rec, err := New(filepath.Join(blocker, "audit.jsonl"))
	require.NoError(t, err)

	// Must not panic or return; the failure is contained.
	rec.Record(context.Background(), &audit.Entry{Timestamp: time.Now(), Tool: "webSearch"})
}

func TestRecordIgnoresNilEntry(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	rec, err := New(path)
	require.NoError(t, err)

	rec.Record(context.Background(), nil)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestNewValidatesPath(t *testing.T) {
	t.Parallel()
	_, err := New(filepath.Join(t.TempDir(), "dir-without-extension"))
	require.Error(t, err)

	rec, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPath, rec.path)
}
