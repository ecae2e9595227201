package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesMemoryDirectory(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(filepath.Join(root, "memory"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRecordAppendsJSONLPerStream(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record("incidents", json.RawMessage(`{"incident_id":"1"}`)))
	require.NoError(t, s.Record("incidents", json.RawMessage(`{"incident_id":"2"}`)))
	require.NoError(t, s.Record("decisions", json.RawMessage(`{"decision_id":"d1"}`)))

	lines := readLines(t, filepath.Join(s.rootDir, "incidents.jsonl"))
	require.Len(t, lines, 2)

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "incidents", rec.Stream)
	assert.False(t, rec.RecordedAt.IsZero())

	decisionLines := readLines(t, filepath.Join(s.rootDir, "decisions.jsonl"))
	require.Len(t, decisionLines, 1)
}

func TestRecordReusesOpenFileHandlePerStream(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record("x", json.RawMessage(`{}`)))
	require.NoError(t, s.Record("x", json.RawMessage(`{}`)))
	assert.Len(t, s.files, 1)
}

func TestCloseReleasesAllHandles(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Record("a", json.RawMessage(`{}`)))
	require.NoError(t, s.Record("b", json.RawMessage(`{}`)))
	require.NoError(t, s.Close())
	assert.Empty(t, s.files)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}
