// Package audit is the append-only record of every message that
// crosses the bus, per SPEC_FULL.md §4.C. One JSONL file per stream
// under <data_root>/memory/<stream>.jsonl, flushed line by line.
//
// Grounded on the teacher's telemetry.TelemetryLogger: thread-safe
// writer guarded by a mutex, lazy file handles, fail loudly rather
// than silently drop on write error.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orion-homelab/orion/internal/orionerr"
)

// Record is one audited message: the raw envelope plus the stream it
// was recorded on and the time audit captured it.
type Record struct {
	RecordedAt time.Time       `json:"recorded_at"`
	Stream     string          `json:"stream"`
	Payload    json.RawMessage `json:"payload"`
}

// Store appends Records to one JSONL file per stream. A Store is safe
// for concurrent use.
type Store struct {
	mu      sync.Mutex
	rootDir string
	files   map[string]*os.File
	now     func() time.Time
}

// New creates a Store rooted at <dataRoot>/memory, creating the
// directory if absent.
func New(dataRoot string) (*Store, error) {
	dir := filepath.Join(dataRoot, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, orionerr.New("audit.New", "storage", err)
	}
	return &Store{
		rootDir: dir,
		files:   make(map[string]*os.File),
		now:     time.Now,
	}, nil
}

// Record appends one line of JSON to <rootDir>/<stream>.jsonl. Write
// failures (e.g. disk full) are returned to the caller rather than
// swallowed: audit loss must be loud, not silent.
func (s *Store) Record(stream string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileFor(stream)
	if err != nil {
		return err
	}

	rec := Record{RecordedAt: s.now().UTC(), Stream: stream, Payload: payload}
	line, err := json.Marshal(rec)
	if err != nil {
		return orionerr.New("audit.Record", "internal", err).WithID(stream)
	}
	line = append(line, '\n')

	if _, err := f.Write(line); err != nil {
		return orionerr.New("audit.Record", "storage", err).WithID(stream)
	}
	if err := f.Sync(); err != nil {
		return orionerr.New("audit.Record", "storage", err).WithID(stream)
	}
	return nil
}

// fileFor returns the open append-mode handle for stream, opening it
// on first use. Caller must hold s.mu.
func (s *Store) fileFor(stream string) (*os.File, error) {
	if f, ok := s.files[stream]; ok {
		return f, nil
	}
	path := filepath.Join(s.rootDir, fmt.Sprintf("%s.jsonl", stream))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, orionerr.New("audit.fileFor", "storage", err).WithID(stream)
	}
	s.files[stream] = f
	return f, nil
}

// Close releases every open file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for stream, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = orionerr.New("audit.Close", "storage", err).WithID(stream)
		}
	}
	s.files = make(map[string]*os.File)
	return firstErr
}
