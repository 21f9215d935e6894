package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// JSONStore keeps history as a JSON array in a single file, newest first.
// Every append rewrites the whole file through a temp file and rename, so a
// crash leaves either the old or the new document on disk.
type JSONStore struct {
	path string

	mu      sync.Mutex
	records []Record
	index   map[string]int // id -> position at load time, rebuilt on append
}

var _ History = (*JSONStore)(nil)

// OpenJSON loads the history file at path, creating an empty history if the
// file does not exist. A file that cannot be decoded is reported as ErrCorrupt
// and left untouched.
func OpenJSON(path string) (*JSONStore, error) {
	s := &JSONStore{path: path, index: map[string]int{}}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	s.reindex()
	return s, nil
}

func (s *JSONStore) reindex() {
	s.index = make(map[string]int, len(s.records))
	for i, r := range s.records {
		s.index[r.ID] = i
	}
}

// Append inserts rec at the head and persists the full document before returning.
func (s *JSONStore) Append(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	next := make([]Record, 0, len(s.records)+1)
	next = append(next, rec)
	next = append(next, s.records...)
	if err := writeAtomic(s.path, next); err != nil {
		return err
	}
	s.records = next
	s.reindex()
	return nil
}

// List returns at most limit records, newest first.
func (s *JSONStore) List(_ context.Context, limit int) ([]Record, error) {
	limit = normalizeLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]Record, limit)
	copy(out, s.records[:limit])
	return out, nil
}

// FindByID returns the record stored for a job id.
func (s *JSONStore) FindByID(_ context.Context, id string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return Record{}, false, nil
	}
	return s.records[i], true, nil
}

// Close is a no-op; every append is already on disk.
func (s *JSONStore) Close() error { return nil }

func writeAtomic(path string, records []Record) error {
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}
