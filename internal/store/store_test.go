package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type backend struct {
	name string
	file string
	open func(path string) (History, error)
}

var backends = []backend{
	{"sqlite", "history.db", func(p string) (History, error) { return OpenSQLite(p) }},
	{"json", "history.json", func(p string) (History, error) { return OpenJSON(p) }},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b backend, path string)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b, filepath.Join(t.TempDir(), b.file))
		})
	}
}

func mustOpen(t *testing.T, b backend, path string) History {
	t.Helper()
	h, err := b.open(path)
	if err != nil {
		t.Fatalf("open %s: %v", b.name, err)
	}
	return h
}

func rec(i int) Record {
	return Record{
		ID:          fmt.Sprintf("job-%03d", i),
		Title:       fmt.Sprintf("Video %d", i),
		Filename:    fmt.Sprintf("Video %d.mp4", i),
		FilePath:    fmt.Sprintf("/downloads/Video %d.mp4", i),
		Thumbnail:   "https://i.example.com/thumb.jpg",
		FormatType:  FormatVideo,
		Quality:     "720",
		CompletedAt: time.Date(2026, 1, 2, 3, 4, 5, i*1000, time.UTC),
	}
}

func TestAppendListNewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, path string) {
		h := mustOpen(t, b, path)
		defer h.Close()
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			if err := h.Append(ctx, rec(i)); err != nil {
				t.Fatalf("Append(%d): %v", i, err)
			}
		}
		got, err := h.List(ctx, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 records, got %d", len(got))
		}
		if got[0].ID != "job-004" || got[2].ID != "job-002" {
			t.Fatalf("unexpected order: %s %s %s", got[0].ID, got[1].ID, got[2].ID)
		}

		all, err := h.List(ctx, 100)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 5 {
			t.Fatalf("expected 5 records, got %d", len(all))
		}
	})
}

func TestListDefaultLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, path string) {
		h := mustOpen(t, b, path)
		defer h.Close()
		ctx := context.Background()
		for i := 0; i < DefaultListLimit+5; i++ {
			if err := h.Append(ctx, rec(i)); err != nil {
				t.Fatal(err)
			}
		}
		got, err := h.List(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != DefaultListLimit {
			t.Fatalf("expected %d records, got %d", DefaultListLimit, len(got))
		}
	})
}

func TestRoundTripAcrossReopen(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, path string) {
		ctx := context.Background()
		h := mustOpen(t, b, path)
		want := make([]Record, 0, 4)
		for i := 0; i < 4; i++ {
			r := rec(i)
			if err := h.Append(ctx, r); err != nil {
				t.Fatal(err)
			}
			want = append([]Record{r}, want...)
		}
		if err := h.Close(); err != nil {
			t.Fatal(err)
		}

		h2 := mustOpen(t, b, path)
		defer h2.Close()
		got, err := h2.List(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(want) {
			t.Fatalf("expected %d records after reopen, got %d", len(want), len(got))
		}
		for i := range want {
			w, g := want[i], got[i]
			if !w.CompletedAt.Equal(g.CompletedAt) {
				t.Fatalf("record %d time: want %v got %v", i, w.CompletedAt, g.CompletedAt)
			}
			g.CompletedAt = w.CompletedAt
			if g != w {
				t.Fatalf("record %d: want %+v got %+v", i, w, g)
			}
		}
	})
}

func TestFindByID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, path string) {
		h := mustOpen(t, b, path)
		defer h.Close()
		ctx := context.Background()
		if err := h.Append(ctx, rec(1)); err != nil {
			t.Fatal(err)
		}
		got, ok, err := h.FindByID(ctx, "job-001")
		if err != nil || !ok {
			t.Fatalf("FindByID: ok=%v err=%v", ok, err)
		}
		if got.FilePath != "/downloads/Video 1.mp4" {
			t.Fatalf("unexpected record %+v", got)
		}
		_, ok, err = h.FindByID(ctx, "missing")
		if err != nil || ok {
			t.Fatalf("expected not found without error, ok=%v err=%v", ok, err)
		}
	})
}

func TestAppendRejectsDuplicateAndEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, path string) {
		h := mustOpen(t, b, path)
		defer h.Close()
		ctx := context.Background()
		if err := h.Append(ctx, rec(1)); err != nil {
			t.Fatal(err)
		}
		if err := h.Append(ctx, rec(1)); !errors.Is(err, ErrDuplicateID) {
			t.Fatalf("expected ErrDuplicateID, got %v", err)
		}
		if err := h.Append(ctx, Record{}); !errors.Is(err, ErrEmptyID) {
			t.Fatalf("expected ErrEmptyID, got %v", err)
		}
		got, _ := h.List(ctx, 10)
		if len(got) != 1 {
			t.Fatalf("rejected appends must not change history, got %d records", len(got))
		}
	})
}

func TestConcurrentAppends(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, path string) {
		h := mustOpen(t, b, path)
		ctx := context.Background()

		const n = 40
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- h.Append(ctx, rec(i))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent append: %v", err)
			}
		}
		h.Close()

		// reopen to make sure the persisted encoding is intact
		h2 := mustOpen(t, b, path)
		defer h2.Close()
		got, err := h2.List(ctx, 1000)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != n {
			t.Fatalf("expected %d records, got %d", n, len(got))
		}
		seen := map[string]bool{}
		for _, r := range got {
			if seen[r.ID] {
				t.Fatalf("duplicate record %s", r.ID)
			}
			seen[r.ID] = true
		}
	})
}

func TestOpenJSON_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenJSON(path); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "{not json" {
		t.Fatalf("corrupt file must be left untouched, got %q", b)
	}
}

func TestJSONStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	h, err := OpenJSON(filepath.Join(dir, "history.json"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := h.Append(context.Background(), rec(i)); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "history.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only history.json, got %v", names)
	}
}

func TestOpenSQLite_MigratesQualityColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(`CREATE TABLE history (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    title TEXT, filename TEXT, filepath TEXT, thumbnail TEXT, format_type TEXT,
    completed_at TEXT NOT NULL)`)
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite on old schema: %v", err)
	}
	defer s.Close()
	has, err := hasColumn(s.db, "history", "quality")
	if err != nil || !has {
		t.Fatalf("expected quality column after migration, has=%v err=%v", has, err)
	}
	if err := s.Append(context.Background(), rec(1)); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count(context.Background()); n != 1 {
		t.Fatalf("expected 1 record, got %d", n)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open("redis", filepath.Join(t.TempDir(), "x")); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
