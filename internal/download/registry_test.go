package download

import (
	"sync"
	"testing"
)

func TestRegistry_CreateAssignsUniqueIDs(t *testing.T) {
	reg := NewRegistry(10)

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		j, err := reg.Create("https://example.com/v", DefaultOptions())
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if j.ID == "" || seen[j.ID] {
			t.Fatalf("expected fresh id, got %q", j.ID)
		}
		seen[j.ID] = true
		if j.Status != StatusDownloading {
			t.Errorf("expected status %s, got %s", StatusDownloading, j.Status)
		}
	}
	if reg.Size() != 200 {
		t.Fatalf("expected 200 jobs, got %d", reg.Size())
	}
}

func TestRegistry_CreateRegeneratesOnCollision(t *testing.T) {
	reg := NewRegistry(1)
	ids := []string{"dup", "dup", "dup", "fresh"}
	reg.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	a, err := reg.Create("u1", DefaultOptions())
	if err != nil || a.ID != "dup" {
		t.Fatalf("first create: id=%q err=%v", a.ID, err)
	}
	b, err := reg.Create("u2", DefaultOptions())
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if b.ID != "fresh" {
		t.Fatalf("expected regenerated id, got %q", b.ID)
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	reg := NewRegistry(10)

	if _, ok := reg.Get("missing"); ok {
		t.Fatal("expected not found for unknown id")
	}

	j, _ := reg.Create("https://example.com", DefaultOptions())
	got, ok := reg.Get(j.ID)
	if !ok {
		t.Fatal("expected job")
	}
	got.Progress = 99
	again, _ := reg.Get(j.ID)
	if again.Progress != 0 {
		t.Fatalf("mutating a copy changed the registry: %v", again.Progress)
	}
}

func TestRegistry_ObserveMonotonic(t *testing.T) {
	reg := NewRegistry(10)
	j, _ := reg.Create("https://example.com", DefaultOptions())

	steps := []struct {
		in   ProgressEvent
		want float64
		st   Status
	}{
		{ProgressEvent{Status: StatusDownloading, Progress: 10}, 10, StatusDownloading},
		{ProgressEvent{Status: StatusDownloading, Progress: 55.5}, 55.5, StatusDownloading},
		// audio stream restarts at a low percentage
		{ProgressEvent{Status: StatusDownloading, Progress: 3}, 55.5, StatusDownloading},
		{ProgressEvent{Status: StatusFinished, Progress: 0}, 100, StatusFinished},
		{ProgressEvent{Status: StatusDownloading, Progress: 20}, 100, StatusFinished},
	}
	for i, s := range steps {
		out, err := reg.Observe(j.ID, s.in)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if out.Progress != s.want || out.Status != s.st {
			t.Fatalf("step %d: want %.1f/%s, got %.1f/%s", i, s.want, s.st, out.Progress, out.Status)
		}
		if out.DownloadID != j.ID {
			t.Fatalf("step %d: event not stamped with job id", i)
		}
		got, _ := reg.Get(j.ID)
		if got.Progress != s.want {
			t.Fatalf("step %d: stored progress %.1f, want %.1f", i, got.Progress, s.want)
		}
	}
}

func TestRegistry_ObserveUnknown(t *testing.T) {
	reg := NewRegistry(1)
	if _, err := reg.Observe("nope", ProgressEvent{Progress: 5}); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestRegistry_CompleteAndFailRemove(t *testing.T) {
	reg := NewRegistry(10)
	a, _ := reg.Create("a", DefaultOptions())
	b, _ := reg.Create("b", DefaultOptions())

	done, ok := reg.Complete(a.ID, Result{Filename: "a.mp4"})
	if !ok {
		t.Fatal("expected Complete to find job")
	}
	if done.Status != StatusCompleted || done.Progress != 100 || done.CompletedAt == nil {
		t.Fatalf("unexpected completed job %+v", done)
	}
	if _, ok := reg.Get(a.ID); ok {
		t.Fatal("completed job must leave the in-flight set")
	}

	failed, ok := reg.Fail(b.ID, "boom")
	if !ok || failed.Status != StatusError || failed.Error != "boom" {
		t.Fatalf("unexpected failed job %+v ok=%v", failed, ok)
	}
	if reg.Size() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Size())
	}
	if _, ok := reg.Fail(b.ID, "again"); ok {
		t.Fatal("second Fail must report not found")
	}
}

func TestRegistry_ConcurrentObserve(t *testing.T) {
	reg := NewRegistry(10)
	j, _ := reg.Create("u", DefaultOptions())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(p float64) {
			defer wg.Done()
			reg.Observe(j.ID, ProgressEvent{Status: StatusDownloading, Progress: p})
		}(float64(i))
	}
	wg.Wait()

	got, _ := reg.Get(j.ID)
	if got.Progress != 99 {
		t.Fatalf("expected max progress 99, got %.1f", got.Progress)
	}
}

func TestRegistry_SnapshotOldestFirst(t *testing.T) {
	reg := NewRegistry(10)
	var ids []string
	for i := 0; i < 5; i++ {
		j, _ := reg.Create("u", DefaultOptions())
		ids = append(ids, j.ID)
	}
	snap := reg.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].StartedAt.Before(snap[i-1].StartedAt) {
			t.Fatalf("snapshot not ordered by start time")
		}
	}
}
