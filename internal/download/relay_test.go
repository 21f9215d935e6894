package download

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func recv(t *testing.T, ch <-chan ProgressEvent) ProgressEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("subscriber channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return ProgressEvent{}
}

func TestRelay_FanOut(t *testing.T) {
	r := NewRelay(16, 16)
	defer r.Close()

	a, cancelA := r.Subscribe()
	defer cancelA()
	b, cancelB := r.Subscribe()
	defer cancelB()
	waitFor(t, "two subscribers", func() bool { return r.Subscribers() == 2 })

	if !r.Publish(ProgressEvent{DownloadID: "x", Status: StatusDownloading, Progress: 12}) {
		t.Fatal("publish rejected")
	}
	if !r.Publish(ProgressEvent{DownloadID: "x", Status: StatusCompleted, Progress: 100}) {
		t.Fatal("terminal publish rejected")
	}

	for _, ch := range []<-chan ProgressEvent{a, b} {
		first := recv(t, ch)
		second := recv(t, ch)
		if first.Progress != 12 || second.Status != StatusCompleted {
			t.Fatalf("events out of order: %+v then %+v", first, second)
		}
	}
}

func TestRelay_SlowSubscriberDoesNotBlock(t *testing.T) {
	r := NewRelay(4, 1)
	defer r.Close()

	_, cancelSlow := r.Subscribe() // never read
	defer cancelSlow()
	fast, cancelFast := r.Subscribe()
	defer cancelFast()
	waitFor(t, "subscribers", func() bool { return r.Subscribers() == 2 })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			r.Publish(ProgressEvent{DownloadID: "x", Status: StatusError})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	recv(t, fast)
	if r.Dropped() == 0 {
		t.Fatal("expected dropped deliveries for the slow subscriber")
	}
}

func TestRelay_UnsubscribeIdempotent(t *testing.T) {
	r := NewRelay(4, 4)
	defer r.Close()

	ch, cancel := r.Subscribe()
	waitFor(t, "subscriber", func() bool { return r.Subscribers() == 1 })
	cancel()
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after unsubscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
	waitFor(t, "no subscribers", func() bool { return r.Subscribers() == 0 })
}

func TestRelay_CloseClosesSubscribers(t *testing.T) {
	r := NewRelay(4, 4)
	ch, cancel := r.Subscribe()
	r.Close()
	r.Close()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after Close")
	}
	if r.Publish(ProgressEvent{Status: StatusCompleted}) {
		t.Fatal("publish after Close must be rejected")
	}
	late, _ := r.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("subscribe after Close must return a closed channel")
	}
}
