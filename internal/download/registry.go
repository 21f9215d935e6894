package download

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry provides thread-safe storage of in-flight jobs.
// It is a pure state container: it never runs downloads or publishes events.
// Callers always receive copies, never the stored record.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	newID func() string
	now   func() time.Time
}

// NewRegistry creates a Registry with the specified initial capacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = 128
	}
	return &Registry{
		jobs:  make(map[string]*Job, capacity),
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// Create allocates a fresh id and stores a new job in the downloading state.
func (r *Registry) Create(url string, opts Options) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id string
	for attempt := 0; ; attempt++ {
		if attempt == 8 {
			return Job{}, fmt.Errorf("allocate job id: too many collisions")
		}
		id = r.newID()
		if _, exists := r.jobs[id]; !exists && id != "" {
			break
		}
	}

	j := &Job{
		ID:        id,
		URL:       url,
		Options:   opts,
		Status:    StatusDownloading,
		StartedAt: r.now(),
	}
	r.jobs[id] = j
	return *j, nil
}

// Get returns a copy of the job with the given id.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Observe applies a progress event to the job and returns the event as it
// should be relayed. Progress never decreases (yt-dlp reports video and audio
// streams separately), and once a stream reports finished the job stays at 100.
func (r *Registry) Observe(id string, ev ProgressEvent) (ProgressEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return ProgressEvent{}, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	ev.DownloadID = id

	switch ev.Status {
	case StatusFinished:
		ev.Progress = 100
	default:
		ev.Status = StatusDownloading
		if j.Status == StatusFinished {
			// a second stream after the first one finished; hold at 100
			ev.Status = StatusFinished
		}
		if ev.Progress < j.Progress {
			ev.Progress = j.Progress
		}
	}

	j.Status = ev.Status
	j.Progress = ev.Progress
	if ev.DownloadedBytes > 0 {
		j.DownloadedBytes = ev.DownloadedBytes
	}
	if ev.TotalBytes > 0 {
		j.TotalBytes = ev.TotalBytes
	}
	j.Speed = ev.Speed
	j.ETA = ev.ETA
	return ev, nil
}

// Complete marks the job completed, removes it from the in-flight set and
// returns the final copy.
func (r *Registry) Complete(id string, _ Result) (Job, bool) {
	return r.finish(id, StatusCompleted, "")
}

// Fail marks the job as failed with msg, removes it from the in-flight set and
// returns the final copy.
func (r *Registry) Fail(id string, msg string) (Job, bool) {
	return r.finish(id, StatusError, msg)
}

func (r *Registry) finish(id string, status Status, msg string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	now := r.now()
	j.Status = status
	j.Error = msg
	j.CompletedAt = &now
	if status == StatusCompleted {
		j.Progress = 100
	}
	delete(r.jobs, id)
	return *j, true
}

// Remove drops a job without marking it; used when a job never started.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; ok {
		delete(r.jobs, id)
		return true
	}
	return false
}

// Snapshot returns copies of all in-flight jobs, oldest first.
func (r *Registry) Snapshot() []Job {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].StartedAt.Equal(out[b].StartedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].StartedAt.Before(out[b].StartedAt)
	})
	return out
}

// Size returns the number of in-flight jobs.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
