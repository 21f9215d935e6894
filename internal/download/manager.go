package download

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"tubefetch/internal/logging"
	"tubefetch/internal/store"
)

// Runner performs one download. *Executor is the production implementation.
type Runner interface {
	Execute(ctx context.Context, id, url string, opts Options, onProgress ProgressFunc) (Result, error)
}

// ManagerOptions configures the worker pool.
type ManagerOptions struct {
	Workers  int
	QueueCap int
	// Timeout bounds each job; zero disables it.
	Timeout time.Duration
	// HistoryBackend is only used to label log lines.
	HistoryBackend string
}

// historyWriteTimeout bounds a single history append after a download finished.
const historyWriteTimeout = 30 * time.Second

// Manager runs downloads on a bounded worker pool. It owns the lifecycle of
// every job: progress goes through the Registry and out through the Relay,
// and successful downloads are appended to History before they leave the
// in-flight set.
type Manager struct {
	runner  Runner
	reg     *Registry
	relay   *Relay
	history store.History
	opts    ManagerOptions

	jobs chan Job
	wg   sync.WaitGroup

	// mu orders queue sends against close(jobs)
	mu        sync.RWMutex
	closing   atomic.Bool
	closeOnce sync.Once

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewManager starts opts.Workers workers. Registry, Relay and History are
// shared with the HTTP layer and must outlive the Manager.
func NewManager(runner Runner, reg *Registry, relay *Relay, hist store.History, opts ManagerOptions) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = max(runtime.NumCPU(), 1)
	}
	if opts.QueueCap <= 0 {
		opts.QueueCap = 64
	}
	if opts.Timeout < 0 {
		opts.Timeout = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		runner:  runner,
		reg:     reg,
		relay:   relay,
		history: hist,
		opts:    opts,
		jobs:    make(chan Job, opts.QueueCap),
		baseCtx: ctx,
		cancel:  cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	return m
}

// Submit registers a job for url and queues it. It returns the job id.
func (m *Manager) Submit(url string, opts Options) (string, error) {
	if m.closing.Load() {
		return "", ErrShuttingDown
	}
	j, err := m.reg.Create(url, opts)
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closing.Load() {
		m.reg.Remove(j.ID)
		return "", ErrShuttingDown
	}
	select {
	case m.jobs <- j:
	default:
		m.reg.Remove(j.ID)
		return "", ErrQueueFull
	}
	logging.LogDownloadQueued(j.ID, url, string(opts.Quality), opts.AudioOnly)
	m.relay.Publish(ProgressEvent{DownloadID: j.ID, Status: StatusDownloading, Message: "queued"})
	return j.ID, nil
}

// Status returns the in-flight job with the given id.
func (m *Manager) Status(id string) (Job, bool) { return m.reg.Get(id) }

// Active returns copies of all in-flight jobs, oldest first.
func (m *Manager) Active() []Job { return m.reg.Snapshot() }

// StopAccepting makes Submit fail with ErrShuttingDown; queued jobs still run.
func (m *Manager) StopAccepting() { m.closing.Store(true) }

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. When ctx is done first, running jobs are cancelled, failed with the
// context error, and Shutdown returns ctx.Err() once workers exit.
// Safe to call multiple times.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closing.Store(true)
		close(m.jobs)
		m.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) worker(idx int) {
	defer m.wg.Done()
	for j := range m.jobs {
		m.process(idx, j)
	}
}

func (m *Manager) jobContext() (context.Context, context.CancelFunc) {
	if m.opts.Timeout > 0 {
		return context.WithTimeout(m.baseCtx, m.opts.Timeout)
	}
	return context.WithCancel(m.baseCtx)
}

func (m *Manager) process(idx int, j Job) {
	defer func() {
		if r := recover(); r != nil {
			m.fail(j.ID, fmt.Errorf("internal error: %v", r))
		}
	}()

	ctx, cancel := m.jobContext()
	defer cancel()
	if err := ctx.Err(); err != nil {
		m.fail(j.ID, err)
		return
	}

	logging.LogDownloadStart(j.ID, j.URL, idx)
	start := time.Now()
	res, err := m.runner.Execute(ctx, j.ID, j.URL, j.Options, func(ev ProgressEvent) {
		m.observe(j.ID, ev)
	})
	if err != nil {
		m.fail(j.ID, err)
		return
	}
	m.complete(j, res, start)
}

func (m *Manager) observe(id string, ev ProgressEvent) {
	out, err := m.reg.Observe(id, ev)
	if err != nil {
		return
	}
	logging.LogDownloadProgress(id, out.Progress)
	m.relay.Publish(out)
}

func (m *Manager) complete(j Job, res Result, start time.Time) {
	rec := store.Record{
		ID:          j.ID,
		Title:       res.Title,
		Filename:    res.Filename,
		FilePath:    res.FilePath,
		Thumbnail:   res.Thumbnail,
		FormatType:  res.FormatType,
		Quality:     res.Quality,
		CompletedAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	err := m.history.Append(ctx, rec)
	cancel()
	logging.LogHistoryAppend(m.opts.HistoryBackend, j.ID, err)
	if err != nil {
		m.fail(j.ID, fmt.Errorf("record history: %w", err))
		return
	}

	if _, ok := m.reg.Complete(j.ID, res); !ok {
		return
	}
	logging.LogDownloadComplete(j.ID, res.Filename, time.Since(start))
	result := res
	m.relay.Publish(ProgressEvent{
		DownloadID: j.ID,
		Status:     StatusCompleted,
		Progress:   100,
		Message:    "download completed",
		Result:     &result,
	})
}

func (m *Manager) fail(id string, err error) {
	msg := errorMessage(err)
	final, ok := m.reg.Fail(id, msg)
	if !ok {
		return
	}
	logging.LogDownloadError(id, msg, err)
	m.relay.Publish(ProgressEvent{
		DownloadID:      id,
		Status:          StatusError,
		Progress:        final.Progress,
		DownloadedBytes: final.DownloadedBytes,
		TotalBytes:      final.TotalBytes,
		Error:           msg,
	})
}

// errorMessage renders err for subscribers and job status.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "download timed out"
	case errors.Is(err, context.Canceled):
		return "download cancelled"
	}
	var de *DownloadError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}
