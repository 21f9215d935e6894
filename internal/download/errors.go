package download

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidInput indicates a malformed or unsupported URL or option
	ErrInvalidInput = errors.New("invalid_input")

	// ErrExtraction indicates the extraction tool could not read metadata or streams
	ErrExtraction = errors.New("extraction_failed")

	// ErrDownload indicates the transfer or merge failed mid-process
	ErrDownload = errors.New("download_failed")

	// ErrNotFound indicates an unknown job id or a missing file
	ErrNotFound = errors.New("not_found")

	// ErrQueueFull indicates the download queue is at capacity
	ErrQueueFull = errors.New("queue_full")

	// ErrShuttingDown indicates the manager is no longer accepting new downloads
	ErrShuttingDown = errors.New("shutting_down")

	// ErrNoMediaInfo indicates metadata extraction produced no results
	ErrNoMediaInfo = errors.New("no_media_info")
)

// DownloadError carries the extraction tool's message for a failed download.
// It matches ErrDownload with errors.Is.
type DownloadError struct {
	URL     string
	Message string // tail of the tool's stderr, may be empty
	Err     error  // underlying process or context error
}

func (e *DownloadError) Error() string {
	var b strings.Builder
	b.WriteString("download failed")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *DownloadError) Unwrap() error { return e.Err }

func (e *DownloadError) Is(target error) bool { return target == ErrDownload }
