package download

import "time"

// Status is the coarse state of a job or progress event.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusFinished    Status = "finished" // transfer done, post-processing running
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// Terminal reports whether no further events follow this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Job is the in-flight record of one requested download.
type Job struct {
	ID              string     `json:"id"`
	URL             string     `json:"url"`
	Options         Options    `json:"options"`
	Status          Status     `json:"status"`
	Progress        float64    `json:"progress"` // 0-100
	DownloadedBytes int64      `json:"downloaded_bytes"`
	TotalBytes      int64      `json:"total_bytes"`
	Speed           float64    `json:"speed"` // bytes per second
	ETA             int64      `json:"eta"`   // seconds
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Result describes the file a successful download produced.
type Result struct {
	FilePath   string `json:"filepath"`
	Filename   string `json:"filename"`
	Title      string `json:"title"`
	Thumbnail  string `json:"thumbnail"`
	FormatType string `json:"format_type"`
	Quality    string `json:"quality"`
}
