package download

import (
	"encoding/json"
	"strings"
)

// ProgressEvent is the JSON message relayed to subscribers.
type ProgressEvent struct {
	DownloadID      string  `json:"download_id"`
	Status          Status  `json:"status"`
	Progress        float64 `json:"progress"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	Speed           float64 `json:"speed"`
	ETA             int64   `json:"eta"`
	Message         string  `json:"message,omitempty"`
	Result          *Result `json:"result,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// ProgressFunc receives progress events from a running download.
type ProgressFunc func(ProgressEvent)

// Percent returns downloaded/total*100 clamped to [0,100], or 0 when total
// is unknown or not positive.
func Percent(downloaded, total float64) float64 {
	if total <= 0 || downloaded <= 0 {
		return 0
	}
	p := downloaded / total * 100
	if p > 100 {
		return 100
	}
	return p
}

// Line prefixes the progress and completion templates emit so they can be
// told apart from the rest of yt-dlp's output.
const (
	progressPrefix = "TFPROG "
	donePrefix     = "TFDONE "
)

// ytdlpProgress mirrors the fields of yt-dlp's progress dict we use.
// Missing values decode as zero.
type ytdlpProgress struct {
	Status             string  `json:"status"`
	DownloadedBytes    float64 `json:"downloaded_bytes"`
	TotalBytes         float64 `json:"total_bytes"`
	TotalBytesEstimate float64 `json:"total_bytes_estimate"`
	Speed              float64 `json:"speed"`
	ETA                float64 `json:"eta"`
}

// parseProgressLine decodes a progress template line into an event. The
// second return is false for lines that are not progress or carry a status
// subscribers are not told about.
func parseProgressLine(line string) (ProgressEvent, bool) {
	payload, ok := strings.CutPrefix(line, progressPrefix)
	if !ok {
		return ProgressEvent{}, false
	}
	var p ytdlpProgress
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return ProgressEvent{}, false
	}
	switch Status(p.Status) {
	case StatusDownloading:
		total := p.TotalBytes
		if total <= 0 {
			total = p.TotalBytesEstimate
		}
		if total < 0 {
			total = 0
		}
		return ProgressEvent{
			Status:          StatusDownloading,
			Progress:        Percent(p.DownloadedBytes, total),
			DownloadedBytes: int64(p.DownloadedBytes),
			TotalBytes:      int64(total),
			Speed:           max(p.Speed, 0),
			ETA:             int64(max(p.ETA, 0)),
		}, true
	case StatusFinished:
		return ProgressEvent{
			Status:   StatusFinished,
			Progress: 100,
			Message:  "processing file",
		}, true
	}
	return ProgressEvent{}, false
}

// doneInfo is the after_move summary yt-dlp prints for the final file.
type doneInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
	FilePath  string `json:"filepath"`
}

func parseDoneLine(line string) (doneInfo, bool) {
	payload, ok := strings.CutPrefix(line, donePrefix)
	if !ok {
		return doneInfo{}, false
	}
	var d doneInfo
	if err := json.Unmarshal([]byte(payload), &d); err != nil || d.FilePath == "" {
		return doneInfo{}, false
	}
	return d, true
}
