package store

import (
	"context"
	"strings"
	"time"
)

// Format types recorded for a completed download.
const (
	FormatAudio = "audio"
	FormatVideo = "video"
)

// Record is one completed download. Records are immutable once appended.
type Record struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Filename    string    `json:"filename"`
	FilePath    string    `json:"filepath"`
	Thumbnail   string    `json:"thumbnail"`
	FormatType  string    `json:"format_type"`
	Quality     string    `json:"quality"`
	CompletedAt time.Time `json:"completed_at"`
}

// History is an append-only, newest-first sequence of records.
type History interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, limit int) ([]Record, error)
	FindByID(ctx context.Context, id string) (Record, bool, error)
	Close() error
}

// DefaultListLimit is used when List is called with a non-positive limit.
const DefaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

func validate(rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return ErrEmptyID
	}
	return nil
}
