package ui

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// ShortID trims a job id for display in the dashboard tables.
// Counts runes, not bytes, so multi-byte ids are cut on a character boundary.
func ShortID(id string) string {
	const maxLen = 8
	if utf8.RuneCountInString(id) <= maxLen {
		return id
	}
	count := 0
	for i := range id {
		if count == maxLen {
			return id[:i]
		}
		count++
	}
	return id
}

// TruncateWithEllipsis truncates text to maxRunes and appends an ellipsis when needed.
func TruncateWithEllipsis(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "…"
}

// FormatBytes renders a byte count such as "12 MB", or "-" when unknown.
func FormatBytes(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}

// FormatSpeed renders a transfer rate in bytes per second.
func FormatSpeed(bps float64) string {
	if bps <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(bps)) + "/s"
}

// FormatETA renders a remaining time in seconds as m:ss or h:mm:ss.
func FormatETA(seconds int64) string {
	if seconds <= 0 {
		return "-"
	}
	d := time.Duration(seconds) * time.Second
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatProgress renders a 0-100 percentage with one decimal.
func FormatProgress(p float64) string {
	switch {
	case p < 0:
		p = 0
	case p > 100:
		p = 100
	}
	return fmt.Sprintf("%.1f%%", p)
}

// FormatAgo renders t relative to now, e.g. "3 minutes ago".
func FormatAgo(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
