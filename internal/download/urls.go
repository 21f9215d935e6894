package download

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// maxURLLength bounds request URLs; anything longer is not a real media page.
const maxURLLength = 2048

// ValidateURL checks that raw is an absolute http(s) URL with a host.
// It returns the trimmed URL.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	if len(raw) > maxURLLength {
		return "", fmt.Errorf("%w: url too long", ErrInvalidInput)
	}
	if strings.IndexFunc(raw, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("%w: url contains control characters", ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidInput, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: url has no host", ErrInvalidInput)
	}
	return raw, nil
}

// isYouTubeHost reports whether u points at a YouTube watch or short link.
func isYouTubeHost(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be", "youtube-nocookie.com":
		return true
	}
	return false
}
