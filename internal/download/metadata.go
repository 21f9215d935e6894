package download

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kkdai/youtube/v2"

	"tubefetch/internal/logging"
)

const (
	unknownTitle    = "Unknown Title"
	unknownUploader = "Unknown"

	maxDescriptionRunes = 200
)

// VideoInfo is the metadata shown before a download is started.
type VideoInfo struct {
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	Duration    int64  `json:"duration"` // seconds
	Uploader    string `json:"uploader"`
	Description string `json:"description"`
	ViewCount   int64  `json:"view_count"`
}

// Prober fetches metadata for a URL without downloading it.
type Prober interface {
	Probe(ctx context.Context, url string) (VideoInfo, error)
}

// errNotApplicable tells a ChainProber to move on to the next prober.
var errNotApplicable = errors.New("prober does not handle this url")

func normalizeInfo(info VideoInfo) VideoInfo {
	if strings.TrimSpace(info.Title) == "" {
		info.Title = unknownTitle
	}
	if strings.TrimSpace(info.Uploader) == "" {
		info.Uploader = unknownUploader
	}
	if r := []rune(info.Description); len(r) > maxDescriptionRunes {
		info.Description = string(r[:maxDescriptionRunes])
	}
	if info.Duration < 0 {
		info.Duration = 0
	}
	if info.ViewCount < 0 {
		info.ViewCount = 0
	}
	return info
}

// YTDLPProber reads metadata with `yt-dlp -j`.
type YTDLPProber struct {
	Binary string
}

// Probe runs yt-dlp in JSON dump mode and returns the first parsed entry.
func (p YTDLPProber) Probe(ctx context.Context, url string) (VideoInfo, error) {
	bin := p.Binary
	if bin == "" {
		bin = "yt-dlp"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-j", "--no-playlist", "--", url)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return VideoInfo{}, fmt.Errorf("%w: %w", ErrExtraction, ctxErr)
		}
		msg := tailString(stderr.String(), 512)
		if strings.Contains(msg, "Unsupported URL") || strings.Contains(msg, "is not a valid URL") {
			return VideoInfo{}, fmt.Errorf("%w: %s", ErrInvalidInput, msg)
		}
		if msg == "" {
			msg = err.Error()
		}
		return VideoInfo{}, fmt.Errorf("%w: %s", ErrExtraction, msg)
	}
	return parseInfoJSON(stdout.Bytes())
}

// parseInfoJSON decodes the first JSON object in yt-dlp -j output.
// Parsed generically to allow missing fields.
func parseInfoJSON(out []byte) (VideoInfo, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		ln := strings.TrimSpace(sc.Text())
		if ln == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(ln), &m); err != nil {
			continue
		}
		info := VideoInfo{
			Title:       stringField(m, "title"),
			Thumbnail:   stringField(m, "thumbnail"),
			Duration:    int64(numberField(m, "duration")),
			Uploader:    stringField(m, "uploader"),
			Description: stringField(m, "description"),
			ViewCount:   int64(numberField(m, "view_count")),
		}
		if info.Thumbnail == "" {
			if arr, ok := m["thumbnails"].([]any); ok && len(arr) > 0 {
				// yt-dlp sorts thumbnails by preference, best last
				if obj, ok := arr[len(arr)-1].(map[string]any); ok {
					info.Thumbnail = stringField(obj, "url")
				}
			}
		}
		return normalizeInfo(info), nil
	}
	if err := sc.Err(); err != nil {
		return VideoInfo{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return VideoInfo{}, fmt.Errorf("%w: %w", ErrExtraction, ErrNoMediaInfo)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func numberField(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}

// YouTubeProber reads YouTube metadata directly from the player API,
// avoiding a subprocess. Other hosts are left to the next prober.
type YouTubeProber struct {
	Client *youtube.Client
}

// NewYouTubeProber creates a prober whose requests time out after timeout.
func NewYouTubeProber(timeout time.Duration) *YouTubeProber {
	return &YouTubeProber{Client: &youtube.Client{HTTPClient: &http.Client{Timeout: timeout}}}
}

// Probe fetches metadata for YouTube URLs.
func (p *YouTubeProber) Probe(ctx context.Context, url string) (VideoInfo, error) {
	if !isYouTubeHost(url) {
		return VideoInfo{}, errNotApplicable
	}
	client := p.Client
	if client == nil {
		client = &youtube.Client{}
	}
	video, err := client.GetVideoContext(ctx, url)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("%w: youtube: %v", ErrExtraction, err)
	}
	info := VideoInfo{
		Title:       video.Title,
		Duration:    int64(video.Duration / time.Second),
		Uploader:    video.Author,
		Description: video.Description,
		ViewCount:   int64(video.Views),
	}
	bestWidth := -1
	for _, th := range video.Thumbnails {
		if w := int(th.Width); w > bestWidth {
			info.Thumbnail, bestWidth = th.URL, w
		}
	}
	return normalizeInfo(info), nil
}

// ChainProber tries each prober in order and returns the first success.
// ErrInvalidInput stops the chain; other failures fall through.
type ChainProber []namedProber

type namedProber struct {
	name string
	p    Prober
}

// With appends a prober to the chain; name is used in logs.
func (c ChainProber) With(name string, p Prober) ChainProber {
	return append(c, namedProber{name: name, p: p})
}

// Probe implements Prober.
func (c ChainProber) Probe(ctx context.Context, url string) (VideoInfo, error) {
	var lastErr error
	for _, np := range c {
		info, err := np.p.Probe(ctx, url)
		if errors.Is(err, errNotApplicable) {
			continue
		}
		logging.LogMetadataFetch(url, np.name, false, err)
		if err == nil {
			return info, nil
		}
		if errors.Is(err, ErrInvalidInput) {
			return VideoInfo{}, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %w", ErrExtraction, ErrNoMediaInfo)
	}
	return VideoInfo{}, lastErr
}

// CachedProber memoises successful probes for a bounded time.
type CachedProber struct {
	next  Prober
	cache *expirable.LRU[string, VideoInfo]
}

// NewCachedProber wraps next with an LRU of size entries that expire after ttl.
func NewCachedProber(next Prober, size int, ttl time.Duration) *CachedProber {
	if size <= 0 {
		size = 256
	}
	return &CachedProber{next: next, cache: expirable.NewLRU[string, VideoInfo](size, nil, ttl)}
}

// Probe implements Prober.
func (c *CachedProber) Probe(ctx context.Context, url string) (VideoInfo, error) {
	if info, ok := c.cache.Get(url); ok {
		logging.LogMetadataFetch(url, "cache", true, nil)
		return info, nil
	}
	info, err := c.next.Probe(ctx, url)
	if err != nil {
		return VideoInfo{}, err
	}
	c.cache.Add(url, info)
	return info, nil
}

// Len returns the number of cached entries.
func (c *CachedProber) Len() int { return c.cache.Len() }
