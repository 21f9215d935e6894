package download

import (
	"fmt"
	"strconv"
	"strings"
)

// Quality is either QualityBest or a maximum vertical resolution such as "720".
type Quality string

// QualityBest selects the best available video and audio streams.
const QualityBest Quality = "best"

// maxHeight bounds numeric qualities to something a real stream could have.
const maxHeight = 4320

// ParseQuality accepts "best", a bare height ("720") or a height with a "p"
// suffix ("720p"). An empty string means best.
func ParseQuality(s string) (Quality, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == string(QualityBest) {
		return QualityBest, nil
	}
	s = strings.TrimSuffix(s, "p")
	h, err := strconv.Atoi(s)
	if err != nil || h <= 0 || h > maxHeight {
		return "", fmt.Errorf("%w: quality %q", ErrInvalidInput, s)
	}
	return Quality(strconv.Itoa(h)), nil
}

// Height returns the numeric height limit, or false for QualityBest.
func (q Quality) Height() (int, bool) {
	if q == QualityBest || q == "" {
		return 0, false
	}
	h, err := strconv.Atoi(string(q))
	if err != nil {
		return 0, false
	}
	return h, true
}

// AudioBitrate is the target bitrate in kbps for audio-only downloads.
type AudioBitrate string

const (
	Bitrate320 AudioBitrate = "320"
	Bitrate192 AudioBitrate = "192"
	Bitrate128 AudioBitrate = "128"
)

// DefaultAudioBitrate is used when a request leaves the bitrate empty.
const DefaultAudioBitrate = Bitrate192

// AudioCodec is the fixed codec audio-only downloads are transcoded to.
const AudioCodec = "mp3"

// MergeContainer is the container merged video downloads are written to.
const MergeContainer = "mp4"

// ParseAudioBitrate accepts one of 320, 192 or 128, with an optional "k" suffix.
func ParseAudioBitrate(s string) (AudioBitrate, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultAudioBitrate, nil
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "kbps"), "k")
	switch b := AudioBitrate(s); b {
	case Bitrate320, Bitrate192, Bitrate128:
		return b, nil
	}
	return "", fmt.Errorf("%w: audio bitrate %q (must be 320, 192 or 128)", ErrInvalidInput, s)
}

// Options are the per-request download parameters.
type Options struct {
	Quality      Quality      `json:"quality"`
	AudioOnly    bool         `json:"audio_only"`
	AudioBitrate AudioBitrate `json:"audio_quality"`
}

// NewOptions parses raw request values into Options.
func NewOptions(quality string, audioOnly bool, bitrate string) (Options, error) {
	q, err := ParseQuality(quality)
	if err != nil {
		return Options{}, err
	}
	b, err := ParseAudioBitrate(bitrate)
	if err != nil {
		return Options{}, err
	}
	return Options{Quality: q, AudioOnly: audioOnly, AudioBitrate: b}, nil
}

// DefaultOptions downloads the best video and audio merged to mp4.
func DefaultOptions() Options {
	return Options{Quality: QualityBest, AudioBitrate: DefaultAudioBitrate}
}

// FormatType reports "audio" or "video".
func (o Options) FormatType() string {
	if o.AudioOnly {
		return "audio"
	}
	return "video"
}

// Extension is the file extension the final output is expected to carry.
func (o Options) Extension() string {
	if o.AudioOnly {
		return "." + AudioCodec
	}
	return "." + MergeContainer
}

// formatArgs returns the yt-dlp stream selection and post-processing flags.
func (o Options) formatArgs() []string {
	if o.AudioOnly {
		bitrate := o.AudioBitrate
		if bitrate == "" {
			bitrate = DefaultAudioBitrate
		}
		return []string{
			"-f", "bestaudio/best",
			"--extract-audio",
			"--audio-format", AudioCodec,
			"--audio-quality", string(bitrate) + "K",
		}
	}
	format := "bestvideo+bestaudio/best"
	if h, ok := o.Quality.Height(); ok {
		format = fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", h, h)
	}
	return []string{"-f", format, "--merge-output-format", MergeContainer}
}
