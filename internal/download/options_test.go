package download

import (
	"errors"
	"strings"
	"testing"
)

func containsSeq(args []string, seq ...string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		match := true
		for j := range seq {
			if args[i+j] != seq[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestParseQuality(t *testing.T) {
	tests := []struct {
		in      string
		want    Quality
		wantErr bool
	}{
		{"", QualityBest, false},
		{"best", QualityBest, false},
		{"BEST", QualityBest, false},
		{"720", "720", false},
		{"1080p", "1080", false},
		{" 480 ", "480", false},
		{"0", "", true},
		{"-1", "", true},
		{"99999", "", true},
		{"hd", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseQuality(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParseQuality(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestParseAudioBitrate(t *testing.T) {
	for in, want := range map[string]AudioBitrate{"": Bitrate192, "320": Bitrate320, "128k": Bitrate128, "192kbps": Bitrate192} {
		got, err := ParseAudioBitrate(in)
		if err != nil || got != want {
			t.Errorf("ParseAudioBitrate(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseAudioBitrate("256"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for 256, got %v", err)
	}
}

func TestFormatArgs_Video720(t *testing.T) {
	opts, err := NewOptions("720", false, "")
	if err != nil {
		t.Fatal(err)
	}
	args := opts.formatArgs()
	if !containsSeq(args, "-f", "bestvideo[height<=720]+bestaudio/best[height<=720]") {
		t.Fatalf("missing 720p selector: %v", args)
	}
	if !containsSeq(args, "--merge-output-format", "mp4") {
		t.Fatalf("missing mp4 merge container: %v", args)
	}
}

func TestFormatArgs_VideoBest(t *testing.T) {
	args := DefaultOptions().formatArgs()
	if !containsSeq(args, "-f", "bestvideo+bestaudio/best", "--merge-output-format", "mp4") {
		t.Fatalf("unexpected best args: %v", args)
	}
}

func TestFormatArgs_Audio128(t *testing.T) {
	opts, err := NewOptions("best", true, "128")
	if err != nil {
		t.Fatal(err)
	}
	args := opts.formatArgs()
	if !containsSeq(args, "--extract-audio", "--audio-format", "mp3", "--audio-quality", "128K") {
		t.Fatalf("unexpected audio args: %v", args)
	}
	if containsSeq(args, "--merge-output-format") {
		t.Fatalf("audio-only must not set a merge container: %v", args)
	}
	if opts.FormatType() != "audio" || opts.Extension() != ".mp3" {
		t.Fatalf("unexpected format type %q / extension %q", opts.FormatType(), opts.Extension())
	}
}

func TestBuildArgs_URLLastAfterSeparator(t *testing.T) {
	e := NewExecutor("/out", ExecutorOptions{ExtraArgs: []string{"--embed-metadata"}})
	url := "https://example.com/watch?v=-abc"
	args := e.buildArgs(url, DefaultOptions())

	n := len(args)
	if args[n-2] != "--" || args[n-1] != url {
		t.Fatalf("url must follow --, got tail %v", args[n-2:])
	}
	if !containsSeq(args, "--no-playlist") || !containsSeq(args, "--embed-metadata") {
		t.Fatalf("missing flags: %v", args)
	}
	if !containsSeq(args, "--output", "/out/"+DefaultOutputTemplate) {
		t.Fatalf("missing output template: %v", args)
	}
	var tpl string
	for i, a := range args {
		if a == "--progress-template" {
			tpl = args[i+1]
		}
	}
	if !strings.HasPrefix(tpl, "download:"+progressPrefix) {
		t.Fatalf("unexpected progress template %q", tpl)
	}
}
