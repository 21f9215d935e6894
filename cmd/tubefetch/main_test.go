package main

import (
	"io"
	"slices"
	"testing"
	"time"

	"tubefetch/internal/config"
)

func TestParseFlags_Overrides(t *testing.T) {
	cfg := config.New()
	args := []string{
		"-port", "9090",
		"-output-dir", "/tmp/media",
		"-history", "/tmp/h.json",
		"-workers", "3",
		"-timeout", "15m",
		"-allowed-origins", "https://a.example, https://b.example",
	}
	if err := parseFlags(cfg, args, io.Discard); err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Port != 9090 || cfg.OutputDir != "/tmp/media" || cfg.Workers != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.DownloadTimeout != 15*time.Minute {
		t.Fatalf("timeout=%s", cfg.DownloadTimeout)
	}
	if want := []string{"https://a.example", "https://b.example"}; !slices.Equal(cfg.AllowedOrigins, want) {
		t.Fatalf("origins=%v", cfg.AllowedOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.HistoryBackend != config.BackendJSON {
		t.Fatalf("backend should be inferred from extension, got %s", cfg.HistoryBackend)
	}
}

func TestParseFlags_KeepsDefaults(t *testing.T) {
	cfg := config.New()
	if err := parseFlags(cfg, nil, io.Discard); err != nil {
		t.Fatal(err)
	}
	def := config.New()
	if cfg.Port != def.Port || cfg.RateLimit != def.RateLimit || cfg.YTDLPPath != def.YTDLPPath {
		t.Fatalf("defaults changed: %+v", cfg)
	}
}

func TestParseFlags_Errors(t *testing.T) {
	for _, args := range [][]string{
		{"-port", "notanumber"},
		{"-unknown"},
		{"stray"},
	} {
		if err := parseFlags(config.New(), args, io.Discard); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}
