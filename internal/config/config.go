package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable the config reads.
const EnvPrefix = "TUBEFETCH_"

// History backends.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// Config holds all configuration for the tubefetch server
type Config struct {
	// Server configuration
	Host           string
	Port           int
	Addr           string // computed from Host:Port
	AllowedOrigins []string
	RateLimit      int // requests per minute per client IP, 0 disables

	// File system
	OutputDir      string // user-provided
	AbsOutputDir   string // resolved/absolute path
	HistoryPath    string // user-provided
	AbsHistoryPath string // resolved/absolute path
	HistoryBackend string // sqlite|json, inferred from HistoryPath when empty

	// Download behavior
	Workers         int           // concurrent workers
	QueueCap        int           // max pending jobs
	DownloadTimeout time.Duration // per job, 0 means unbounded
	HistoryPageSize int           // default page for history listings

	// Metadata probing
	MetadataCacheSize int
	MetadataCacheTTL  time.Duration

	// yt-dlp binary, looked up on PATH when bare
	YTDLPPath string

	// Logging
	LogLevel string // debug|info|warn|error

	Version   string
	StartTime time.Time
}

// New creates a Config with default values
func New() *Config {
	return &Config{
		Host:              "0.0.0.0",
		Port:              8000,
		AllowedOrigins:    []string{"*"},
		RateLimit:         120,
		OutputDir:         "downloads",
		Workers:           2,
		QueueCap:          64,
		DownloadTimeout:   2 * time.Hour,
		HistoryPageSize:   50,
		MetadataCacheSize: 256,
		MetadataCacheTTL:  10 * time.Minute,
		LogLevel:          "info",
		YTDLPPath:         "yt-dlp",
		Version:           "1.0.0",
		StartTime:         time.Now(),
	}
}

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the process environment. Missing files are skipped; variables already set
// in the environment win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	present := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat %s: %w", f, err)
		}
		present = append(present, f)
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from TUBEFETCH_* variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	get := func(key string) string { return strings.TrimSpace(getenv(EnvPrefix + key)) }

	if v := get("HOST"); v != "" {
		c.Host = v
	}
	if v := get("OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := get("HISTORY_PATH"); v != "" {
		c.HistoryPath = v
	}
	if v := get("HISTORY_BACKEND"); v != "" {
		c.HistoryBackend = v
	}
	if v := get("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := get("YTDLP_PATH"); v != "" {
		c.YTDLPPath = v
	}
	if v := get("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = SplitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PORT", &c.Port},
		{"WORKERS", &c.Workers},
		{"QUEUE", &c.QueueCap},
		{"RATE_LIMIT", &c.RateLimit},
		{"HISTORY_PAGE_SIZE", &c.HistoryPageSize},
		{"METADATA_CACHE_SIZE", &c.MetadataCacheSize},
	}
	for _, it := range ints {
		v := get(it.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, it.key, err)
		}
		*it.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DOWNLOAD_TIMEOUT", &c.DownloadTimeout},
		{"METADATA_CACHE_TTL", &c.MetadataCacheTTL},
	}
	for _, it := range durations {
		v := get(it.key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, it.key, err)
		}
		*it.dst = d
	}
	return nil
}

// Validate checks that all required configuration is present and valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}

	if c.Workers < 1 {
		c.Workers = max(runtime.NumCPU(), 1)
	}
	if c.QueueCap < 1 {
		c.QueueCap = 64
	}
	if c.HistoryPageSize < 1 {
		c.HistoryPageSize = 50
	}
	if c.DownloadTimeout < 0 {
		return fmt.Errorf("invalid download timeout: %s", c.DownloadTimeout)
	}
	if c.RateLimit < 0 {
		c.RateLimit = 0
	}

	c.HistoryBackend = strings.ToLower(strings.TrimSpace(c.HistoryBackend))
	if c.HistoryBackend == "" {
		c.HistoryBackend = inferBackend(c.HistoryPath)
	}
	if c.HistoryBackend != BackendSQLite && c.HistoryBackend != BackendJSON {
		return fmt.Errorf("invalid history backend: %s (must be sqlite|json)", c.HistoryBackend)
	}

	c.LogLevel = strings.ToLower(c.LogLevel)
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug|info|warn|error)", c.LogLevel)
	}

	c.Addr = c.ComputeAddr()
	return nil
}

// ResolveOutputDir expands the output directory path and resolves it to an absolute path
func (c *Config) ResolveOutputDir() error {
	if c.OutputDir == "" {
		c.OutputDir = "downloads"
	}
	p, err := expandHome(c.OutputDir)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("resolve absolute path for %s: %w", c.OutputDir, err)
	}
	c.AbsOutputDir = abs
	return nil
}

// ResolveHistoryPath expands the history path and resolves it to an absolute
// path. If empty, defaults to the OS cache directory with an extension
// matching the backend.
func (c *Config) ResolveHistoryPath() error {
	if c.HistoryPath == "" {
		c.HistoryPath = defaultHistoryPath(c.HistoryBackend)
	}
	p, err := expandHome(c.HistoryPath)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("resolve absolute path for %s: %w", c.HistoryPath, err)
	}
	c.AbsHistoryPath = abs
	return nil
}

// ComputeAddr returns the full server address as host:port
func (c *Config) ComputeAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// String returns a pretty-printed representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf(`Config{
  Server:
    Addr: %s
    AllowedOrigins: %s
    RateLimit: %d/min
  Files:
    OutputDir: %s (resolved: %s)
    History: %s %s (resolved: %s)
  Download:
    Workers: %d
    QueueCap: %d
    Timeout: %s
  Logging:
    LogLevel: %s
  Meta:
    Version: %s
    StartTime: %s
}`, c.Addr, strings.Join(c.AllowedOrigins, ","), c.RateLimit,
		c.OutputDir, c.AbsOutputDir,
		c.HistoryBackend, c.HistoryPath, c.AbsHistoryPath,
		c.Workers, c.QueueCap, c.DownloadTimeout,
		c.LogLevel,
		c.Version, c.StartTime.Format(time.RFC3339))
}

// Summary returns key configuration for structured startup logging
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"output_dir":       c.AbsOutputDir,
		"history_path":     c.AbsHistoryPath,
		"history_backend":  c.HistoryBackend,
		"workers":          c.Workers,
		"queue":            c.QueueCap,
		"download_timeout": c.DownloadTimeout.String(),
		"log_level":        c.LogLevel,
		"version":          c.Version,
	}
}

func inferBackend(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return BackendJSON
	}
	return BackendSQLite
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand home directory: %w", err)
	}
	if p == "~" {
		return home, nil
	}
	return filepath.Join(home, p[2:]), nil
}

// SplitList splits a comma separated list, dropping empty items.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// defaultHistoryPath returns the cross-platform default path for the history
// - Windows: %APPDATA%/tubefetch/history.<ext>
// - Linux/macOS: $HOME/.cache/tubefetch/history.<ext>
func defaultHistoryPath(backend string) string {
	name := "history.db"
	if backend == BackendJSON {
		name = "history.json"
	}
	if runtime.GOOS == "windows" {
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, "tubefetch", name)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "tubefetch", name)
	}
	return filepath.Join("tubefetch", name)
}
