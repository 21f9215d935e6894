package logging

import (
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

var (
	// Logger is the global structured logger instance
	Logger *slog.Logger
)

// Init initializes the global structured logger writing JSON to stdout.
func Init(level slog.Level) {
	InitWriter(os.Stdout, level)
}

// InitWriter is like Init but writes to w.
func InitWriter(w io.Writer, level slog.Level) {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Format time as ISO8601
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	Logger = slog.New(slog.NewJSONHandler(w, opts))
	slog.SetDefault(Logger)
}

// ParseLevel converts a string log level to slog.Level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the configured logger, or slog's default before Init runs.
func L() *slog.Logger {
	if Logger == nil {
		return slog.Default()
	}
	return Logger
}

// RedactURL removes secrets from URL logs while retaining debugging value.
// It strips userinfo and masks query parameter values.
func RedactURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed == nil {
		return rawURL
	}

	parsed.User = nil

	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key := range query {
			query.Set(key, "***")
		}
		parsed.RawQuery = query.Encode()
	}

	return parsed.String()
}

// LogDownloadQueued logs acceptance of a download request.
func LogDownloadQueued(downloadID, url, quality string, audioOnly bool) {
	L().Info("download queued",
		"event", "download_queued",
		"download_id", downloadID,
		"url", RedactURL(url),
		"quality", quality,
		"audio_only", audioOnly)
}

// LogDownloadStart logs the start of a download
func LogDownloadStart(downloadID, url string, worker int) {
	L().Info("download started",
		"event", "download_start",
		"download_id", downloadID,
		"worker", worker,
		"url", RedactURL(url))
}

// LogDownloadProgress logs download progress updates
func LogDownloadProgress(downloadID string, progress float64) {
	L().Debug("download progress",
		"event", "download_progress",
		"download_id", downloadID,
		"progress", progress)
}

// LogDownloadComplete logs successful download completion
func LogDownloadComplete(downloadID, filename string, elapsed time.Duration) {
	L().Info("download complete",
		"event", "download_complete",
		"download_id", downloadID,
		"filename", filename,
		"elapsed_ms", elapsed.Milliseconds())
}

// LogDownloadError logs download failures
func LogDownloadError(downloadID, msg string, err error) {
	L().Error(msg,
		"event", "download_error",
		"download_id", downloadID,
		"error", err)
}

// LogHistoryAppend logs persistence of a history record.
func LogHistoryAppend(backend, id string, err error) {
	if err != nil {
		L().Error("history append failed",
			"event", "history_append_error",
			"backend", backend,
			"id", id,
			"error", err)
		return
	}
	L().Info("history appended",
		"event", "history_append",
		"backend", backend,
		"id", id)
}

// LogMetadataFetch logs metadata fetching operations
func LogMetadataFetch(url, source string, cached bool, err error) {
	if err != nil {
		L().Warn("metadata fetch failed",
			"event", "metadata_fetch_error",
			"url", RedactURL(url),
			"source", source,
			"error", err)
		return
	}
	L().Info("metadata fetched",
		"event", "metadata_fetch",
		"url", RedactURL(url),
		"source", source,
		"cached", cached)
}

// LogYTDLPCommand logs yt-dlp command execution
func LogYTDLPCommand(id, url string, args []string, success bool) {
	event, msg := "ytdlp_start", "yt-dlp command started"
	if success {
		event, msg = "ytdlp_success", "yt-dlp command success"
	}
	// the URL is always the trailing argument and is logged redacted instead
	if n := len(args); n > 0 && args[n-1] == url {
		args = args[:n-1]
	}
	L().Info(msg,
		"event", event,
		"download_id", id,
		"url", RedactURL(url),
		"args", strings.Join(args, " "))
}

// LogProgressScanError logs progress scanning errors
func LogProgressScanError(id string, err error) {
	L().Warn("progress scan error",
		"event", "progress_scan_error",
		"download_id", id,
		"error", err)
}

// LogSubscriber logs websocket subscriber churn.
func LogSubscriber(action, remoteAddr string, active int) {
	L().Debug("subscriber "+action,
		"event", "subscriber_"+action,
		"remote_addr", remoteAddr,
		"active", active)
}

// LogHTTPRequest logs HTTP request handling
func LogHTTPRequest(method, path, remoteAddr string, duration time.Duration, status int, responseBytes int) {
	L().Info("http request",
		"event", "http_request",
		"method", method,
		"path", path,
		"remote_addr", remoteAddr,
		"duration_ms", duration.Milliseconds(),
		"status", status,
		"response_bytes", responseBytes)
}

// LogServerStart logs server startup
func LogServerStart(addr string, config map[string]any) {
	attrs := []any{
		"event", "server_start",
		"addr", addr,
	}
	for k, v := range config {
		attrs = append(attrs, k, v)
	}
	L().Info("server started", attrs...)
}

// LogServerShutdown logs server shutdown events
func LogServerShutdown(msg string, err error) {
	if err != nil {
		L().Error(msg,
			"event", "server_shutdown_error",
			"error", err)
		return
	}
	L().Info(msg, "event", "server_shutdown")
}
