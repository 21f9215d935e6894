package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tubefetch/internal/download"
	"tubefetch/internal/store"
)

type downloadManager interface {
	Submit(url string, opts download.Options) (string, error)
	Status(id string) (download.Job, bool)
	Active() []download.Job
}

type eventSource interface {
	Subscribe() (<-chan download.ProgressEvent, func())
	Subscribers() int
}

// Options configures the HTTP surface.
type Options struct {
	OutputDir       string   // files outside this directory are never served
	AllowedOrigins  []string // CORS and WebSocket origins; "*" allows any
	RateLimit       int      // requests per minute per client IP; 0 disables
	HistoryPageSize int
	Version         string
	ProbeTimeout    time.Duration
}

// Server holds the dependencies shared by the handlers.
type Server struct {
	mgr     downloadManager
	prober  download.Prober
	history store.History
	events  eventSource
	opts    Options

	upgrader websocket.Upgrader
}

// New returns an http.Handler with routes and middleware wired.
func New(mgr downloadManager, prober download.Prober, hist store.History, events eventSource, opts Options) http.Handler {
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = store.DefaultListLimit
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		mgr:     mgr,
		prober:  prober,
		history: hist,
		events:  events,
		opts:    opts,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	rl := newIPRateLimiter(opts.RateLimit, time.Minute)
	mux := http.NewServeMux()

	// Routes
	mux.HandleFunc("/api/video-info", with(rl, s.handleVideoInfo))
	mux.HandleFunc("/api/download", with(rl, s.handleDownload))
	mux.HandleFunc("/api/downloads/{id}", with(rl, s.handleJobStatus))
	mux.HandleFunc("/api/downloads/{id}/file", with(rl, s.handleFile))
	mux.HandleFunc("/api/history", with(rl, s.handleHistory))
	mux.HandleFunc("/ws", s.handleWS)

	// Dashboard
	mux.HandleFunc("/{$}", with(rl, s.handleDashboard))

	// Healthcheck
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return recoverer(logger(cors(opts.AllowedOrigins, mux)))
}

// Utilities

type apiResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	DownloadID string `json:"download_id,omitempty"`
	Data       any    `json:"data,omitempty"`
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, apiResponse{Success: false, Error: kind, Message: msg})
}

// writeDomainError maps download and store errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, download.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, download.ErrExtraction):
		writeError(w, http.StatusBadRequest, "extraction_failed", err.Error())
	case errors.Is(err, download.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, download.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "queue_full", "download queue is full, try again later")
	case errors.Is(err, download.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
