package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tubefetch/internal/download"
	"tubefetch/internal/logging"
	"tubefetch/internal/ui"
)

// maxHistoryLimit caps ?limit= on the history endpoint.
const maxHistoryLimit = 1000

// flexString accepts a JSON string or number, so "720" and 720 both work.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", download.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) handleVideoInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	u, err := download.ValidateURL(req.URL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.ProbeTimeout)
	defer cancel()
	info, err := s.prober.Probe(ctx, u)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, info)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		URL          string     `json:"url"`
		Quality      flexString `json:"quality"`
		AudioOnly    bool       `json:"audio_only"`
		AudioQuality flexString `json:"audio_quality"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	u, err := download.ValidateURL(req.URL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	opts, err := download.NewOptions(string(req.Quality), req.AudioOnly, string(req.AudioQuality))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	id, err := s.mgr.Submit(u, opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "download started", DownloadID: id})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := r.PathValue("id")
	if job, ok := s.mgr.Status(id); ok {
		writeData(w, job)
		return
	}
	// Finished jobs leave the in-flight set; answer from history instead.
	rec, ok, err := s.history.FindByID(r.Context(), id)
	if err != nil {
		logging.L().Error("history lookup failed", "event", "history_lookup", "download_id", id, "error", err)
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown download id")
		return
	}
	completed := rec.CompletedAt
	writeData(w, download.Job{
		ID:          rec.ID,
		Status:      download.StatusCompleted,
		Progress:    100,
		StartedAt:   completed,
		CompletedAt: &completed,
	})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	id := r.PathValue("id")
	rec, ok, err := s.history.FindByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown download id")
		return
	}
	path, err := confine(s.opts.OutputDir, rec.FilePath)
	if err != nil {
		logging.L().Warn("refusing to serve file outside output dir", "event", "file_confined", "download_id", id, "error", err)
		writeError(w, http.StatusNotFound, "not_found", "file not available")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "file not found on disk")
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		writeError(w, http.StatusNotFound, "not_found", "file not found on disk")
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Type", contentType(name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, st.ModTime(), f)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := s.opts.HistoryPageSize
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	recs, err := s.history.List(r.Context(), limit)
	if err != nil {
		logging.L().Error("history list failed", "event", "history_list", "error", err)
		writeDomainError(w, err)
		return
	}
	writeData(w, recs)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	recs, err := s.history.List(r.Context(), s.opts.HistoryPageSize)
	if err != nil {
		logging.L().Error("history list failed", "event", "history_list", "error", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = ui.Dashboard(ui.DashboardData{
		Version: s.opts.Version,
		Jobs:    s.mgr.Active(),
		History: recs,
		Now:     time.Now(),
	}).Render(r.Context(), w)
}

// confine resolves path and reports an error unless it lies inside root.
func confine(root, path string) (string, error) {
	if root == "" || path == "" {
		return "", errors.New("empty path")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	// Resolve symlinks where possible so a link cannot point outside root.
	if p, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = p
	}
	if p, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = p
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return "", err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%s is outside %s", absPath, absRoot)
	}
	return absPath, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
