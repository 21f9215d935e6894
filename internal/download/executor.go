package download

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"tubefetch/internal/logging"
)

// DefaultOutputTemplate names files after the title (capped at 200 bytes) and the media id.
const DefaultOutputTemplate = "%(title).200s-%(id)s.%(ext)s"

// ExecutorOptions tunes how yt-dlp is invoked.
type ExecutorOptions struct {
	Binary         string   // defaults to "yt-dlp" on PATH
	OutputTemplate string   // relative to the output directory
	ExtraArgs      []string // inserted before the URL
}

// Executor runs yt-dlp for a single download and reports progress.
// It encapsulates all subprocess management and output parsing.
type Executor struct {
	binary      string
	outDir      string
	outTemplate string
	extraArgs   []string
}

// NewExecutor creates an Executor writing into outDir.
func NewExecutor(outDir string, opts ExecutorOptions) *Executor {
	e := &Executor{
		binary:      opts.Binary,
		outDir:      outDir,
		outTemplate: opts.OutputTemplate,
		extraArgs:   opts.ExtraArgs,
	}
	if e.binary == "" {
		e.binary = "yt-dlp"
	}
	if e.outTemplate == "" {
		e.outTemplate = DefaultOutputTemplate
	}
	return e
}

// Execute downloads url with opts. It blocks until yt-dlp exits or ctx is
// done; onProgress is called sequentially from a single goroutine.
func (e *Executor) Execute(ctx context.Context, id, url string, opts Options, onProgress ProgressFunc) (Result, error) {
	args := e.buildArgs(url, opts)
	logging.LogYTDLPCommand(id, url, args, false)

	cmd := exec.CommandContext(ctx, e.binary, args...)
	res, err := e.run(ctx, id, cmd, opts, onProgress)
	if err != nil {
		var de *DownloadError
		if errors.As(err, &de) {
			de.URL = url
		}
		return Result{}, err
	}
	logging.LogYTDLPCommand(id, url, args, true)
	return res, nil
}

// buildArgs constructs the yt-dlp argument list; the URL is always last.
func (e *Executor) buildArgs(url string, opts Options) []string {
	args := []string{
		"--no-playlist",
		"--newline",
		"--progress",
		"--no-color",
		"--progress-template", "download:" + progressPrefix + "%(progress)j",
		"--print", "after_move:" + donePrefix + "%(.{id,title,thumbnail,filepath})j",
		"--no-simulate",
		"--output", filepath.Join(e.outDir, e.outTemplate),
	}
	args = append(args, opts.formatArgs()...)
	args = append(args, e.extraArgs...)
	return append(args, "--", url)
}

// run starts cmd and tracks its progress until it exits.
func (e *Executor) run(ctx context.Context, id string, cmd *exec.Cmd, opts Options, onProgress ProgressFunc) (Result, error) {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout: %w", err)
	}

	var stderrBuf, stdoutBuf bytes.Buffer

	if err := cmd.Start(); err != nil {
		return Result{}, &DownloadError{Message: "could not start yt-dlp", Err: err}
	}

	// Both streams feed one channel so progress is handled in order by one consumer.
	lines := make(chan string, 64)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(id, io.TeeReader(stderr, &stderrBuf), lines)
	}()
	go func() {
		defer wg.Done()
		scanLines(id, io.TeeReader(stdout, &stdoutBuf), lines)
	}()
	go func() {
		wg.Wait()
		close(lines)
	}()

	var (
		done    doneInfo
		hasDone bool
	)
	for ln := range lines {
		if d, ok := parseDoneLine(ln); ok {
			done, hasDone = d, true
			continue
		}
		if ev, ok := parseProgressLine(ln); ok && onProgress != nil {
			onProgress(ev)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return Result{}, &DownloadError{Message: tailString(stderrBuf.String(), 512), Err: err}
	}

	res := Result{FormatType: opts.FormatType(), Quality: qualityLabel(opts)}
	if hasDone {
		res.FilePath = done.FilePath
		res.Filename = filepath.Base(done.FilePath)
		res.Title = done.Title
		res.Thumbnail = done.Thumbnail
	} else {
		// Some messages go to stderr, so search the combined output.
		combined := strings.TrimSpace(stdoutBuf.String() + "\n" + stderrBuf.String())
		name := extractFilename(combined)
		if name == "" {
			return Result{}, &DownloadError{Message: "yt-dlp did not report an output file"}
		}
		name = forceExtension(name, opts.Extension())
		res.Filename = name
		res.FilePath = filepath.Join(e.outDir, name)
		res.Title = strings.TrimSuffix(name, filepath.Ext(name))
	}
	if res.Title == "" {
		res.Title = unknownTitle
	}
	return res, nil
}

func scanLines(id string, r io.Reader, out chan<- string) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), 256*1024)
	// yt-dlp often rewrites progress on the same line using carriage returns.
	sc.Split(scanCRorLF)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		out <- line
	}
	if err := sc.Err(); err != nil {
		logging.LogProgressScanError(id, err)
		// keep the pipe drained so yt-dlp never blocks on a full buffer
		_, _ = io.Copy(io.Discard, r)
	}
}

func qualityLabel(opts Options) string {
	if opts.AudioOnly {
		b := opts.AudioBitrate
		if b == "" {
			b = DefaultAudioBitrate
		}
		return string(b) + "k"
	}
	if opts.Quality == "" {
		return string(QualityBest)
	}
	return string(opts.Quality)
}

func forceExtension(name, ext string) string {
	if strings.EqualFold(filepath.Ext(name), ext) {
		return name
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}

// CheckYTDLP ensures binary is runnable and supports --progress-template.
func CheckYTDLP(binary string) error {
	if binary == "" {
		binary = "yt-dlp"
	}
	p, err := exec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("yt_dlp_not_found: %w", err)
	}
	// If the flag is not supported, yt-dlp --help will not contain it.
	out, err := exec.Command(p, "--help").CombinedOutput()
	if err != nil {
		return fmt.Errorf("yt-dlp not runnable: %w", err)
	}
	if !strings.Contains(string(out), "--progress-template") {
		return errors.New("yt_dlp_outdated: missing --progress-template support")
	}
	return nil
}

// extractFilename extracts the downloaded filename from yt-dlp output.
func extractFilename(output string) string {
	var (
		mergedName      string
		audioName       string
		alreadyDLName   string
		lastDestination string
	)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Prefer explicit final filename from merger stage.
		// [Merger] Merging formats into "Title-id.mp4"
		if strings.Contains(line, "Merging formats into") {
			if name := quotedBase(line); name != "" {
				mergedName = name
				continue
			}
		}
		// [ExtractAudio] Destination: Title-id.mp3
		if strings.HasPrefix(line, "[ExtractAudio]") && strings.Contains(line, "Destination:") {
			parts := strings.SplitN(line, "Destination:", 2)
			audioName = filepath.Base(strings.TrimSpace(parts[1]))
			continue
		}
		// [download] Title-id.mp4 has already been downloaded
		if strings.HasPrefix(line, "[download]") && strings.Contains(line, "has already been downloaded") {
			if i := strings.Index(line, "] "); i != -1 {
				rest := line[i+2:]
				if j := strings.Index(rest, " has already been downloaded"); j != -1 {
					alreadyDLName = filepath.Base(strings.TrimSpace(rest[:j]))
					continue
				}
			}
		}
		// Destination lines may be intermediate fXXX selections; keep the last one.
		if strings.Contains(line, "Destination:") {
			parts := strings.SplitN(line, "Destination:", 2)
			lastDestination = filepath.Base(strings.TrimSpace(parts[1]))
		}
	}
	switch {
	case mergedName != "":
		return mergedName
	case audioName != "":
		return audioName
	case alreadyDLName != "":
		return alreadyDLName
	default:
		return lastDestination
	}
}

// quotedBase returns the base name of the first single- or double-quoted path in line.
func quotedBase(line string) string {
	start := strings.IndexAny(line, "'\"")
	if start == -1 {
		return ""
	}
	quote := line[start]
	rest := line[start+1:]
	end := strings.IndexByte(rest, quote)
	if end == -1 {
		return ""
	}
	return filepath.Base(rest[:end])
}

// scanCRorLF is like bufio.ScanLines but treats a bare '\r' as a line
// terminator as well. It also handles CRLF and strips a trailing CR.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
		if data[i] == '\r' && i+1 == len(data) && !atEOF {
			// might be the first half of CRLF
			return 0, nil, nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailString returns the last at most n bytes of s, trimmed.
func tailString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[len(s)-n:])
}
