// Command tubefetch-cli downloads a single URL into ./downloads and prints
// progress to the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"tubefetch/internal/download"
	"tubefetch/internal/logging"
)

const outputDir = "downloads"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, in io.Reader, out, errOut io.Writer) int {
	level := os.Getenv("TUBEFETCH_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	logging.InitWriter(errOut, logging.ParseLevel(level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var raw string
	if len(args) > 0 {
		raw = args[0]
	} else {
		line, err := prompt(ctx, in, out)
		if err != nil {
			// EOF or interrupt at the prompt is a normal exit
			fmt.Fprintln(out)
			return 0
		}
		raw = line
	}
	if strings.TrimSpace(raw) == "" {
		fmt.Fprintln(errOut, "no URL given")
		return 1
	}
	u, err := download.ValidateURL(raw)
	if err != nil {
		fmt.Fprintf(errOut, "invalid URL: %v\n", err)
		return 1
	}
	if err := download.CheckYTDLP(""); err != nil {
		fmt.Fprintf(errOut, "yt-dlp unavailable: %v\n", err)
		return 1
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Fprintf(errOut, "create %s: %v\n", outputDir, err)
		return 1
	}

	ex := download.NewExecutor(outputDir, download.ExecutorOptions{})
	res, err := ex.Execute(ctx, "cli", u, download.DefaultOptions(), func(ev download.ProgressEvent) {
		fmt.Fprintf(out, "\r%-11s %5.1f%%  %s / %s  %s/s   ",
			ev.Status, ev.Progress,
			humanize.Bytes(uint64(max(ev.DownloadedBytes, 0))),
			humanize.Bytes(uint64(max(ev.TotalBytes, 0))),
			humanize.Bytes(uint64(max(ev.Speed, 0))))
	})
	fmt.Fprintln(out)
	if err != nil {
		var de *download.DownloadError
		if errors.As(err, &de) && de.Message != "" {
			fmt.Fprintf(errOut, "download failed: %s\n", de.Message)
		} else {
			fmt.Fprintf(errOut, "download failed: %v\n", err)
		}
		return 1
	}
	fmt.Fprintf(out, "saved %s\n", res.FilePath)
	return 0
}

// prompt reads one line from in. It returns an error on EOF or when ctx is
// cancelled first.
func prompt(ctx context.Context, in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "URL: ")
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			ch <- result{err: err}
			return
		}
		ch <- result{line: strings.TrimSpace(line)}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}
