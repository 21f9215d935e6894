package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/download"
	"tubefetch/internal/logging"
	"tubefetch/internal/server"
	"tubefetch/internal/store"
)

// shutdownGrace bounds how long in-flight downloads may keep running after a signal.
const shutdownGrace = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tubefetch: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg := config.New()
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	if err := parseFlags(cfg, args, os.Stderr); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ResolveOutputDir(); err != nil {
		return err
	}
	if err := cfg.ResolveHistoryPath(); err != nil {
		return err
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel))
	logging.L().Debug("configuration loaded", "event", "config", "config", cfg.String())

	if err := os.MkdirAll(cfg.AbsOutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	// Check yt-dlp presence early.
	if err := download.CheckYTDLP(cfg.YTDLPPath); err != nil {
		return err
	}

	hist, err := store.Open(cfg.HistoryBackend, cfg.AbsHistoryPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}

	reg := download.NewRegistry(cfg.QueueCap)
	relay := download.NewRelay(0, 0)
	executor := download.NewExecutor(cfg.AbsOutputDir, download.ExecutorOptions{Binary: cfg.YTDLPPath})
	prober := download.NewCachedProber(
		download.ChainProber{}.
			With("youtube", download.NewYouTubeProber(30*time.Second)).
			With("yt-dlp", download.YTDLPProber{Binary: cfg.YTDLPPath}),
		cfg.MetadataCacheSize, cfg.MetadataCacheTTL)

	mgr := download.NewManager(executor, reg, relay, hist, download.ManagerOptions{
		Workers:        cfg.Workers,
		QueueCap:       cfg.QueueCap,
		Timeout:        cfg.DownloadTimeout,
		HistoryBackend: cfg.HistoryBackend,
	})

	handler := server.New(mgr, prober, hist, relay, server.Options{
		OutputDir:       cfg.AbsOutputDir,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimit:       cfg.RateLimit,
		HistoryPageSize: cfg.HistoryPageSize,
		Version:         cfg.Version,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // file downloads and /ws stream for a long time
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.LogServerStart(cfg.Addr, cfg.Summary())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	var runErr error
	select {
	case <-sigCtx.Done():
		logging.LogServerShutdown("shutdown signal received, draining", nil)
	case err := <-serveErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	mgr.StopAccepting()
	if err := srv.Shutdown(ctx); err != nil {
		logging.LogServerShutdown("http shutdown", err)
	}
	if err := mgr.Shutdown(ctx); err != nil {
		logging.LogServerShutdown("downloads cancelled at shutdown", err)
	}
	// Close the relay after the manager so terminal events reach subscribers.
	relay.Close()
	logging.L().Info("relay closed", "event", "relay_close", "dropped_events", relay.Dropped())
	if err := hist.Close(); err != nil {
		logging.LogServerShutdown("close history", err)
	}
	logging.LogServerShutdown("shutdown complete", nil)
	return runErr
}

// parseFlags overrides cfg with command line flags. Flags win over the
// environment, which wins over defaults.
func parseFlags(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("tubefetch", flag.ContinueOnError)
	fs.SetOutput(out)

	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host address to bind")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Server port")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for downloaded files")
	fs.StringVar(&cfg.HistoryPath, "history", cfg.HistoryPath, "Path to the history file (default: OS cache dir)")
	fs.StringVar(&cfg.HistoryBackend, "history-backend", cfg.HistoryBackend, "History backend: sqlite|json (default: from file extension)")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of concurrent download workers")
	fs.IntVar(&cfg.QueueCap, "queue", cfg.QueueCap, "Download queue capacity")
	fs.DurationVar(&cfg.DownloadTimeout, "timeout", cfg.DownloadTimeout, "Per-download timeout, 0 disables")
	fs.IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Requests per minute per client IP, 0 disables")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.YTDLPPath, "yt-dlp", cfg.YTDLPPath, "yt-dlp binary")
	origins := fs.String("allowed-origins", "", "Comma separated CORS origins (default: any)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if *origins != "" {
		cfg.AllowedOrigins = config.SplitList(*origins)
	}
	return nil
}
