// Command spolademo exercises the buffering layer end to end. In live mode
// it fills a rolling buffer from a telemetry stream and prints the trailing
// window once a second. In replay mode it pages a recording through the
// replay cache while the playback clock advances.
//
// Without a backend_url both modes run against a synthetic lap generator,
// so the demo works with nothing else running.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alesr/spola"
	"github.com/alesr/spola/backend"
	"github.com/alesr/spola/demo"
	"github.com/alesr/spola/replaycache"
	slogmulti "github.com/samber/slog-multi"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mask := spola.AllFields()
	if len(cfg.Fields) > 0 {
		mask = spola.NewFieldMask(cfg.Fields...)
	}

	switch cfg.Mode {
	case "live":
		err = runLive(ctx, cfg, logger, mask)
	case "replay":
		err = runReplay(ctx, cfg, logger, mask)
	}
	if err != nil && ctx.Err() == nil {
		logger.Error("demo failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}

// newLogger fans log records out to the terminal and, when configured, a
// JSON log file.
func newLogger(cfg *Config) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	}
	closeLog := func() {}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		closeLog = func() { f.Close() }
	}

	return slog.New(slogmulti.Fanout(handlers...)), closeLog, nil
}

func runLive(ctx context.Context, cfg *Config, logger *slog.Logger, mask spola.FieldMask) error {
	buf := spola.NewLiveBuffer()

	// Feed the buffer from the backend stream or the synthetic generator.
	feedErr := make(chan error, 1)
	if cfg.BackendURL != "" {
		stream, err := backend.NewStream(cfg.BackendURL, &http.Client{},
			backend.WithStreamFields(mask),
			backend.WithStreamLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("could not create stream: %w", err)
		}
		go func() { feedErr <- stream.Run(ctx, buf) }()
		logger.Info("live mode", "backend", cfg.BackendURL)
	} else {
		src := demo.NewSource(demo.WithTickRate(cfg.TickRate))
		go func() { feedErr <- src.Feed(ctx, buf) }()
		logger.Info("live mode", "source", "synthetic", "track", src.TrackName())
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-feedErr:
			return err
		case <-ticker.C:
			printLiveWindow(buf, cfg.WindowMs)
		}
	}
}

func printLiveWindow(buf *spola.LiveBuffer, windowMs int64) {
	now, ok := buf.LatestTimestamp()
	if !ok {
		fmt.Println("waiting for telemetry...")
		return
	}
	w := buf.Window(windowMs, now)
	newest := w.At(w.Count - 1)
	if newest == nil {
		return
	}
	stats := buf.Stats()
	fmt.Printf("window %d samples | speed %6.1f m/s | rpm %6.0f | gear %1.0f | buffer %d/%d (%.0f%%)\n",
		w.Count,
		newest.Metrics["speed"],
		newest.Metrics["rpm"],
		newest.Metrics["gear"],
		stats.Count, stats.Capacity, stats.Utilization*100,
	)
}

func runReplay(ctx context.Context, cfg *Config, logger *slog.Logger, mask spola.FieldMask) error {
	var (
		cache     *replaycache.Cache
		trackName string
	)

	if cfg.BackendURL != "" {
		client, err := backend.NewClient(cfg.BackendURL, &http.Client{Timeout: 10 * time.Second},
			backend.WithClientLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("could not create client: %w", err)
		}
		info, err := client.SessionInfo(ctx)
		if err != nil {
			return fmt.Errorf("could not fetch session info: %w", err)
		}
		cache = replaycache.New(client,
			replaycache.WithControlSink(client),
			replaycache.WithLogger(logger),
		)
		cache.SetSession(info.Session())
		trackName = info.TrackName
	} else {
		src := demo.NewSource(demo.WithTickRate(cfg.TickRate))
		cache = replaycache.New(src, replaycache.WithLogger(logger))
		cache.SetSession(src.Session())
		trackName = src.TrackName()
	}

	logger.Info("replay mode",
		"track", trackName,
		"frames", cache.TotalFrames(),
		"tick_rate", cache.TickRate(),
	)

	if err := cache.EnsureLoaded(ctx, mask); err != nil {
		return fmt.Errorf("could not load initial frames: %w", err)
	}
	cache.SetSpeed(cfg.Speed)
	cache.Play()

	clock := time.NewTicker(16 * time.Millisecond)
	defer clock.Stop()
	report := time.NewTicker(time.Second)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-clock.C:
			cache.Advance(now.UnixMilli())
			if cache.NeedsFetch() {
				if err := cache.EnsureLoaded(ctx, mask); err != nil && ctx.Err() == nil {
					logger.Warn("fetch failed", "error", err)
				}
			}
			if !cache.Playing() {
				logger.Info("playback finished", "cursor", cache.Cursor())
				return nil
			}
		case <-report.C:
			printReplayWindow(cache, cfg.WindowMs)
		}
	}
}

func printReplayWindow(cache *replaycache.Cache, windowMs int64) {
	w := cache.Window(windowMs)
	cursor := w.At(w.Count / 2)
	if cursor == nil {
		fmt.Printf("frame %d: buffering...\n", cache.Cursor())
		return
	}
	loaded := 0
	for i := 0; i < w.Count; i++ {
		if w.At(i) != nil {
			loaded++
		}
	}
	fmt.Printf("frame %6d | %5.1fs | speed %6.1f m/s | gear %1.0f | window %d/%d loaded | %.1fx\n",
		cache.Cursor(),
		float64(w.AnchorMs)/1000,
		cursor.Metrics["speed"],
		cursor.Metrics["gear"],
		loaded, w.Count,
		cache.Speed(),
	)
}
