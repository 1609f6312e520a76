package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ayusman/ardetect/internal/app"
	"github.com/ayusman/ardetect/internal/capture"
	"github.com/ayusman/ardetect/internal/config"
	"github.com/ayusman/ardetect/internal/detector"
	xlog "github.com/ayusman/ardetect/internal/log"
	"github.com/ayusman/ardetect/internal/metrics"
	"github.com/ayusman/ardetect/internal/server"
	"github.com/ayusman/ardetect/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ardetect: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	camera := flag.String("camera", "", "camera device index, file or stream URL (overrides config)")
	webDir := flag.String("web", "", "directory of static dashboard files")
	retention := flag.Duration("retention", 7*24*time.Hour, "how long to keep inference runs; 0 keeps everything")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	xlog.Configure(xlog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logger := xlog.WithComponent("main")

	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewRecorder(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	src := capture.DeviceSource(cfg.Camera.DeviceID)
	if *camera != "" {
		src.Device = *camera
	}
	src.FPS = cfg.Camera.FPS
	src.Rotation = cfg.Camera.Rotation

	a := app.New(app.Config{
		Detector:  cfg.Detector,
		Camera:    capture.NewCamera(src),
		Store:     st,
		Listeners: []detector.Listener{recorder},
	})
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := config.NewWatcher(*configPath, cfg)
	watcher.Subscribe(func(next config.Config) {
		if err := a.Reconfigure(next.Detector); err != nil {
			logger.Warn().Err(err).Str("event", "main.reconfigure_failed").Msg("reloaded detector settings rejected")
		}
	})
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Error().Err(err).Str("event", "main.watcher_failed").Msg("configuration watcher stopped")
		}
	}()

	if *retention > 0 {
		go pruneRuns(ctx, st, *retention)
	}

	if err := a.Start(); err != nil {
		// The API stays up so settings can still be inspected and changed.
		logger.Error().Err(err).
			Str("event", "main.camera_failed").
			Str("device", src.Device).
			Msg("detection pipeline not started")
	}

	srv := server.New(server.Config{
		Controller:     a,
		Store:          st,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		StaticDir:      *webDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	logger.Info().
		Str("event", "main.starting").
		Str("addr", cfg.Server.Addr).
		Str("db", st.Path()).
		Str("model", cfg.Detector.Model.String()).
		Str("delegate", cfg.Detector.Delegate.String()).
		Str("camera", src.Device).
		Int("rotation", src.Rotation).
		Msg("ardetect starting")

	if err := srv.Run(ctx, cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func pruneRuns(ctx context.Context, st *store.Store, keep time.Duration) {
	logger := xlog.WithComponent("main")
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := st.Runs().Prune(time.Now().Add(-keep))
		if err != nil {
			logger.Warn().Err(err).Str("event", "main.prune_failed").Msg("failed to prune inference runs")
		} else if n > 0 {
			logger.Info().Str("event", "main.pruned").Int64("runs", n).Msg("pruned old inference runs")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
