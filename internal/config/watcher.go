package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	xlog "github.com/ayusman/ardetect/internal/log"
)

// Watcher reloads the configuration file when it changes and hands valid
// configurations to subscribers. Invalid files are logged and skipped, so
// the last good configuration stays in effect.
type Watcher struct {
	path   string
	logger zerolog.Logger

	mu       sync.RWMutex
	current  Config
	handlers []func(Config)
}

// NewWatcher creates a Watcher seeded with the already loaded initial config.
func NewWatcher(path string, initial Config) *Watcher {
	return &Watcher{
		path:    path,
		current: initial,
		logger:  xlog.WithComponent("config"),
	}
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers fn to be called after every successful reload.
func (w *Watcher) Subscribe(fn func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, fn)
}

// Reload loads the file now and notifies subscribers on success.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str("event", "config.reload_failed").Msg("keeping previous configuration")
		return err
	}

	w.mu.Lock()
	w.current = cfg
	handlers := append([]func(Config){}, w.handlers...)
	w.mu.Unlock()

	for _, fn := range handlers {
		fn(cfg)
	}

	w.logger.Info().
		Str("event", "config.reloaded").
		Str("delegate", cfg.Detector.Delegate.String()).
		Str("model", cfg.Detector.Model.String()).
		Msg("configuration reloaded")
	return nil
}

// Run watches the file until ctx is done. The parent directory is watched
// so editors that replace the file are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	if w.path == "" {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(w.path)
	w.logger.Info().Str("event", "config.watcher_started").Str("path", target).Msg("watching configuration file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			_ = w.Reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Str("event", "config.watcher_error").Msg("watcher error")
		}
	}
}
