package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler is called when the config file changes.
// It receives the newly loaded config.
type ChangeHandler func(cfg *Config)

// Watcher watches a config file for changes and reloads it.
// Changes are debounced (300ms) to avoid rapid reloads.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	handlers []ChangeHandler
	debounce time.Duration
	mu       sync.Mutex
}

// NewWatcher creates a config file watcher.
func NewWatcher(configPath string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     filepath.Clean(configPath),
		watcher:  w,
		debounce: 300 * time.Millisecond,
	}, nil
}

// OnChange registers a handler to be called when config changes.
func (cw *Watcher) OnChange(handler ChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.handlers = append(cw.handlers, handler)
}

// Run watches the config file until ctx is done.
// The parent directory is watched so that editors replacing the file
// on save (rename + create) are still picked up.
func (cw *Watcher) Run(ctx context.Context) error {
	defer cw.watcher.Close()

	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return err
	}
	slog.Info("config watcher started", "path", cw.path)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		slog.Info("config watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			// Debounce: reset timer on each change
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(cw.debounce, cw.reload)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func (cw *Watcher) reload() {
	slog.Info("config file changed, reloading", "path", cw.path)

	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("config reload failed", "error", err)
		return
	}

	cw.mu.Lock()
	handlers := make([]ChangeHandler, len(cw.handlers))
	copy(handlers, cw.handlers)
	cw.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}

	slog.Info("config reloaded", "models", len(cfg.LLMs))
}
