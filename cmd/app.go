package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/ohbridge/internal/bridge"
	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/engine/llmloop"
	"github.com/nextlevelbuilder/ohbridge/internal/transcript"
)

// app is the process-wide wiring shared by serve and tui.
type app struct {
	cfg     *config.Config
	db      *transcript.SQLiteDB
	manager *bridge.Manager
}

func newApp(cfg *config.Config) (*app, error) {
	rt := &app{cfg: cfg}

	opts := bridge.ManagerOptions{
		MaxSessions: cfg.Server.MaxSessions,
		Factory:     llmloop.New(llmloop.NewHTTPCompleter(http.DefaultClient)),
		Catalog:     cfg.Catalog(),
		Engine:      cfg.Engine,
		Welcome:     cfg.TUI.Welcome,
	}
	if path := cfg.Transcript.Storage; path != "" {
		db, err := transcript.OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("open transcript storage: %w", err)
		}
		slog.Info("transcript storage opened", "path", path)
		rt.db = db
		opts.Archives = db
	}
	if opts.Catalog.Len() == 0 {
		slog.Warn("no models configured; the backend cannot start", "hint", "run ohbridge onboard")
	}

	rt.manager = bridge.NewManager(opts)
	return rt, nil
}

// Close stops every session, then closes storage.
func (rt *app) Close() {
	rt.manager.Close(context.Background())
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			slog.Warn("transcript storage close failed", "error", err)
		}
	}
}

// configWatcher returns a watcher for path, or nil when its directory
// does not exist and hot reload is off.
func (rt *app) configWatcher(path string) (*config.Watcher, error) {
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		slog.Debug("config directory missing, hot reload disabled", "path", path)
		return nil, nil
	}
	return rt.watchConfig(path)
}

// watchConfig reloads the model catalog into live sessions on change.
func (rt *app) watchConfig(path string) (*config.Watcher, error) {
	w, err := config.NewWatcher(path)
	if err != nil {
		return nil, err
	}
	w.OnChange(func(cfg *config.Config) {
		c := cfg.Catalog()
		slog.Info("model catalog reloaded", "models", c.Len())
		rt.manager.SetCatalog(c)
	})
	return w, nil
}
