package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/engine"
	"github.com/nextlevelbuilder/ohbridge/internal/transcript"
)

// ArchiveSource hands out per-session transcript archives.
type ArchiveSource interface {
	Archive(sessionID string) transcript.Archive
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	MaxSessions int
	Factory     engine.Factory
	Catalog     *config.Catalog
	Engine      config.EngineConfig
	Archives    ArchiveSource // optional
	Welcome     string
}

// Manager keeps a bounded set of sessions keyed by id. The least recently
// used session is closed when the bound is exceeded.
type Manager struct {
	opts ManagerOptions

	mu       sync.Mutex
	catalog  *config.Catalog
	sessions *lru.Cache[string, *Session]
}

// NewManager creates a session manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = config.Default().Server.MaxSessions
	}
	m := &Manager{opts: opts, catalog: opts.Catalog}

	cache, err := lru.NewWithEvict(opts.MaxSessions, func(id string, s *Session) {
		slog.Info("session evicted", "session", id)
		// eviction runs under the cache lock; stopping the engine may take
		// up to the stop grace period
		go s.Close(context.Background())
	})
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	m.sessions = cache
	return m
}

// GetOrCreate returns the session for id, creating it on first use.
func (m *Manager) GetOrCreate(id string) *Session {
	id = config.NormalizeSessionID(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions.Get(id); ok {
		return s
	}

	var archive transcript.Archive
	if m.opts.Archives != nil {
		archive = m.opts.Archives.Archive(id)
	}
	s := NewSession(Options{
		ID:      id,
		Factory: m.opts.Factory,
		Catalog: m.catalog,
		Engine:  m.opts.Engine,
		Archive: archive,
		Welcome: m.opts.Welcome,
	})
	m.sessions.Add(id, s)
	slog.Info("session created", "session", id, "engine_session", s.EngineID())
	return s
}

// Get returns an existing session.
func (m *Manager) Get(id string) (*Session, bool) {
	return m.sessions.Get(config.NormalizeSessionID(id))
}

// Len returns the number of live sessions.
func (m *Manager) Len() int { return m.sessions.Len() }

// SetCatalog installs a reloaded catalog on every session and on
// sessions created later.
func (m *Manager) SetCatalog(c *config.Catalog) {
	m.mu.Lock()
	m.catalog = c
	m.mu.Unlock()

	for _, s := range m.sessions.Values() {
		s.SetCatalog(c)
	}
	slog.Info("model catalog updated", "sessions", m.sessions.Len(), "models", c.Len())
}

// Close stops every session, waiting up to ctx.
func (m *Manager) Close(ctx context.Context) {
	sessions := m.sessions.Values()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close(ctx)
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("session shutdown interrupted", "error", ctx.Err())
	case <-time.After(config.DefaultStopGrace * 2):
		slog.Warn("session shutdown timed out")
	}
}
