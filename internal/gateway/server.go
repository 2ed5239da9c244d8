// Package gateway serves the HTTP API and WebSocket push channel over the
// session manager.
package gateway

import (
	"context"
	"embed"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/ohbridge/internal/bridge"
	"github.com/nextlevelbuilder/ohbridge/internal/config"
)

//go:embed static/index.html
var staticFS embed.FS

// SessionHeader selects the session of a request; the "session" query
// parameter is the fallback.
const SessionHeader = "X-Session-Id"

// Server is the HTTP/WebSocket front-end.
type Server struct {
	cfg      config.ServerConfig
	sessions *bridge.Manager
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	handler  http.Handler

	// ctx is the lifetime of the server; websocket clients end with it.
	ctx context.Context
}

// NewServer wires routes and middleware.
func NewServer(cfg config.ServerConfig, sessions *bridge.Manager) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		limiter:  NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the UI is served from the same process; any origin may watch
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx: context.Background(),
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.handler = s.limiter.Middleware(requireToken(cfg.Token, mux))
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /backend_status", s.handleBackendStatus)
	mux.HandleFunc("POST /start_backend/{$}", s.handleStartBackend)
	mux.HandleFunc("POST /restart_backend/{$}", s.handleRestartBackend)
	mux.HandleFunc("POST /chat/{$}", s.handleChat)
	mux.HandleFunc("GET /chat_history/{$}", s.handleChatHistory)
	mux.HandleFunc("GET /initial_chat_history", s.handleInitialChatHistory)
	mux.HandleFunc("POST /delete_image/{$}", s.handleDeleteImage)
	mux.HandleFunc("POST /switch_model/{$}", s.handleSwitchModel)
	mux.HandleFunc("POST /clear/{$}", s.handleClear)
	mux.HandleFunc("POST /cancel/{$}", s.handleCancel)
	mux.HandleFunc("GET /models/{$}", s.handleModels)
	mux.HandleFunc("GET /available_models/{$}", s.handleAvailableModels)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// session resolves the session a request addresses.
func (s *Server) session(r *http.Request) *bridge.Session {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		id = r.URL.Query().Get("session")
	}
	return s.sessions.GetOrCreate(id)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.ctx = ctx
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.limiter.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown", "error", err)
	}
	slog.Info("server stopped")
	return nil
}
