package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/transcript"
)

// maxBodySize bounds JSON request bodies; attachments may be data URLs.
const maxBodySize = 8 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

// writeDetail writes an error body of the form {"detail": msg}.
func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "ui unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := NewClient(conn, sess)
	slog.Debug("websocket connected", "client", client.ID(), "session", sess.ID())
	client.Run(s.ctx)
	slog.Debug("websocket disconnected", "client", client.ID(), "session", sess.ID())
}

func (s *Server) handleBackendStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"is_running": s.session(r).IsRunning()})
}

func (s *Server) handleStartBackend(w http.ResponseWriter, r *http.Request) {
	ok := s.session(r).Start(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

func (s *Server) handleRestartBackend(w http.ResponseWriter, r *http.Request) {
	ok := s.session(r).Restart(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

type chatRequest struct {
	Content    string   `json:"content"`
	Timestamp  string   `json:"timestamp,omitempty"`
	ImagesURLs []string `json:"images_urls,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var ts time.Time
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			slog.Debug("ignoring unparseable timestamp", "timestamp", req.Timestamp)
		} else {
			ts = parsed
		}
	}

	sess := s.session(r)
	slog.Debug("chat message received", "session", sess.ID(), "images", len(req.ImagesURLs))
	resp := sess.HandleUserMessage(r.Context(), req.Content, req.ImagesURLs, ts)
	writeJSON(w, http.StatusOK, map[string]string{"response": resp})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]transcript.Entry{"history": s.session(r).History()})
}

type historyItem struct {
	Role    transcript.Role  `json:"role"`
	Message transcript.Entry `json:"message"`
}

func (s *Server) handleInitialChatHistory(w http.ResponseWriter, r *http.Request) {
	entries := s.session(r).History()
	items := make([]historyItem, len(entries))
	for i, e := range entries {
		items[i] = historyItem{Role: e.Role, Message: e}
	}
	writeJSON(w, http.StatusOK, map[string][]historyItem{"history": items})
}

type deleteImageRequest struct {
	MessageID  string `json:"message_id"`
	ImageIndex *int   `json:"image_index"`
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	var req deleteImageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MessageID == "" || req.ImageIndex == nil {
		writeDetail(w, http.StatusBadRequest, "Missing message_id or image_index")
		return
	}
	if !s.session(r).DeleteImage(req.MessageID, *req.ImageIndex) {
		writeDetail(w, http.StatusInternalServerError, "Failed to delete image")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": s.session(r).SwitchModel(req.Model)})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.session(r).Clear()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": s.session(r).Cancel()})
}

type modelsResponse struct {
	Models       []string `json:"models"`
	DefaultModel *string  `json:"default_model"`
}

func newModelsResponse(models []string, def string) modelsResponse {
	resp := modelsResponse{Models: models}
	if resp.Models == nil {
		resp.Models = []string{}
	}
	if def != "" {
		resp.DefaultModel = &def
	}
	return resp
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, def := s.session(r).Models()
	if len(models) == 0 {
		slog.Error("no model specifications found in config", "default_key", config.DefaultLLMKey)
	}
	writeJSON(w, http.StatusOK, newModelsResponse(models, def))
}

func (s *Server) handleAvailableModels(w http.ResponseWriter, r *http.Request) {
	models, def := s.session(r).AvailableModels()
	writeJSON(w, http.StatusOK, newModelsResponse(models, def))
}
