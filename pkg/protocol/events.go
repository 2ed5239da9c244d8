package protocol

// WebSocket event names pushed from server to client.
const (
	EventHello         = "hello"
	EventChatEntry     = "chat.entry"
	EventChatCleared   = "chat.cleared"
	EventBackendStatus = "backend.status"
)

// HelloPayload is sent once after a client connects.
type HelloPayload struct {
	Protocol  int    `json:"protocol"`
	SessionID string `json:"session_id"`
	ClientID  string `json:"client_id"`
}

// ChatClearedPayload accompanies EventChatCleared.
type ChatClearedPayload struct {
	Generation uint64 `json:"generation"`
}

// BackendStatusPayload accompanies EventBackendStatus.
type BackendStatusPayload struct {
	State     string `json:"state"`
	IsRunning bool   `json:"is_running"`
	Model     string `json:"model,omitempty"`
}
