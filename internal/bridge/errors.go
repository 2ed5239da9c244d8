package bridge

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/ohbridge/internal/engine"
)

// ErrChannelDeliveryFailed wraps a failed send to one channel. It is
// logged, never returned to callers.
var ErrChannelDeliveryFailed = errors.New("channel delivery failed")

// User-visible result strings.
const (
	MsgBackendNotStarted = engine.NotStartedMessage
	MsgRequestTimeout    = "Request timed out. Please try again."
	MsgNoModels          = "No models available. Cannot start backend."
	MsgStartFailed       = "Failed to start backend!"
	MsgRestartCancelled  = "Restart cancelled."
)

// formatError turns a submission failure into a safe user-facing string.
// Raw provider payloads are never shown.
func formatError(err error) string {
	switch {
	case errors.Is(err, engine.ErrBackendNotStarted):
		return MsgBackendNotStarted
	case errors.Is(err, engine.ErrRequestTimeout):
		return MsgRequestTimeout
	}

	lower := strings.ToLower(err.Error())

	if containsAny(lower, "rate limit", "rate_limit", "too many requests", "429", "quota exceeded") {
		return "⚠️ API rate limit reached. Please try again later."
	}
	if containsAny(lower, "invalid api key", "invalid_api_key", "unauthorized", "forbidden", "401", "403") {
		return "⚠️ Authentication error. Please check your API key configuration."
	}
	if containsAny(lower, "timeout", "timed out", "deadline exceeded") {
		return MsgRequestTimeout
	}

	slog.Warn("unclassified engine error", "error", err)
	return "⚠️ Sorry, something went wrong processing your message. Please try again."
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
