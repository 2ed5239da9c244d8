// Package bridge ties one engine handle, one transcript and the set of
// live client channels into a session.
package bridge

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/ohbridge/pkg/protocol"
)

// Channel is one live output connection.
type Channel interface {
	ID() string
	Send(frame *protocol.EventFrame) error
}

// Registry is the set of live channels of a session.
type Registry struct {
	mu       sync.Mutex
	channels map[string]Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register adds ch. Registering the same channel twice is a no-op.
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	r.channels[ch.ID()] = ch
	r.mu.Unlock()
}

// Unregister removes ch if present.
func (r *Registry) Unregister(ch Channel) {
	r.mu.Lock()
	if cur, ok := r.channels[ch.ID()]; ok && cur == ch {
		delete(r.channels, ch.ID())
	}
	r.mu.Unlock()
}

// closer is a Channel that can be told to disconnect.
type closer interface {
	Close()
}

// CloseAll removes every channel and closes those that support it, so
// their clients reconnect.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	targets := make([]Channel, 0, len(r.channels))
	for id, ch := range r.channels {
		targets = append(targets, ch)
		delete(r.channels, id)
	}
	r.mu.Unlock()

	for _, ch := range targets {
		if c, ok := ch.(closer); ok {
			c.Close()
		}
	}
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Broadcast sends frame to every channel and returns how many accepted it.
// Sends happen outside the lock; a channel that fails is removed and the
// others still receive the frame.
func (r *Registry) Broadcast(frame *protocol.EventFrame) int {
	r.mu.Lock()
	targets := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		targets = append(targets, ch)
	}
	r.mu.Unlock()

	delivered := 0
	var failed []Channel
	for _, ch := range targets {
		if err := ch.Send(frame); err != nil {
			slog.Warn("channel dropped",
				"channel", ch.ID(),
				"event", frame.Event,
				"error", fmt.Errorf("%w: %w", ErrChannelDeliveryFailed, err))
			failed = append(failed, ch)
			continue
		}
		delivered++
	}

	for _, ch := range failed {
		r.Unregister(ch)
	}
	return delivered
}
