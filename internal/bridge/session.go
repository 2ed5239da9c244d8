package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/engine"
	"github.com/nextlevelbuilder/ohbridge/internal/transcript"
	"github.com/nextlevelbuilder/ohbridge/pkg/protocol"
)

// Options configures a Session.
type Options struct {
	ID      string
	Factory engine.Factory
	Catalog *config.Catalog
	Engine  config.EngineConfig
	// Archive, when set, persists the transcript and restores it on creation.
	Archive transcript.Archive
	// Welcome, when set and the restored transcript is empty, is added as
	// the first assistant entry.
	Welcome string
}

// Status is a point-in-time view of the engine.
type Status struct {
	State     engine.State
	IsRunning bool
	Model     string
}

// Session orchestrates one engine handle, its transcript and the live
// channels watching it.
type Session struct {
	id            string
	handle        *engine.Handle
	store         *transcript.Store
	channels      *Registry
	submitTimeout time.Duration
	seq           atomic.Int64

	// emitMu keeps broadcast order equal to append order.
	emitMu sync.Mutex

	mu            sync.Mutex
	selectedModel string
	models        []string
	defaultModel  string
}

// NewSession creates a session with a stopped engine.
func NewSession(opts Options) *Session {
	s := &Session{
		id:            opts.ID,
		channels:      NewRegistry(),
		submitTimeout: opts.Engine.SubmitTimeout(),
	}
	if s.id == "" {
		s.id = config.DefaultSessionID
	}
	if s.submitTimeout <= 0 {
		s.submitTimeout = config.DefaultSubmitTimeout
	}

	var storeOpts []transcript.Option
	if opts.Archive != nil {
		storeOpts = append(storeOpts, transcript.WithArchive(opts.Archive))
	}
	s.store = transcript.NewStore(storeOpts...)
	if err := s.store.Restore(); err != nil {
		slog.Warn("transcript restore failed", "session", s.id, "error", err)
	}

	s.handle = engine.NewHandle(engine.NewSessionID(), opts.Factory, opts.Catalog, engine.Options{
		Agent:         opts.Engine.Agent,
		MaxIterations: opts.Engine.MaxIterations,
		StepInterval:  opts.Engine.StepInterval(),
		StopGrace:     opts.Engine.StopGrace(),
		Observer:      s,
		OnStateChange: s.onStateChange,
	})
	s.models, s.defaultModel = opts.Catalog.Names()

	if opts.Welcome != "" && s.store.Len() == 0 {
		s.store.Append(transcript.Entry{Role: transcript.RoleAssistant, Content: opts.Welcome})
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// EngineID returns the engine-side session id.
func (s *Session) EngineID() string { return s.handle.ID() }

// IsRunning reports whether the engine is running.
func (s *Session) IsRunning() bool { return s.handle.IsRunning() }

// Status returns the engine state.
func (s *Session) Status() Status {
	st := s.handle.State()
	return Status{State: st, IsRunning: st == engine.StateRunning, Model: s.handle.Model()}
}

// Attach registers ch for broadcasts.
func (s *Session) Attach(ch Channel) {
	s.channels.Register(ch)
	slog.Debug("channel attached", "session", s.id, "channel", ch.ID(), "channels", s.channels.Len())
}

// Detach unregisters ch.
func (s *Session) Detach(ch Channel) {
	s.channels.Unregister(ch)
	slog.Debug("channel detached", "session", s.id, "channel", ch.ID(), "channels", s.channels.Len())
}

// Channels returns the number of attached channels.
func (s *Session) Channels() int { return s.channels.Len() }

// History returns a copy of the transcript.
func (s *Session) History() []transcript.Entry { return s.store.Snapshot() }

// Generation returns the transcript generation.
func (s *Session) Generation() uint64 { return s.store.Generation() }

// OnOutput appends engine output to the transcript and broadcasts it.
func (s *Session) OnOutput(role transcript.Role, text string, images []string) {
	s.add(transcript.Entry{Role: role, Content: text, Attachments: images})
}

func (s *Session) add(e transcript.Entry) transcript.Entry {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	stored := s.store.Append(e)
	s.broadcast(protocol.EventChatEntry, stored)
	return stored
}

func (s *Session) broadcast(event string, payload interface{}) {
	f := protocol.NewEvent(event, payload)
	f.Seq = s.seq.Add(1)
	s.channels.Broadcast(f)
}

// onStateChange broadcasts every transition. An accepted launch also
// announces itself in the transcript.
func (s *Session) onStateChange(st engine.State) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if st == engine.StateStarting {
		stored := s.store.Append(transcript.Entry{
			Role:    transcript.RoleAssistant,
			Content: fmt.Sprintf("Starting backend with model %s, please wait...", s.modelLabel()),
		})
		s.broadcast(protocol.EventChatEntry, stored)
	}
	s.broadcast(protocol.EventBackendStatus, protocol.BackendStatusPayload{
		State:     st.String(),
		IsRunning: st == engine.StateRunning,
		Model:     s.handle.Model(),
	})
}

// HandleUserMessage records a user turn and submits it to the engine.
// It returns "" on success or a user-visible failure string.
func (s *Session) HandleUserMessage(ctx context.Context, content string, attachments []string, ts time.Time) string {
	if !s.handle.IsRunning() {
		return MsgBackendNotStarted
	}

	s.add(transcript.Entry{
		Role:        transcript.RoleUser,
		Content:     content,
		Attachments: attachments,
		Timestamp:   ts,
	})

	ctx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()

	err := s.handle.SubmitInput(ctx, engine.Message{Content: content, ImageURLs: attachments, Timestamp: ts})
	if err == nil {
		return ""
	}

	slog.Warn("user message submit failed", "session", s.id, "error", err)
	msg := formatError(err)
	s.add(transcript.Entry{Role: transcript.RoleSystem, Content: msg})
	return msg
}

// Clear empties the transcript and, best effort, the engine history.
func (s *Session) Clear() {
	s.emitMu.Lock()
	s.store.Clear()
	s.broadcast(protocol.EventChatCleared, protocol.ChatClearedPayload{Generation: s.store.Generation()})
	s.emitMu.Unlock()

	if err := s.handle.ClearHistory(); err != nil {
		slog.Debug("engine history not cleared", "session", s.id, "error", err)
	}
}

// DeleteImage removes one attachment and broadcasts the updated entry.
func (s *Session) DeleteImage(id string, index int) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	e, ok := s.store.RemoveAttachment(id, index)
	if !ok {
		slog.Warn("image delete failed", "session", s.id, "message_id", id, "index", index)
		return false
	}
	s.broadcast(protocol.EventChatEntry, e)
	return true
}

// Start starts the engine with the selected model.
func (s *Session) Start(ctx context.Context) bool {
	if s.handle.IsRunning() {
		return true
	}
	return s.launch(ctx, s.handle.Launch)
}

// Restart restarts the engine with the selected model.
func (s *Session) Restart(ctx context.Context) bool {
	return s.launch(ctx, s.handle.Relaunch)
}

// CancelRestart records that a restart prompt was declined.
func (s *Session) CancelRestart() {
	s.add(transcript.Entry{Role: transcript.RoleSystem, Content: MsgRestartCancelled})
}

func (s *Session) launch(ctx context.Context, start func(context.Context, string) error) bool {
	models, _ := s.handle.Models()
	if len(models) == 0 {
		s.add(transcript.Entry{Role: transcript.RoleSystem, Content: MsgNoModels})
		return false
	}

	name := s.modelLabel()
	err := start(ctx, s.SelectedModel())
	switch {
	case errors.Is(err, engine.ErrAlreadyInitializing):
		// another launch is in flight and reports its own outcome
		return false
	case err != nil:
		s.add(transcript.Entry{Role: transcript.RoleAssistant, Content: MsgStartFailed})
		return false
	}

	s.add(transcript.Entry{
		Role:    transcript.RoleAssistant,
		Content: fmt.Sprintf("Backend started successfully with model `%s`!", name),
	})
	return true
}

func (s *Session) modelLabel() string {
	if m := s.SelectedModel(); m != "" {
		return m
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.defaultModel != "" {
		return s.defaultModel
	}
	return config.DefaultModelLabel
}

// Cancel asks the engine to stop the current operation.
func (s *Session) Cancel() string {
	result := s.handle.Cancel()
	s.add(transcript.Entry{Role: transcript.RoleAssistant, Content: result})
	return result
}

// SwitchModel swaps the model of the running engine and remembers it for
// later restarts. It fails when the engine is not running.
func (s *Session) SwitchModel(name string) bool {
	if !s.handle.IsRunning() {
		return false
	}
	if !s.handle.SwitchModel(name) {
		return false
	}
	s.mu.Lock()
	s.selectedModel = name
	s.mu.Unlock()
	return true
}

// SelectModel remembers name for the next start and switches a running
// engine to it.
func (s *Session) SelectModel(name string) {
	if name == "" {
		slog.Warn("no model provided", "session", s.id)
		return
	}
	s.mu.Lock()
	s.selectedModel = name
	s.mu.Unlock()

	if s.handle.IsRunning() {
		s.handle.SwitchModel(name)
	}
}

// SelectedModel returns the remembered model name ("" for the default).
func (s *Session) SelectedModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedModel
}

// Models lists the models of the current catalog.
func (s *Session) Models() ([]string, string) {
	return s.handle.Models()
}

// AvailableModels returns the model list cached when the catalog was loaded.
func (s *Session) AvailableModels() ([]string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.models...), s.defaultModel
}

// SetCatalog installs a reloaded model catalog.
func (s *Session) SetCatalog(c *config.Catalog) {
	s.handle.SetCatalog(c)
	models, def := c.Names()
	s.mu.Lock()
	s.models, s.defaultModel = models, def
	s.mu.Unlock()
}

// Close stops the engine and disconnects every attached channel.
func (s *Session) Close(ctx context.Context) {
	s.handle.Stop(ctx)
	s.channels.CloseAll()
}
