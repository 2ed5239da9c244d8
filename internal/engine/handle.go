package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/transcript"
)

// State is the lifecycle state of a Handle.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	}
	return "unknown"
}

// ErrorOccurredMessage is emitted when the engine reports an error state.
const ErrorOccurredMessage = "An error occurred. Please try again."

// Options configures a Handle. Zero durations fall back to the config defaults.
type Options struct {
	Agent         string
	MaxIterations int
	StepInterval  time.Duration
	StopGrace     time.Duration

	// Observer receives rendered engine output. Nil means NoopObserver.
	Observer OutputObserver
	// OnStateChange is called, outside the handle lock, after every
	// lifecycle transition.
	OnStateChange func(State)
}

// Handle owns at most one engine instance and its agent loop.
// Safe for concurrent use.
type Handle struct {
	id      string
	factory Factory
	opts    Options

	mu         sync.Mutex
	state      State
	epoch      uint64 // bumped by every launch and stop; stale builds are discarded
	restarting bool   // a restart is tearing down; launches are rejected until it relaunches
	catalog    *config.Catalog
	inst       *Instance
	llmName    string
	model      string
	cancel     context.CancelFunc
	loopDone   chan struct{}
}

// NewSessionID returns a fresh engine session id.
func NewSessionID() string {
	return "oh_backend_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewHandle creates a stopped handle. An empty id gets a generated one.
func NewHandle(id string, factory Factory, catalog *config.Catalog, opts Options) *Handle {
	if id == "" {
		id = NewSessionID()
	}
	if opts.StepInterval <= 0 {
		opts.StepInterval = config.DefaultStepInterval
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = config.DefaultStopGrace
	}
	if opts.Observer == nil {
		opts.Observer = NoopObserver{}
	}
	return &Handle{
		id:      id,
		factory: factory,
		opts:    opts,
		catalog: catalog,
	}
}

// ID returns the engine session id.
func (h *Handle) ID() string { return h.id }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// IsRunning reports whether the engine is RUNNING.
func (h *Handle) IsRunning() bool {
	return h.State() == StateRunning
}

// Model returns the active model name, or "" when no engine runs.
func (h *Handle) Model() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.model
}

// SetCatalog replaces the model catalog. A running engine keeps its model.
func (h *Handle) SetCatalog(c *config.Catalog) {
	h.mu.Lock()
	h.catalog = c
	h.mu.Unlock()
}

// Models lists model names, default first, and the default name.
func (h *Handle) Models() ([]string, string) {
	h.mu.Lock()
	c := h.catalog
	h.mu.Unlock()
	return c.Names()
}

// Start starts the engine and reports whether it is running afterwards.
func (h *Handle) Start(ctx context.Context, modelOverride string) bool {
	return h.Launch(ctx, modelOverride) == nil
}

// Restart stops a running engine and starts a new one.
func (h *Handle) Restart(ctx context.Context, modelOverride string) bool {
	return h.Relaunch(ctx, modelOverride) == nil
}

// Launch is Start with the failure cause. A running engine is left as is,
// even if modelOverride names a different model.
func (h *Handle) Launch(ctx context.Context, modelOverride string) error {
	h.mu.Lock()
	if h.state == StateStarting || h.restarting {
		h.mu.Unlock()
		slog.Warn("engine start ignored", "session", h.id, "error", ErrAlreadyInitializing)
		return ErrAlreadyInitializing
	}
	if h.state == StateRunning {
		h.mu.Unlock()
		slog.Debug("engine already running, start ignored", "session", h.id)
		return nil
	}
	stale := h.beginLaunchLocked()
	h.mu.Unlock()
	h.notify(StateStarting)

	h.teardown(ctx, stale)
	return h.launch(ctx, modelOverride)
}

// Relaunch is Restart with the failure cause. A running engine is stopped
// first, so listeners see RUNNING, STOPPED, STARTING, RUNNING.
func (h *Handle) Relaunch(ctx context.Context, modelOverride string) error {
	h.mu.Lock()
	if h.state == StateStarting || h.restarting {
		h.mu.Unlock()
		slog.Warn("engine restart ignored", "session", h.id, "error", ErrAlreadyInitializing)
		return ErrAlreadyInitializing
	}
	if h.state == StateRunning {
		r := h.detachLocked()
		h.state = StateStopped
		h.epoch++
		epoch := h.epoch
		h.restarting = true
		h.mu.Unlock()

		h.teardown(ctx, r)
		slog.Info("engine stopped for restart", "session", h.id)
		h.notify(StateStopped)

		h.mu.Lock()
		h.restarting = false
		if h.epoch != epoch {
			// stopped again while tearing down
			h.mu.Unlock()
			return fmt.Errorf("%w: superseded", ErrEngineConstructionFailed)
		}
	}
	stale := h.beginLaunchLocked()
	h.mu.Unlock()
	h.notify(StateStarting)

	h.teardown(ctx, stale)
	return h.launch(ctx, modelOverride)
}

// running is the loop state detached from the handle for teardown.
type running struct {
	inst   *Instance
	cancel context.CancelFunc
	done   chan struct{}
}

// beginLaunchLocked moves to STARTING and detaches any previous instance.
func (h *Handle) beginLaunchLocked() running {
	prev := h.detachLocked()
	h.state = StateStarting
	h.epoch++
	return prev
}

func (h *Handle) detachLocked() running {
	r := running{inst: h.inst, cancel: h.cancel, done: h.loopDone}
	h.inst = nil
	h.cancel = nil
	h.loopDone = nil
	h.llmName = ""
	h.model = ""
	return r
}

func (h *Handle) launch(ctx context.Context, modelOverride string) error {
	h.mu.Lock()
	epoch := h.epoch
	catalog := h.catalog
	h.mu.Unlock()

	name, llm, err := resolveModel(catalog, modelOverride)
	if err != nil {
		return h.failLaunch(epoch, fmt.Errorf("%w: %w", ErrEngineConstructionFailed, err))
	}

	inst, err := h.build(ctx, BuildRequest{
		SessionID:     h.id,
		Agent:         h.opts.Agent,
		LLM:           llm,
		MaxIterations: h.opts.MaxIterations,
	})
	if err != nil {
		return h.failLaunch(epoch, err)
	}

	h.mu.Lock()
	if h.epoch != epoch {
		// stopped or relaunched while building
		h.mu.Unlock()
		h.teardown(ctx, running{inst: inst})
		return fmt.Errorf("%w: superseded", ErrEngineConstructionFailed)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.inst = inst
	h.cancel = cancel
	h.loopDone = done
	h.llmName = name
	h.model = llm.Model
	h.state = StateRunning
	h.mu.Unlock()

	inst.Stream.Subscribe(func(e Event) { h.onEvent(inst, e) })
	go h.loop(loopCtx, inst, done)

	slog.Info("engine started", "session", h.id, "model", llm.Model)
	h.notify(StateRunning)
	return nil
}

func resolveModel(catalog *config.Catalog, override string) (string, config.LLMConfig, error) {
	if override != "" && override != config.DefaultModelLabel {
		llm, err := catalog.Resolve(override)
		if err == nil {
			return override, llm, nil
		}
		slog.Warn("model not found, using default model", "model", override)
	}
	llm, err := catalog.Default()
	if err != nil {
		return "", config.LLMConfig{}, err
	}
	return config.DefaultModelLabel, llm, nil
}

// build calls the factory, converting panics and errors to
// ErrEngineConstructionFailed.
func (h *Handle) build(ctx context.Context, req BuildRequest) (inst *Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = fmt.Errorf("%w: panic: %v", ErrEngineConstructionFailed, r)
		}
	}()

	inst, err = h.factory.Build(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineConstructionFailed, err)
	}
	if inst == nil || inst.Controller == nil || inst.Stream == nil {
		return nil, fmt.Errorf("%w: incomplete instance", ErrEngineConstructionFailed)
	}
	return inst, nil
}

func (h *Handle) failLaunch(epoch uint64, err error) error {
	slog.Error("engine start failed", "session", h.id, "error", err)

	h.mu.Lock()
	if h.epoch != epoch {
		h.mu.Unlock()
		return err
	}
	h.state = StateError
	h.mu.Unlock()
	h.notify(StateError)
	return err
}

func (h *Handle) loop(ctx context.Context, inst *Instance, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(h.opts.StepInterval)
	defer timer.Stop()

	for {
		if err := inst.Controller.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("agent loop step failed", "session", h.id, "error", err)
			h.loopFailed(inst)
			return
		}

		timer.Reset(h.opts.StepInterval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (h *Handle) loopFailed(inst *Instance) {
	h.mu.Lock()
	if h.inst != inst {
		h.mu.Unlock()
		return
	}
	h.state = StateError
	h.mu.Unlock()
	h.notify(StateError)
}

// Stop cancels the agent loop, waits up to the stop grace period, and
// closes controller and runtime. The handle ends STOPPED.
func (h *Handle) Stop(ctx context.Context) {
	h.mu.Lock()
	r := h.detachLocked()
	prev := h.state
	h.state = StateStopped
	h.epoch++
	h.mu.Unlock()

	h.teardown(ctx, r)
	if prev != StateStopped {
		slog.Info("engine stopped", "session", h.id)
		h.notify(StateStopped)
	}
}

func (h *Handle) teardown(ctx context.Context, r running) {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		grace := time.NewTimer(h.opts.StopGrace)
		select {
		case <-r.done:
		case <-grace.C:
			slog.Warn("timeout waiting for agent loop to exit", "session", h.id, "grace", h.opts.StopGrace)
		case <-ctx.Done():
			slog.Warn("stop interrupted waiting for agent loop", "session", h.id, "error", ctx.Err())
		}
		grace.Stop()
	}
	if r.inst == nil {
		return
	}
	if err := r.inst.Controller.Close(ctx); err != nil {
		slog.Warn("controller close failed", "session", h.id, "error", err)
	}
	if r.inst.Runtime != nil {
		if err := r.inst.Runtime.Close(); err != nil {
			slog.Warn("runtime close failed", "session", h.id, "error", err)
		}
	}
}

// SwitchModel swaps the live LLM of a running engine.
func (h *Handle) SwitchModel(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.inst == nil || h.state != StateRunning {
		slog.Warn("no engine running, cannot switch model", "session", h.id)
		return false
	}
	if name == "" {
		slog.Warn("no model name provided", "session", h.id)
		return false
	}
	if name == h.llmName {
		slog.Info("model already active", "session", h.id, "model", name)
		return true
	}

	llm, err := h.catalog.Resolve(name)
	if err != nil {
		slog.Warn("model switch failed", "session", h.id, "error", err)
		return false
	}
	if err := h.inst.Controller.SetLLM(llm); err != nil {
		slog.Error("model switch failed", "session", h.id, "model", name, "error", err)
		return false
	}

	h.llmName = name
	h.model = llm.Model
	slog.Info("engine model switched", "session", h.id, "model", llm.Model)
	return true
}

// SubmitInput adds msg to the engine and makes sure the agent runs.
// ctx bounds the call; on expiry ErrRequestTimeout is returned and any
// event already queued stays queued.
func (h *Handle) SubmitInput(ctx context.Context, msg Message) error {
	h.mu.Lock()
	inst := h.inst
	state := h.state
	h.mu.Unlock()

	if inst == nil || state != StateRunning {
		return ErrBackendNotStarted
	}

	done := make(chan error, 1)
	go func() { done <- h.submit(ctx, inst, msg) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrRequestTimeout, ctx.Err())
	}
}

func (h *Handle) submit(ctx context.Context, inst *Instance, msg Message) error {
	nextTask(inst, msg)

	if inst.Controller.AgentState() != AgentRunning {
		if err := inst.Controller.SetAgentState(ctx, AgentRunning); err != nil {
			return fmt.Errorf("set agent state: %w", err)
		}
	}
	return nil
}

// nextTask queues msg as the agent's next task. An empty message is a
// no-op and "exit" stops the agent.
func nextTask(inst *Instance, msg Message) {
	if msg.Content == "" && len(msg.ImageURLs) == 0 {
		return
	}
	if msg.Content == "exit" {
		inst.Stream.AddEvent(Event{Kind: KindChangeState, State: AgentStopped}, SourceUser)
		return
	}
	inst.Stream.AddEvent(Event{
		Kind:      KindUserMessage,
		Source:    SourceUser,
		Content:   msg.Content,
		ImageURLs: msg.ImageURLs,
		Timestamp: msg.Timestamp,
	}, SourceUser)
}

// CancelledMessage and NotStartedMessage are the two results of Cancel.
const (
	CancelledMessage  = "Operation cancelled."
	NotStartedMessage = "Backend not started!"
)

// Cancel asks the agent to stop at its next safe point.
func (h *Handle) Cancel() string {
	h.mu.Lock()
	inst := h.inst
	h.mu.Unlock()

	if inst == nil {
		return NotStartedMessage
	}
	inst.Stream.AddEvent(Event{Kind: KindChangeState, State: AgentStopped}, SourceUser)
	return CancelledMessage
}

// ClearHistory clears the engine's event stream.
func (h *Handle) ClearHistory() error {
	h.mu.Lock()
	inst := h.inst
	h.mu.Unlock()

	if inst == nil {
		return ErrBackendNotStarted
	}
	return inst.Stream.Clear()
}

func (h *Handle) onEvent(inst *Instance, e Event) {
	h.mu.Lock()
	current := h.inst == inst
	h.mu.Unlock()
	if !current || e.Kind == KindNull {
		return
	}

	slog.Debug("engine event", "session", h.id, "kind", e.Kind, "source", e.Source)

	if text := Render(e); text != "" {
		h.opts.Observer.OnOutput(transcript.RoleAssistant, text, e.ImageURLs)
	}

	if e.Kind != KindStateChanged {
		return
	}
	switch e.State {
	case AgentError:
		h.opts.Observer.OnOutput(transcript.RoleAssistant, ErrorOccurredMessage, nil)
	case AgentAwaitingUserInput, AgentFinished:
		nextTask(inst, Message{})
	}
}

func (h *Handle) notify(s State) {
	if h.opts.OnStateChange != nil {
		h.opts.OnStateChange(s)
	}
}
