// Package llmloop is a minimal agent engine: every user turn is answered
// by one chat completion call against an OpenAI-compatible endpoint.
package llmloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/engine"
)

const systemPrompt = "You are a helpful assistant working inside a sandboxed development environment. Answer concisely."

type pendingTurn struct {
	content string
	images  []string
}

// Controller answers queued user turns, one per Step.
type Controller struct {
	completer     Completer
	stream        *Stream
	maxIterations int

	mu         sync.Mutex
	llm        config.LLMConfig
	state      engine.AgentState
	history    []ChatMessage
	pending    []pendingTurn
	iterations int
	generation uint64 // bumped by reset; replies from an older turn are not recorded
	closed     bool
}

// NewController creates a controller bound to stream.
func NewController(completer Completer, stream *Stream, llm config.LLMConfig, maxIterations int) *Controller {
	c := &Controller{
		completer:     completer,
		stream:        stream,
		maxIterations: maxIterations,
		llm:           llm,
		state:         engine.AgentInit,
	}
	stream.Subscribe(c.onEvent)
	stream.OnClear(c.reset)
	return c
}

// reset forgets the conversation so the next turn starts fresh.
func (c *Controller) reset() {
	c.mu.Lock()
	c.history = nil
	c.pending = nil
	c.iterations = 0
	c.generation++
	c.mu.Unlock()
}

func (c *Controller) onEvent(e engine.Event) {
	if e.Source != engine.SourceUser {
		return
	}
	switch e.Kind {
	case engine.KindUserMessage:
		c.mu.Lock()
		c.pending = append(c.pending, pendingTurn{content: e.Content, images: e.ImageURLs})
		waiting := c.state == engine.AgentAwaitingUserInput || c.state == engine.AgentFinished
		c.mu.Unlock()
		if waiting {
			c.setState(engine.AgentRunning)
		}
	case engine.KindChangeState:
		c.setState(e.State)
	}
}

// Step answers the oldest pending turn if the agent is running.
func (c *Controller) Step(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.state != engine.AgentRunning || len(c.pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	if c.maxIterations > 0 && c.iterations >= c.maxIterations {
		c.mu.Unlock()
		slog.Warn("llmloop: max iterations reached", "max", c.maxIterations)
		c.stream.AddEvent(engine.Event{Kind: engine.KindObservation,
			Content: fmt.Sprintf("Agent reached maximum iteration count (%d).", c.maxIterations)}, engine.SourceEnvironment)
		c.setState(engine.AgentError)
		return nil
	}

	turn := c.pending[0]
	c.pending = c.pending[1:]
	c.history = append(c.history, userMessage(turn.content, turn.images))
	messages := make([]ChatMessage, 0, len(c.history)+1)
	messages = append(messages, ChatMessage{Role: "system", Content: systemPrompt})
	messages = append(messages, c.history...)
	llm := c.llm
	gen := c.generation
	c.iterations++
	c.mu.Unlock()

	reply, err := c.completer.Complete(ctx, llm, messages)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("llmloop: completion failed", "model", llm.Model, "error", err)
		c.setState(engine.AgentError)
		return nil
	}

	c.mu.Lock()
	if c.generation == gen {
		c.history = append(c.history, ChatMessage{Role: "assistant", Content: reply})
	}
	c.mu.Unlock()

	c.stream.AddEvent(engine.Event{Kind: engine.KindAssistantMessage, Content: reply}, engine.SourceAgent)
	c.awaitInput()
	return nil
}

// awaitInput moves a running agent to AwaitingUserInput unless more turns
// are already queued.
func (c *Controller) awaitInput() {
	c.mu.Lock()
	if c.closed || c.state != engine.AgentRunning || len(c.pending) > 0 {
		c.mu.Unlock()
		return
	}
	c.state = engine.AgentAwaitingUserInput
	c.mu.Unlock()

	c.stream.AddEvent(engine.Event{Kind: engine.KindStateChanged, State: engine.AgentAwaitingUserInput}, engine.SourceEnvironment)
}

func (c *Controller) AgentState() engine.AgentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SetAgentState(ctx context.Context, s engine.AgentState) error {
	c.setState(s)
	return nil
}

// setState records s and publishes a state-changed event when it differs.
func (c *Controller) setState(s engine.AgentState) {
	c.mu.Lock()
	if c.state == s || c.closed {
		c.mu.Unlock()
		return
	}
	c.state = s
	if s == engine.AgentStopped {
		c.pending = nil
	}
	c.mu.Unlock()

	c.stream.AddEvent(engine.Event{Kind: engine.KindStateChanged, State: s}, engine.SourceEnvironment)
}

func (c *Controller) SetLLM(llm config.LLMConfig) error {
	if llm.Model == "" {
		return fmt.Errorf("llmloop: empty model")
	}
	c.mu.Lock()
	c.llm = llm
	c.mu.Unlock()
	return nil
}

func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// runtime has no sandbox; closing it shuts the stream down.
type runtime struct {
	stream *Stream
}

func (r runtime) Close() error {
	r.stream.Close()
	return nil
}

// New returns an engine.Factory building llmloop instances.
func New(completer Completer) engine.Factory {
	return engine.FactoryFunc(func(ctx context.Context, req engine.BuildRequest) (*engine.Instance, error) {
		if req.LLM.Model == "" {
			return nil, fmt.Errorf("llmloop: no model configured")
		}
		stream := NewStream()
		ctrl := NewController(completer, stream, req.LLM, req.MaxIterations)
		slog.Debug("llmloop instance built", "session", req.SessionID, "agent", req.Agent, "model", req.LLM.Model)
		return &engine.Instance{
			Controller: ctrl,
			Stream:     stream,
			Runtime:    runtime{stream: stream},
		}, nil
	})
}
