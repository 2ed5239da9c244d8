// Package engine wraps an external agent engine with a lifecycle state
// machine, model switching and output rendering.
package engine

import (
	"context"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
)

// Controller drives the agent. Step performs one unit of work and must
// return promptly when there is nothing to do.
type Controller interface {
	Step(ctx context.Context) error
	AgentState() AgentState
	SetAgentState(ctx context.Context, s AgentState) error
	SetLLM(llm config.LLMConfig) error
	Close(ctx context.Context) error
}

// EventStream is the engine's ordered event log. Subscribers are called
// serially in event order.
type EventStream interface {
	Subscribe(fn func(Event))
	AddEvent(e Event, source Source)
	Clear() error
}

// Runtime is the sandbox the agent executes in.
type Runtime interface {
	Close() error
}

// Instance is one constructed engine.
type Instance struct {
	Controller Controller
	Stream     EventStream
	Runtime    Runtime
}

// BuildRequest carries what a Factory needs to construct an instance.
type BuildRequest struct {
	SessionID     string
	Agent         string
	LLM           config.LLMConfig
	MaxIterations int
}

// Factory constructs engine instances.
type Factory interface {
	Build(ctx context.Context, req BuildRequest) (*Instance, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, req BuildRequest) (*Instance, error)

func (f FactoryFunc) Build(ctx context.Context, req BuildRequest) (*Instance, error) {
	return f(ctx, req)
}
