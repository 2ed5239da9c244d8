// Package enginetest provides an in-memory engine for tests.
package enginetest

import (
	"context"
	"errors"
	"sync"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/engine"
)

// Stream is a synchronous EventStream: AddEvent records the event and
// calls subscribers before returning.
type Stream struct {
	mu      sync.Mutex
	subs    []func(engine.Event)
	events  []engine.Event
	cleared int
	nextID  int64

	// ClearErr is returned by Clear when set.
	ClearErr error
}

func (s *Stream) Subscribe(fn func(engine.Event)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *Stream) AddEvent(e engine.Event, source engine.Source) {
	s.mu.Lock()
	s.nextID++
	e.ID = s.nextID
	e.Source = source
	s.events = append(s.events, e)
	subs := append([]func(engine.Event){}, s.subs...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}

// Emit pushes an agent-side event.
func (s *Stream) Emit(e engine.Event) {
	src := e.Source
	if src == "" {
		src = engine.SourceAgent
	}
	s.AddEvent(e, src)
}

func (s *Stream) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClearErr != nil {
		return s.ClearErr
	}
	s.events = nil
	s.cleared++
	return nil
}

// Events returns a copy of every recorded event.
func (s *Stream) Events() []engine.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.Event(nil), s.events...)
}

// Cleared returns how many times Clear succeeded.
func (s *Stream) Cleared() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

// Controller records calls and lets tests inject step failures.
type Controller struct {
	mu      sync.Mutex
	state   engine.AgentState
	llm     config.LLMConfig
	steps   int
	closed  bool
	stepErr error

	// stepBlock, when non-nil, holds every Step until closed, ignoring ctx.
	stepBlock chan struct{}

	// SetStateBlock, when non-nil, blocks SetAgentState until closed.
	SetStateBlock chan struct{}
	SetLLMErr     error
}

func (c *Controller) Step(ctx context.Context) error {
	c.mu.Lock()
	c.steps++
	err, block := c.stepErr, c.stepBlock
	c.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

// FailSteps makes every following Step return err.
func (c *Controller) FailSteps(err error) {
	c.mu.Lock()
	c.stepErr = err
	c.mu.Unlock()
}

func (c *Controller) AgentState() engine.AgentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SetAgentState(ctx context.Context, s engine.AgentState) error {
	if c.SetStateBlock != nil {
		select {
		case <-c.SetStateBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	return nil
}

func (c *Controller) SetLLM(llm config.LLMConfig) error {
	if c.SetLLMErr != nil {
		return c.SetLLMErr
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

// LLM returns the configuration last set.
func (c *Controller) LLM() config.LLMConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.llm
}

// Steps returns how many times Step ran.
func (c *Controller) Steps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steps
}

// Closed reports whether Close was called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Runtime counts Close calls.
type Runtime struct {
	mu     sync.Mutex
	closes int
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	r.closes++
	r.mu.Unlock()
	return nil
}

// Closes returns how many times Close was called.
func (r *Runtime) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

// Instance groups the fakes behind one engine.Instance.
type Instance struct {
	Controller *Controller
	Stream     *Stream
	Runtime    *Runtime
	Request    engine.BuildRequest
}

// Engine returns the engine.Instance view.
func (i *Instance) Engine() *engine.Instance {
	return &engine.Instance{Controller: i.Controller, Stream: i.Stream, Runtime: i.Runtime}
}

// ErrBuild is the default failure of a failing Factory.
var ErrBuild = errors.New("fake build failure")

// Factory builds fake instances and remembers every one of them.
type Factory struct {
	mu        sync.Mutex
	instances []*Instance

	// Err, when set, fails every Build.
	Err error
	// Block, when non-nil, makes Build wait until it is closed.
	Block chan struct{}
	// Entered receives a value each time Build starts, if non-nil.
	Entered chan struct{}
	// StepBlock is handed to every built Controller: Step waits on it
	// without watching its context.
	StepBlock chan struct{}
}

func (f *Factory) Build(ctx context.Context, req engine.BuildRequest) (*engine.Instance, error) {
	if f.Entered != nil {
		f.Entered <- struct{}{}
	}
	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	inst := &Instance{
		Controller: &Controller{state: engine.AgentInit, llm: req.LLM, stepBlock: f.StepBlock},
		Stream:     &Stream{},
		Runtime:    &Runtime{},
		Request:    req,
	}
	f.instances = append(f.instances, inst)
	return inst.Engine(), nil
}

// Last returns the most recently built instance, or nil.
func (f *Factory) Last() *Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.instances) == 0 {
		return nil
	}
	return f.instances[len(f.instances)-1]
}

// Builds returns how many instances were built.
func (f *Factory) Builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

// Catalog returns a catalog with a default entry and two named models.
func Catalog() *config.Catalog {
	return config.NewCatalog(map[string]config.LLMConfig{
		config.DefaultLLMKey: {Model: "default-model"},
		"fast":               {Model: "fast-model"},
		"smart":              {Model: "smart-model"},
	})
}
