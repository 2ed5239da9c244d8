package engine

import "time"

// Kind is the closed set of engine event variants the handle knows how
// to render.
type Kind int

const (
	KindNull Kind = iota
	KindCommandAction
	KindCodeAction
	KindCommandOutput
	KindDelegateAction
	KindBrowseAction
	KindFinishAction
	KindGenericThought
	KindUserMessage
	KindAssistantMessage
	KindStateChanged
	KindObservation
	KindChangeState
)

var kindNames = map[Kind]string{
	KindNull:             "null",
	KindCommandAction:    "command_action",
	KindCodeAction:       "code_action",
	KindCommandOutput:    "command_output",
	KindDelegateAction:   "delegate_action",
	KindBrowseAction:     "browse_action",
	KindFinishAction:     "finish_action",
	KindGenericThought:   "thought",
	KindUserMessage:      "user_message",
	KindAssistantMessage: "assistant_message",
	KindStateChanged:     "state_changed",
	KindObservation:      "observation",
	KindChangeState:      "change_state",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Source identifies who added an event to the stream.
type Source string

const (
	SourceUser        Source = "user"
	SourceAgent       Source = "agent"
	SourceEnvironment Source = "environment"
)

// AgentState is the engine's own run state, distinct from the handle's
// lifecycle State.
type AgentState string

const (
	AgentLoading           AgentState = "loading"
	AgentInit              AgentState = "init"
	AgentRunning           AgentState = "running"
	AgentAwaitingUserInput AgentState = "awaiting_user_input"
	AgentPaused            AgentState = "paused"
	AgentStopped           AgentState = "stopped"
	AgentFinished          AgentState = "finished"
	AgentError             AgentState = "error"
)

// Interpreter names the runtime that produced a CommandOutput.
type Interpreter string

const (
	InterpreterBash    Interpreter = "bash"
	InterpreterIPython Interpreter = "ipython"
)

// Event is one engine event. Which fields are meaningful depends on Kind:
//
//	CommandAction, CodeAction   Thought, Body
//	CommandOutput               Interpreter, Content, Body (ipython code)
//	DelegateAction              Agent, Task
//	BrowseAction                BrowserActions
//	FinishAction, GenericThought Thought
//	UserMessage, AssistantMessage, Observation Content
//	StateChanged, ChangeState   State
type Event struct {
	ID             int64
	Kind           Kind
	Source         Source
	Thought        string
	Body           string
	Content        string
	Interpreter    Interpreter
	Agent          string
	Task           string
	BrowserActions string
	State          AgentState
	ImageURLs      []string
	Timestamp      time.Time
}

// Message is a user turn submitted to the engine.
type Message struct {
	Content   string
	ImageURLs []string
	Timestamp time.Time
}
