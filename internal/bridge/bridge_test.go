package bridge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/engine"
	"github.com/nextlevelbuilder/ohbridge/internal/engine/enginetest"
	"github.com/nextlevelbuilder/ohbridge/internal/transcript"
	"github.com/nextlevelbuilder/ohbridge/pkg/protocol"
)

type fakeChannel struct {
	id   string
	fail bool

	mu     sync.Mutex
	frames []*protocol.EventFrame
	closed bool
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Send(f *protocol.EventFrame) error {
	if c.fail {
		return errors.New("broken pipe")
	}
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) events(name string) []*protocol.EventFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.EventFrame
	for _, f := range c.frames {
		if f.Event == name {
			out = append(out, f)
		}
	}
	return out
}

func TestRegistry_SetSemantics(t *testing.T) {
	r := NewRegistry()
	a := &fakeChannel{id: "a"}

	r.Register(a)
	r.Register(a)
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
	r.Unregister(a)
	r.Unregister(a)
	if r.Len() != 0 {
		t.Errorf("len = %d, want 0", r.Len())
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeChannel{id: "a"}, &fakeChannel{id: "b"}
	r.Register(a)
	r.Register(b)

	r.CloseAll()
	if r.Len() != 0 {
		t.Errorf("len = %d, want 0", r.Len())
	}
	if !a.isClosed() || !b.isClosed() {
		t.Error("channels not closed")
	}
	if n := r.Broadcast(protocol.NewEvent(protocol.EventChatCleared, nil)); n != 0 {
		t.Errorf("delivered = %d after CloseAll", n)
	}
}

func TestRegistry_BroadcastDropsFailingChannel(t *testing.T) {
	r := NewRegistry()
	chans := []*fakeChannel{{id: "1"}, {id: "2", fail: true}, {id: "3"}}
	for _, c := range chans {
		r.Register(c)
	}

	if n := r.Broadcast(protocol.NewEvent("x", nil)); n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	if r.Len() != 2 {
		t.Errorf("len = %d, want failing channel removed", r.Len())
	}
	for _, c := range []*fakeChannel{chans[0], chans[2]} {
		if len(c.events("x")) != 1 {
			t.Errorf("channel %s got %d frames", c.id, len(c.events("x")))
		}
	}

	r.Broadcast(protocol.NewEvent("y", nil))
	if len(chans[0].events("y")) != 1 {
		t.Error("healthy channel should keep receiving")
	}
}

func newSession(t *testing.T, f *enginetest.Factory) *Session {
	t.Helper()
	s := NewSession(Options{
		ID:      "test",
		Factory: f,
		Catalog: enginetest.Catalog(),
		Engine:  config.EngineConfig{StepIntervalMs: 1, StopGraceMs: 1000, SubmitTimeoutMs: 1000},
	})
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestSession_MessageWhenStopped(t *testing.T) {
	s := newSession(t, &enginetest.Factory{})
	ch := &fakeChannel{id: "c"}
	s.Attach(ch)

	if got := s.HandleUserMessage(context.Background(), "hi", nil, time.Time{}); got != MsgBackendNotStarted {
		t.Errorf("response = %q", got)
	}
	if len(s.History()) != 0 {
		t.Errorf("transcript changed: %+v", s.History())
	}
	if len(ch.events(protocol.EventChatEntry)) != 0 {
		t.Error("nothing should be broadcast")
	}
}

func TestSession_MessageRoundTrip(t *testing.T) {
	f := &enginetest.Factory{}
	s := newSession(t, f)
	if !s.Start(context.Background()) {
		t.Fatal("start failed")
	}
	ch := &fakeChannel{id: "c"}
	s.Attach(ch)
	before := len(s.History())

	if got := s.HandleUserMessage(context.Background(), "hi", []string{"a.png"}, time.Time{}); got != "" {
		t.Fatalf("response = %q", got)
	}
	f.Last().Stream.Emit(engine.Event{Kind: engine.KindAssistantMessage, Content: "hello"})

	added := s.History()[before:]
	if len(added) != 2 {
		t.Fatalf("new entries = %+v", added)
	}
	if added[0].Role != transcript.RoleUser || added[0].Content != "hi" || len(added[0].Attachments) != 1 {
		t.Errorf("user entry = %+v", added[0])
	}
	if added[1].Role != transcript.RoleAssistant || added[1].Content != "🤖 hello" {
		t.Errorf("assistant entry = %+v", added[1])
	}

	frames := ch.events(protocol.EventChatEntry)
	if len(frames) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(frames))
	}
	if frames[1].Seq <= frames[0].Seq {
		t.Errorf("seq not increasing: %d, %d", frames[0].Seq, frames[1].Seq)
	}
	if e := frames[0].Payload.(transcript.Entry); e.ID != added[0].ID {
		t.Errorf("broadcast id = %q, want %q", e.ID, added[0].ID)
	}
}

func TestSession_SubmitTimeout(t *testing.T) {
	f := &enginetest.Factory{}
	s := NewSession(Options{
		Factory: f,
		Catalog: enginetest.Catalog(),
		Engine:  config.EngineConfig{StepIntervalMs: 1, StopGraceMs: 1000, SubmitTimeoutMs: 20},
	})
	defer s.Close(context.Background())
	s.Start(context.Background())

	block := make(chan struct{})
	defer close(block)
	f.Last().Controller.SetStateBlock = block

	if got := s.HandleUserMessage(context.Background(), "slow", nil, time.Time{}); got != MsgRequestTimeout {
		t.Errorf("response = %q, want timeout message", got)
	}
	h := s.History()
	if last := h[len(h)-1]; last.Role != transcript.RoleSystem || last.Content != MsgRequestTimeout {
		t.Errorf("last entry = %+v", last)
	}
}

func TestSession_StartEntries(t *testing.T) {
	s := newSession(t, &enginetest.Factory{})
	s.Start(context.Background())

	h := s.History()
	if len(h) != 2 {
		t.Fatalf("history = %+v", h)
	}
	if h[0].Content != "Starting backend with model (Default), please wait..." {
		t.Errorf("first = %q", h[0].Content)
	}
	if h[1].Content != "Backend started successfully with model `(Default)`!" {
		t.Errorf("second = %q", h[1].Content)
	}

	// already running: no new entries
	s.Start(context.Background())
	if len(s.History()) != 2 {
		t.Error("Start while running should not add entries")
	}
}

func TestSession_RejectedStartAddsNoEntries(t *testing.T) {
	f := &enginetest.Factory{Block: make(chan struct{}), Entered: make(chan struct{}, 1)}
	s := newSession(t, f)
	ch := &fakeChannel{id: "c"}
	s.Attach(ch)

	first := make(chan bool)
	go func() { first <- s.Start(context.Background()) }()
	<-f.Entered

	before := len(s.History())
	frames := len(ch.events(protocol.EventChatEntry))
	if s.Start(context.Background()) {
		t.Error("concurrent start should be rejected")
	}
	if s.Restart(context.Background()) {
		t.Error("concurrent restart should be rejected")
	}
	if got := len(s.History()); got != before {
		t.Errorf("rejected starts added %d entries: %+v", got-before, s.History())
	}
	if got := len(ch.events(protocol.EventChatEntry)); got != frames {
		t.Errorf("rejected starts broadcast %d entries", got-frames)
	}

	close(f.Block)
	if !<-first {
		t.Fatal("first start failed")
	}
	h := s.History()
	if len(h) != 2 || h[1].Content != "Backend started successfully with model `(Default)`!" {
		t.Errorf("history = %+v", h)
	}
}

func TestSession_RestartBroadcastsStopped(t *testing.T) {
	s := newSession(t, &enginetest.Factory{})
	ch := &fakeChannel{id: "c"}
	s.Attach(ch)
	s.Start(context.Background())
	s.Restart(context.Background())

	var states []string
	for _, f := range ch.events(protocol.EventBackendStatus) {
		states = append(states, f.Payload.(protocol.BackendStatusPayload).State)
	}
	want := []string{"starting", "running", "stopped", "starting", "running"}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("status states = %v, want %v", states, want)
	}
}

func TestSession_StartFailureAndNoModels(t *testing.T) {
	s := newSession(t, &enginetest.Factory{Err: enginetest.ErrBuild})
	if s.Start(context.Background()) {
		t.Fatal("start should fail")
	}
	h := s.History()
	if h[len(h)-1].Content != MsgStartFailed {
		t.Errorf("last = %q", h[len(h)-1].Content)
	}
	if s.Status().State != engine.StateError {
		t.Errorf("state = %v", s.Status().State)
	}

	empty := NewSession(Options{Factory: &enginetest.Factory{}, Catalog: config.NewCatalog(nil)})
	if empty.Start(context.Background()) {
		t.Fatal("start without models should fail")
	}
	if h := empty.History(); len(h) != 1 || h[0].Content != MsgNoModels || h[0].Role != transcript.RoleSystem {
		t.Errorf("history = %+v", h)
	}
}

func TestSession_StatusBroadcast(t *testing.T) {
	s := newSession(t, &enginetest.Factory{})
	ch := &fakeChannel{id: "c"}
	s.Attach(ch)
	s.Start(context.Background())

	frames := ch.events(protocol.EventBackendStatus)
	if len(frames) != 2 {
		t.Fatalf("status frames = %d, want 2", len(frames))
	}
	last := frames[1].Payload.(protocol.BackendStatusPayload)
	if !last.IsRunning || last.State != "running" || last.Model != "default-model" {
		t.Errorf("status = %+v", last)
	}
}

func TestSession_ClearBroadcastsAndClearsEngine(t *testing.T) {
	f := &enginetest.Factory{}
	s := newSession(t, f)
	s.Start(context.Background())
	ch := &fakeChannel{id: "c"}
	s.Attach(ch)

	s.Clear()
	if len(s.History()) != 0 {
		t.Error("transcript not cleared")
	}
	if f.Last().Stream.Cleared() != 1 {
		t.Error("engine history not cleared")
	}
	if len(ch.events(protocol.EventChatCleared)) != 1 {
		t.Error("cleared frame not broadcast")
	}

	// engine clear failure is tolerated
	f.Last().Stream.ClearErr = errors.New("nope")
	s.Clear()

	// late events after a clear are still appended, in the new generation
	f.Last().Stream.Emit(engine.Event{Kind: engine.KindAssistantMessage, Content: "late"})
	h := s.History()
	if len(h) != 1 || h[0].Generation != s.Generation() {
		t.Errorf("history = %+v", h)
	}
}

func TestSession_DeleteImage(t *testing.T) {
	f := &enginetest.Factory{}
	s := newSession(t, f)
	s.Start(context.Background())
	s.HandleUserMessage(context.Background(), "look", []string{"a", "b"}, time.Time{})
	h := s.History()
	id := h[len(h)-1].ID

	ch := &fakeChannel{id: "c"}
	s.Attach(ch)

	if !s.DeleteImage(id, 0) {
		t.Fatal("delete failed")
	}
	frames := ch.events(protocol.EventChatEntry)
	if len(frames) != 1 {
		t.Fatalf("broadcasts = %d", len(frames))
	}
	if e := frames[0].Payload.(transcript.Entry); len(e.Attachments) != 1 || e.Attachments[0] != "b" {
		t.Errorf("broadcast attachments = %v", e.Attachments)
	}
	if s.DeleteImage(id, 5) || s.DeleteImage("missing", 0) {
		t.Error("invalid delete should fail")
	}
}

func TestSession_SwitchAndSelectModel(t *testing.T) {
	f := &enginetest.Factory{}
	s := newSession(t, f)

	if s.SwitchModel("fast") {
		t.Error("switch while stopped should fail")
	}

	s.SelectModel("smart")
	s.Start(context.Background())
	if s.Status().Model != "smart-model" {
		t.Errorf("model = %q, want selected model used on start", s.Status().Model)
	}

	if !s.SwitchModel("fast") {
		t.Fatal("switch failed")
	}
	if s.SelectedModel() != "fast" {
		t.Errorf("selected = %q", s.SelectedModel())
	}
	s.Restart(context.Background())
	if s.Status().Model != "fast-model" {
		t.Errorf("restart model = %q, want fast-model", s.Status().Model)
	}
	if s.SwitchModel("nope") {
		t.Error("unknown model should fail")
	}
}

func TestSession_Cancel(t *testing.T) {
	s := newSession(t, &enginetest.Factory{})
	if got := s.Cancel(); got != MsgBackendNotStarted {
		t.Errorf("Cancel() = %q", got)
	}
	s.Start(context.Background())
	if got := s.Cancel(); got != engine.CancelledMessage {
		t.Errorf("Cancel() = %q", got)
	}
	h := s.History()
	if h[len(h)-1].Content != engine.CancelledMessage {
		t.Errorf("last entry = %q", h[len(h)-1].Content)
	}
}

func TestSession_AvailableModelsCached(t *testing.T) {
	s := newSession(t, &enginetest.Factory{})
	models, def := s.AvailableModels()
	if def != config.DefaultModelLabel || len(models) != 3 || models[0] != config.DefaultModelLabel {
		t.Errorf("available = %v, %q", models, def)
	}

	s.SetCatalog(config.NewCatalog(map[string]config.LLMConfig{"only": {Model: "o"}}))
	models, def = s.AvailableModels()
	if len(models) != 1 || models[0] != "only" || def != "" {
		t.Errorf("after reload = %v, %q", models, def)
	}
}

func TestSession_WelcomeAndArchive(t *testing.T) {
	db, err := transcript.OpenSQLite(filepath.Join(t.TempDir(), "t.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()

	opts := Options{
		ID:      "persist",
		Factory: &enginetest.Factory{},
		Catalog: enginetest.Catalog(),
		Archive: db.Archive("persist"),
		Welcome: "Welcome!",
	}
	first := NewSession(opts)
	first.OnOutput(transcript.RoleAssistant, "kept", nil)

	second := NewSession(opts)
	h := second.History()
	if len(h) != 2 || h[0].Content != "Welcome!" || h[1].Content != "kept" {
		t.Errorf("restored = %+v", h)
	}
}

func TestFormatError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{engine.ErrBackendNotStarted, MsgBackendNotStarted},
		{fmt.Errorf("%w: deadline", engine.ErrRequestTimeout), MsgRequestTimeout},
		{errors.New("HTTP 429 Too Many Requests"), "⚠️ API rate limit reached. Please try again later."},
		{errors.New("401 unauthorized"), "⚠️ Authentication error. Please check your API key configuration."},
		{errors.New("weird"), "⚠️ Sorry, something went wrong processing your message. Please try again."},
	}
	for _, tt := range tests {
		if got := formatError(tt.err); got != tt.want {
			t.Errorf("formatError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestManager_GetOrCreateAndEvict(t *testing.T) {
	m := NewManager(ManagerOptions{
		MaxSessions: 2,
		Factory:     &enginetest.Factory{},
		Catalog:     enginetest.Catalog(),
		Engine:      config.EngineConfig{StepIntervalMs: 1, StopGraceMs: 100},
	})
	defer m.Close(context.Background())

	a := m.GetOrCreate("a")
	if m.GetOrCreate("a") != a {
		t.Error("same id should return same session")
	}
	if got := m.GetOrCreate(""); got.ID() != config.DefaultSessionID {
		t.Errorf("empty id = %q", got.ID())
	}

	ch := &fakeChannel{id: "watcher"}
	a.Attach(ch)
	a.Start(context.Background())
	m.GetOrCreate("b")
	m.GetOrCreate("c")

	if _, ok := m.Get("a"); ok {
		t.Error("least recently used session should be evicted")
	}
	if m.Len() != 2 {
		t.Errorf("len = %d, want 2", m.Len())
	}

	deadline := time.Now().Add(2 * time.Second)
	for (a.IsRunning() || !ch.isClosed()) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a.IsRunning() {
		t.Error("evicted session engine should be stopped")
	}
	if !ch.isClosed() || a.Channels() != 0 {
		t.Error("evicted session channels should be closed and detached")
	}
}

func TestManager_SetCatalog(t *testing.T) {
	m := NewManager(ManagerOptions{Factory: &enginetest.Factory{}, Catalog: enginetest.Catalog()})
	s := m.GetOrCreate("x")

	m.SetCatalog(config.NewCatalog(map[string]config.LLMConfig{config.DefaultLLMKey: {Model: "new"}}))
	if models, _ := s.Models(); len(models) != 1 {
		t.Errorf("existing session models = %v", models)
	}
	if models, _ := m.GetOrCreate("y").Models(); len(models) != 1 {
		t.Errorf("new session models = %v", models)
	}
}
