package llmloop

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/engine"
	"github.com/nextlevelbuilder/ohbridge/internal/transcript"
)

func fakeCompletions(t *testing.T, reply string) (*httptest.Server, func() []chatRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			http.Error(w, "bad auth "+got, http.StatusUnauthorized)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + reply + `"},"finish_reason":"stop"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []chatRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]chatRequest(nil), reqs...)
	}
}

func TestHTTPCompleter_Complete(t *testing.T) {
	srv, reqs := fakeCompletions(t, "pong")
	c := NewHTTPCompleter(nil)

	got, err := c.Complete(context.Background(), config.LLMConfig{Model: "m", BaseURL: srv.URL, APIKey: "sk-test"},
		[]ChatMessage{userMessage("ping", []string{"http://x/a.png"})})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "pong" {
		t.Errorf("reply = %q", got)
	}
	sent := reqs()
	if len(sent) != 1 || sent[0].Model != "m" {
		t.Fatalf("requests = %+v", sent)
	}
	parts, ok := sent[0].Messages[0].Content.([]interface{})
	if !ok || len(parts) != 2 {
		t.Errorf("image message should have 2 parts, got %#v", sent[0].Messages[0].Content)
	}
}

func TestHTTPCompleter_ErrorStatus(t *testing.T) {
	srv, _ := fakeCompletions(t, "x")
	c := NewHTTPCompleter(nil)

	_, err := c.Complete(context.Background(), config.LLMConfig{Model: "m", BaseURL: srv.URL, APIKey: "wrong"}, nil)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want 401", err)
	}
}

func TestStream_DeliversInOrder(t *testing.T) {
	s := NewStream()
	defer s.Close()

	got := make(chan int64, 10)
	s.Subscribe(func(e engine.Event) { got <- e.ID })
	for i := 0; i < 5; i++ {
		s.AddEvent(engine.Event{Kind: engine.KindObservation}, engine.SourceAgent)
	}
	for want := int64(1); want <= 5; want++ {
		select {
		case id := <-got:
			if id != want {
				t.Fatalf("id = %d, want %d", id, want)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	s.Clear()
	if len(s.History()) != 0 {
		t.Error("history not cleared")
	}
}

type collector struct {
	mu   sync.Mutex
	outs []string
}

func (c *collector) OnOutput(_ transcript.Role, text string, _ []string) {
	c.mu.Lock()
	c.outs = append(c.outs, text)
	c.mu.Unlock()
}

func (c *collector) wait(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.outs) >= n {
			out := append([]string(nil), c.outs...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("waited for %d outputs", n)
	return nil
}

func TestLoop_EndToEnd(t *testing.T) {
	srv, reqs := fakeCompletions(t, "hello")
	catalog := config.NewCatalog(map[string]config.LLMConfig{
		config.DefaultLLMKey: {Model: "m", BaseURL: srv.URL, APIKey: "sk-test"},
	})
	col := &collector{}
	h := engine.NewHandle("e2e", New(NewHTTPCompleter(srv.Client())), catalog, engine.Options{
		StepInterval: time.Millisecond,
		Observer:     col,
	})
	defer h.Stop(context.Background())

	if !h.Start(context.Background(), "") {
		t.Fatal("start failed")
	}
	if err := h.SubmitInput(context.Background(), engine.Message{Content: "hi"}); err != nil {
		t.Fatalf("SubmitInput: %v", err)
	}

	outs := col.wait(t, 1)
	if outs[0] != "🤖 hello" {
		t.Errorf("output = %q", outs[0])
	}
	sent := reqs()
	if len(sent) != 1 {
		t.Fatalf("requests = %d", len(sent))
	}
	msgs := sent[0].Messages
	if msgs[0].Role != "system" || msgs[len(msgs)-1].Content != "hi" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestLoop_CompletionFailureReportsError(t *testing.T) {
	srv, _ := fakeCompletions(t, "x")
	catalog := config.NewCatalog(map[string]config.LLMConfig{
		config.DefaultLLMKey: {Model: "m", BaseURL: srv.URL, APIKey: "bad-key"},
	})
	col := &collector{}
	h := engine.NewHandle("err", New(NewHTTPCompleter(nil)), catalog, engine.Options{
		StepInterval: time.Millisecond,
		Observer:     col,
	})
	defer h.Stop(context.Background())

	h.Start(context.Background(), "")
	h.SubmitInput(context.Background(), engine.Message{Content: "hi"})

	outs := col.wait(t, 1)
	if outs[0] != engine.ErrorOccurredMessage {
		t.Errorf("output = %q, want error message", outs[0])
	}
	// the handle stays usable; the agent reported the failure in-band
	if !h.IsRunning() {
		t.Error("handle should still be running")
	}
}

func TestFactory_RequiresModel(t *testing.T) {
	_, err := New(NewHTTPCompleter(nil)).Build(context.Background(), engine.BuildRequest{})
	if err == nil {
		t.Error("expected error without model")
	}
}

func TestLoop_ClearResetsConversation(t *testing.T) {
	srv, reqs := fakeCompletions(t, "hello")
	catalog := config.NewCatalog(map[string]config.LLMConfig{
		config.DefaultLLMKey: {Model: "m", BaseURL: srv.URL, APIKey: "sk-test"},
	})
	col := &collector{}
	h := engine.NewHandle("clear", New(NewHTTPCompleter(srv.Client())), catalog, engine.Options{
		StepInterval: time.Millisecond,
		Observer:     col,
	})
	defer h.Stop(context.Background())

	if !h.Start(context.Background(), "") {
		t.Fatal("start failed")
	}
	if err := h.SubmitInput(context.Background(), engine.Message{Content: "secret-before-clear"}); err != nil {
		t.Fatalf("SubmitInput: %v", err)
	}
	col.wait(t, 1)

	if err := h.ClearHistory(); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if err := h.SubmitInput(context.Background(), engine.Message{Content: "after"}); err != nil {
		t.Fatalf("SubmitInput: %v", err)
	}
	col.wait(t, 2)

	sent := reqs()
	if len(sent) != 2 {
		t.Fatalf("requests = %d, want 2", len(sent))
	}
	msgs := sent[1].Messages
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Content != "after" {
		t.Errorf("messages after clear = %+v, want system prompt and the new turn", msgs)
	}
}

func TestStream_ClearRunsHooks(t *testing.T) {
	s := NewStream()
	defer s.Close()

	var calls int
	s.OnClear(func() { calls++ })
	s.Clear()
	s.Clear()
	if calls != 2 {
		t.Errorf("hook calls = %d, want 2", calls)
	}
}
