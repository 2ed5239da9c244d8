package llmloop

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/ohbridge/internal/engine"
)

// Stream is an in-memory event stream. Events are delivered to
// subscribers by a single dispatcher goroutine, in AddEvent order.
type Stream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	subs   []func(engine.Event)
	resets []func()
	queue  []engine.Event
	events []engine.Event
	nextID int64
	closed bool
	done   chan struct{}
}

// NewStream creates a stream and starts its dispatcher.
func NewStream() *Stream {
	s := &Stream{done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.dispatch()
	return s
}

func (s *Stream) Subscribe(fn func(engine.Event)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *Stream) AddEvent(e engine.Event, source engine.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.nextID++
	e.ID = s.nextID
	e.Source = source
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.events = append(s.events, e)
	s.queue = append(s.queue, e)
	s.cond.Signal()
}

// OnClear registers fn to run after every Clear.
func (s *Stream) OnClear(fn func()) {
	s.mu.Lock()
	s.resets = append(s.resets, fn)
	s.mu.Unlock()
}

// Clear drops the recorded history and runs the OnClear hooks.
// Queued deliveries still happen.
func (s *Stream) Clear() error {
	s.mu.Lock()
	s.events = nil
	resets := append([]func(){}, s.resets...)
	s.mu.Unlock()

	for _, fn := range resets {
		fn()
	}
	return nil
}

// History returns a copy of the recorded events.
func (s *Stream) History() []engine.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.Event(nil), s.events...)
}

// Close stops the dispatcher after the queue drains.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

func (s *Stream) dispatch() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		subs := append([]func(engine.Event){}, s.subs...)
		s.mu.Unlock()

		for _, fn := range subs {
			fn(e)
		}
	}
}
